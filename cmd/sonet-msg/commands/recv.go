package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	messaging "github.com/sonet-social/messaging"
	"github.com/sonet-social/messaging/transport"
)

func recvCmd() *cobra.Command {
	var conversationID, peerID string

	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Connect and print decrypted messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			if conversationID == "" || peerID == "" {
				return fmt.Errorf("--conversation and --peer are required")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			client, err := messaging.NewClient(cfg, userID, []byte(passphrase), token)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Start(ctx); err != nil {
				return err
			}
			client.Coordinator().RegisterConversation(conversationID, peerID)

			fmt.Println("Listening; press Ctrl-C to stop.")
			for {
				select {
				case <-ctx.Done():
					return nil
				case in := <-client.Coordinator().Messages():
					switch in.Kind {
					case transport.FrameMessage:
						sender := in.SenderID
						if sender == "" {
							sender = in.GhostHandle + " (ghost)"
						}
						fmt.Printf("[%s] %s: %s\n",
							in.ReceivedAt.Format("15:04:05"), sender, in.Plaintext)
					case transport.FrameTyping:
						fmt.Printf("%s is typing...\n", in.SenderID)
					case transport.FrameReadReceipt:
						fmt.Printf("%s read your messages\n", in.SenderID)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation ID")
	cmd.Flags().StringVar(&peerID, "peer", "", "peer user ID")
	return cmd
}
