package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	messaging "github.com/sonet-social/messaging"
	"github.com/sonet-social/messaging/abuse"
)

func sendCmd() *cobra.Command {
	var conversationID, peerID string
	var anonymous bool
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send an encrypted message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			if conversationID == "" || peerID == "" {
				return fmt.Errorf("--conversation and --peer are required")
			}

			client, err := messaging.NewClient(cfg, userID, []byte(passphrase), token)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()
			if err := client.Start(ctx); err != nil {
				return err
			}
			client.Coordinator().RegisterConversation(conversationID, peerID)

			id, err := client.Coordinator().Send(ctx, conversationID, []byte(strings.Join(args, " ")), anonymous)
			if errors.Is(err, abuse.ErrRateLimited) {
				return fmt.Errorf("anonymous sending is rate limited: %w", err)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Message %s accepted (delivered or queued)\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation ID")
	cmd.Flags().StringVar(&peerID, "peer", "", "peer user ID")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "send as a ghost identity")
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "how long to wait for the transport")
	return cmd
}
