package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sonet-social/messaging/queue"
)

func queueCmd() *cobra.Command {
	var conversationID, retryID, cancelID string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline queue, retry or cancel entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := queue.Open(filepath.Join(cfg.DataDir, cfg.Queue.Path), cfg.Queue, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()

			if retryID != "" {
				if err := store.Retry(ctx, retryID); err != nil {
					return err
				}
				fmt.Printf("Entry %s rescheduled\n", retryID)
				return nil
			}
			if cancelID != "" {
				if err := store.Cancel(ctx, cancelID); err != nil {
					return err
				}
				fmt.Printf("Entry %s cancelled\n", cancelID)
				return nil
			}

			conversations := []string{conversationID}
			if conversationID == "" {
				conversations, err = store.Conversations(ctx)
				if err != nil {
					return err
				}
			}
			if len(conversations) == 0 {
				fmt.Println("Queue is empty")
				return nil
			}

			for _, conv := range conversations {
				entries, err := store.ListPending(ctx, conv)
				if err != nil {
					return err
				}
				fmt.Printf("%s:\n", conv)
				for _, e := range entries {
					fmt.Printf("  %s  attempts=%d  next_retry=%s\n",
						e.MessageID, e.AttemptCount, e.NextRetryAt.Format("15:04:05"))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "limit to one conversation")
	cmd.Flags().StringVar(&retryID, "retry", "", "reset a failed entry by message ID")
	cmd.Flags().StringVar(&cancelID, "cancel", "", "cancel a pending entry by message ID")
	return cmd
}
