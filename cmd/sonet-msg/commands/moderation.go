package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sonet-social/messaging/abuse"
)

func moderationCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "moderation-api",
		Short: "Serve the read-only moderation surface for rate limit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			guard := abuse.NewGuard(cfg.Abuse, nil)

			server := &http.Server{
				Addr:              listen,
				Handler:           abuse.ModerationHandler(guard),
				ReadHeaderTimeout: 5 * time.Second,
			}
			fmt.Printf("Moderation API listening on %s\n", listen)
			return server.ListenAndServe()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8466", "listen address")
	return cmd
}
