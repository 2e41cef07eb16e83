// Package commands implements the sonet-msg CLI.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sonet-social/messaging/config"
	"github.com/sonet-social/messaging/logutil"
)

var (
	configPath string
	dataDir    string
	userID     string
	passphrase string
	token      string

	cfg config.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:           "sonet-msg",
		Short:         "Sonet end-to-end encrypted messaging client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if cfg.DataDir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				cfg.DataDir = filepath.Join(home, ".sonet-msg")
			}
			logutil.Setup(cfg.Logging)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.sonet-msg)")
	root.PersistentFlags().StringVarP(&userID, "user", "u", "", "local user ID")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity store")
	root.PersistentFlags().StringVar(&token, "token", "", "gateway bearer token")

	root.AddCommand(keygenCmd(), fingerprintCmd(), sendCmd(), recvCmd(), queueCmd(), moderationCmd())
	return root.Execute()
}

func requireUser() error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}
