package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sonet-social/messaging/keyexchange"
)

func keygenCmd() *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an identity keypair and store it encrypted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
				return err
			}

			store, err := keyexchange.NewIdentityStore(cfg.DataDir, []byte(passphrase))
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.Load(userID); err == nil {
				return fmt.Errorf("identity for %s already exists", userID)
			}

			identity, err := keyexchange.GenerateIdentity(userID)
			if err != nil {
				return err
			}
			defer identity.Wipe()

			if err := store.Save(identity); err != nil {
				return err
			}
			fmt.Printf("Generated identity for %s\n", userID)
			fmt.Printf("Public key: %s\n", hex.EncodeToString(identity.KeyPair.Public[:]))

			if publish {
				directory := keyexchange.NewDirectoryClient(cfg.KeyDirectory.BaseURL, cfg.KeyDirectory.Timeout)
				if err := directory.PublishPublicKey(context.Background(), identity); err != nil {
					return err
				}
				fmt.Println("Published public key to the key directory")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", false, "publish the public key to the key directory")
	return cmd
}
