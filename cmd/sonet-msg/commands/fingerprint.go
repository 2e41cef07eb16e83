package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/sonet-social/messaging/crypto"
	"github.com/sonet-social/messaging/keyexchange"
)

func fingerprintCmd() *cobra.Command {
	var conversationID, peerID string
	var qr bool

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the identity public key, or a session fingerprint to compare with a peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}

			store, err := keyexchange.NewIdentityStore(cfg.DataDir, []byte(passphrase))
			if err != nil {
				return err
			}
			defer store.Close()

			identity, err := store.Load(userID)
			if err != nil {
				return err
			}
			defer identity.Wipe()

			if conversationID == "" {
				pub := hex.EncodeToString(identity.KeyPair.Public[:])
				fmt.Printf("Public key: %s\n", pub)
				if qr {
					renderQR(pub)
				}
				return nil
			}

			if peerID == "" {
				return fmt.Errorf("--peer is required with --conversation")
			}
			directory := keyexchange.NewDirectoryClient(cfg.KeyDirectory.BaseURL, cfg.KeyDirectory.Timeout)
			peerPK, err := directory.FetchPeerPublicKey(context.Background(), peerID)
			if err != nil {
				return err
			}

			kx := keyexchange.NewService(nil, cfg.Session.Lifetime, cfg.Session.MaxMessages)
			session, err := kx.DeriveSession(conversationID, identity, peerPK, 0)
			if err != nil {
				return err
			}
			defer session.Wipe()

			fp := crypto.SessionFingerprint(session.Key, conversationID)
			fmt.Printf("Session fingerprint: %s\n", fp)
			fmt.Println("Compare this with the peer's fingerprint out of band; a mismatch means the conversation is not secure.")
			if qr {
				renderQR(fp.String())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation ID for a session fingerprint")
	cmd.Flags().StringVar(&peerID, "peer", "", "peer user ID")
	cmd.Flags().BoolVar(&qr, "qr", false, "render as a QR code")
	return cmd
}

func renderQR(value string) {
	fmt.Println()
	qrterminal.GenerateWithConfig(value, qrterminal.Config{
		Level:     qrterminal.L,
		Writer:    os.Stdout,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
	})
	fmt.Println()
}
