package keyexchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sonet-social/messaging/crypto"
)

var (
	// ErrPeerKeyUnavailable indicates the peer has never published a public
	// key to the directory.
	ErrPeerKeyUnavailable = errors.New("peer public key unavailable")

	// ErrKeyVerificationMismatch indicates the two parties derived different
	// session fingerprints, signalling a man-in-the-middle or stale key.
	// Callers surface this; there is no plaintext fallback.
	ErrKeyVerificationMismatch = errors.New("session key fingerprint mismatch")
)

// Identity is a user's long-term asymmetric keypair. It is created once at
// first use and rotated only on explicit user action such as a device reset.
type Identity struct {
	UserID    string
	KeyPair   *crypto.KeyPair
	CreatedAt time.Time
}

// GenerateIdentity creates a fresh identity for a user. The private key never
// leaves the owning device; only the public half is ever published.
func GenerateIdentity(userID string) (*Identity, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity keypair: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "GenerateIdentity",
		"user_id":  userID,
	}).Info("Generated new identity keypair")

	return &Identity{
		UserID:    userID,
		KeyPair:   keyPair,
		CreatedAt: time.Now(),
	}, nil
}

// Wipe erases the identity's private key material.
func (id *Identity) Wipe() {
	if id != nil && id.KeyPair != nil {
		_ = crypto.WipeKeyPair(id.KeyPair)
	}
}
