package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sonet-social/messaging/limits"
)

// Nonce is the 24-byte XChaCha20-Poly1305 nonce attached to every message.
type Nonce [24]byte

// GenerateNonce creates a cryptographically secure random nonce. Nonces are
// random per message and never reused for a given session key.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// Encrypt encrypts a plaintext under the session key using authenticated
// encryption. The conversation ID is bound as associated data so a ciphertext
// cannot be replayed into another conversation. Usage is counted against the
// session's rotation threshold.
func Encrypt(session *Session, plaintext []byte) ([]byte, Nonce, error) {
	if session == nil {
		return nil, Nonce{}, ErrNoSession
	}
	if err := limits.ValidatePlaintextMessage(plaintext); err != nil {
		return nil, Nonce{}, err
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, Nonce{}, err
	}

	aead, err := chacha20poly1305.NewX(session.Key[:])
	if err != nil {
		return nil, Nonce{}, fmt.Errorf("failed to create cipher: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce[:], plaintext, []byte(session.ConversationID))
	session.IncrementUsage()

	return ciphertext, nonce, nil
}

// Decrypt decrypts a ciphertext under the session key. A failed tag check
// returns ErrAuthenticationFailure; the caller must treat the message as
// tampered and drop it.
func Decrypt(session *Session, ciphertext []byte, nonce Nonce) ([]byte, error) {
	if session == nil {
		return nil, ErrNoSession
	}
	if err := limits.ValidateCiphertextMessage(ciphertext); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(session.Key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce[:], ciphertext, []byte(session.ConversationID))
	if err != nil {
		return nil, ErrAuthenticationFailure
	}

	return plaintext, nil
}
