package crypto

import "errors"

var (
	// ErrAuthenticationFailure indicates an AEAD tag did not verify during
	// decryption. The message is treated as tampered or corrupted.
	ErrAuthenticationFailure = errors.New("authentication failure: ciphertext tag did not verify")

	// ErrUnknownEpoch indicates a message referenced a session epoch that is
	// neither active nor retained. The caller should request a re-key.
	ErrUnknownEpoch = errors.New("unknown session epoch")

	// ErrSessionExpired indicates the session has passed its expiry and must
	// be rotated before further use.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoSession indicates no session exists yet for the conversation.
	ErrNoSession = errors.New("no session for conversation")

	// ErrStaleEpoch indicates an attempt to install a session for an epoch
	// older than the active one. Epochs only move forward.
	ErrStaleEpoch = errors.New("session epoch older than active epoch")
)
