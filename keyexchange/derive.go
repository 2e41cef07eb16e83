package keyexchange

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/sonet-social/messaging/crypto"
)

// sessionInfoLabel versions the derivation so a future scheme change cannot
// collide with keys derived under this one.
const sessionInfoLabel = "sonet-session-v1"

// Service derives per-conversation sessions and verifies their fingerprints.
// It owns no network state; the directory client supplies peer keys.
type Service struct {
	clock       crypto.TimeProvider
	lifetime    time.Duration
	maxMessages uint32
}

// NewService creates a derivation service. clock may be nil for wall-clock
// time; a lifetime or maxMessages of 0 keeps the crypto package default for
// that rotation bound.
func NewService(clock crypto.TimeProvider, lifetime time.Duration, maxMessages uint32) *Service {
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}
	return &Service{clock: clock, lifetime: lifetime, maxMessages: maxMessages}
}

// DeriveSession computes the session key for a conversation epoch from an
// X25519 agreement between the local private key and the peer public key,
// expanded with HKDF-SHA256. The info string binds both public keys (sorted,
// so both sides agree), the conversation ID, and the epoch; two parties
// independently derive the identical key without it ever being transmitted.
func (s *Service) DeriveSession(conversationID string, local *Identity, peerPK [32]byte, epoch uint64) (*crypto.Session, error) {
	if local == nil || local.KeyPair == nil {
		return nil, fmt.Errorf("local identity missing")
	}

	shared, err := curve25519.X25519(local.KeyPair.Private[:], peerPK[:])
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	defer crypto.ZeroBytes(shared)

	salt := sha256.Sum256([]byte("sonet-conv-salt:" + conversationID))
	info := derivationInfo(local.KeyPair.Public, peerPK, conversationID, epoch)

	var key [32]byte
	kdf := hkdf.New(sha256.New, shared, salt[:], info)
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	session := crypto.NewSession(conversationID, key, epoch, s.clock.Now())
	if s.lifetime > 0 {
		session.ExpiresAt = session.CreatedAt.Add(s.lifetime)
	}
	if s.maxMessages > 0 {
		session.MaxMessages = s.maxMessages
	}
	crypto.ZeroBytes(key[:])

	logrus.WithFields(logrus.Fields{
		"function":        "DeriveSession",
		"conversation_id": conversationID,
		"epoch":           epoch,
		"peer_key_prefix": fmt.Sprintf("%x", peerPK[:8]),
	}).Debug("Derived conversation session")

	return session, nil
}

// derivationInfo builds the HKDF info string: label, both public keys in
// byte order, conversation ID, epoch. Sorting makes the result identical on
// both sides of the conversation.
func derivationInfo(localPK, peerPK [32]byte, conversationID string, epoch uint64) []byte {
	low, high := localPK, peerPK
	if bytes.Compare(high[:], low[:]) < 0 {
		low, high = high, low
	}

	info := make([]byte, 0, len(sessionInfoLabel)+64+len(conversationID)+8)
	info = append(info, sessionInfoLabel...)
	info = append(info, low[:]...)
	info = append(info, high[:]...)
	info = append(info, conversationID...)
	info = binary.BigEndian.AppendUint64(info, epoch)
	return info
}

// VerifyFingerprint checks the peer's reported fingerprint against the local
// session. A mismatch is a man-in-the-middle or stale-key condition and must
// be surfaced, never silently worked around.
func (s *Service) VerifyFingerprint(session *crypto.Session, remote crypto.Fingerprint) error {
	local := crypto.SessionFingerprint(session.Key, session.ConversationID)
	if !local.Equal(remote) {
		logrus.WithFields(logrus.Fields{
			"function":        "VerifyFingerprint",
			"conversation_id": session.ConversationID,
			"epoch":           session.Epoch,
		}).Warn("Session fingerprint mismatch")
		return fmt.Errorf("%w: conversation %s epoch %d", ErrKeyVerificationMismatch, session.ConversationID, session.Epoch)
	}
	return nil
}
