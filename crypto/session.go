package crypto

import (
	"sync"
	"time"
)

// Default rotation policy. A session is retired when either bound is hit,
// whichever comes first, so a compromised key exposes at most one day or one
// batch of traffic.
const (
	// DefaultSessionLifetime is the time bound on a session key (24 hours).
	DefaultSessionLifetime = 24 * time.Hour
	// DefaultMaxMessages is the volume bound on a session key.
	DefaultMaxMessages = 1000
)

// Session holds the symmetric key material for one conversation epoch.
// Exactly one session is active per conversation at a time; a superseded
// session is retained only long enough to decrypt in-flight messages.
type Session struct {
	ConversationID string
	Key            [32]byte
	Epoch          uint64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	MaxMessages    uint32

	mu           sync.Mutex
	messageCount uint32
}

// NewSession creates a session for a conversation with the default rotation
// policy applied from the given creation time.
func NewSession(conversationID string, key [32]byte, epoch uint64, createdAt time.Time) *Session {
	return &Session{
		ConversationID: conversationID,
		Key:            key,
		Epoch:          epoch,
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(DefaultSessionLifetime),
		MaxMessages:    DefaultMaxMessages,
	}
}

// IncrementUsage records one encryption under this session key.
func (s *Session) IncrementUsage() {
	s.mu.Lock()
	s.messageCount++
	s.mu.Unlock()
}

// MessageCount returns the number of messages encrypted under this session.
func (s *Session) MessageCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// IsExpired reports whether the session passed its time bound at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ShouldRotate reports whether the session must be retired, either because
// its lifetime elapsed or because the message-count threshold was reached.
func (s *Session) ShouldRotate(now time.Time) bool {
	if s.IsExpired(now) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MaxMessages > 0 && s.messageCount >= s.MaxMessages
}

// Wipe securely erases the session key material.
func (s *Session) Wipe() {
	ZeroBytes(s.Key[:])
}
