package crypto

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// RekeyFunc derives fresh session key material for a conversation epoch.
// It is supplied by the key-exchange layer so this package stays free of
// network concerns.
type RekeyFunc func(conversationID string, epoch uint64) (*Session, error)

// conversationSessions holds the active session for a conversation plus the
// one superseded session retained for in-flight decryption.
type conversationSessions struct {
	active   *Session
	retained *Session
}

// SessionManager owns the session table: exactly one active session per
// conversation, monotonic epoch assignment, and the rotation policy.
// It is the only place session key state is mutated.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*conversationSessions
	rekey    RekeyFunc
	clock    TimeProvider
}

// NewSessionManager creates a session manager. rekey derives key material for
// new epochs; clock may be nil to use wall-clock time.
func NewSessionManager(rekey RekeyFunc, clock TimeProvider) *SessionManager {
	if clock == nil {
		clock = DefaultTimeProvider{}
	}
	return &SessionManager{
		sessions: make(map[string]*conversationSessions),
		rekey:    rekey,
		clock:    clock,
	}
}

// Active returns the active session for a conversation, creating epoch 0 or
// rotating to the next epoch when the rotation policy demands it.
func (sm *SessionManager) Active(conversationID string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cs, ok := sm.sessions[conversationID]
	if !ok {
		session, err := sm.rekey(conversationID, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to derive initial session: %w", err)
		}
		sm.sessions[conversationID] = &conversationSessions{active: session}
		logrus.WithFields(logrus.Fields{
			"function":        "Active",
			"conversation_id": conversationID,
			"epoch":           session.Epoch,
		}).Info("Derived initial conversation session")
		return session, nil
	}

	if cs.active.ShouldRotate(sm.clock.Now()) {
		if err := sm.rotateLocked(conversationID, cs); err != nil {
			return nil, err
		}
	}

	return cs.active, nil
}

// Epoch returns the current active epoch for a conversation, or ErrNoSession
// if none has been derived yet.
func (sm *SessionManager) Epoch(conversationID string) (uint64, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	cs, ok := sm.sessions[conversationID]
	if !ok {
		return 0, ErrNoSession
	}
	return cs.active.Epoch, nil
}

// ForEpoch returns the session matching a specific epoch: the active session,
// the retained superseded one, or ErrUnknownEpoch. Callers that hit
// ErrUnknownEpoch should trigger an out-of-band re-key request.
func (sm *SessionManager) ForEpoch(conversationID string, epoch uint64) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	cs, ok := sm.sessions[conversationID]
	if !ok {
		return nil, ErrNoSession
	}
	if cs.active.Epoch == epoch {
		return cs.active, nil
	}
	if cs.retained != nil && cs.retained.Epoch == epoch {
		return cs.retained, nil
	}
	return nil, fmt.Errorf("%w: epoch %d for conversation %s", ErrUnknownEpoch, epoch, conversationID)
}

// Install replaces the session table entry for a conversation with an
// externally derived session. Used when the peer initiates a re-key. A
// session for an epoch behind the active one is refused and wiped; accepting
// it would roll the monotonic epoch counter backwards. Re-keying the active
// epoch itself (fresh material, same number) is allowed.
func (sm *SessionManager) Install(session *Session) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cs, ok := sm.sessions[session.ConversationID]
	if !ok {
		sm.sessions[session.ConversationID] = &conversationSessions{active: session}
		return nil
	}
	if session.Epoch < cs.active.Epoch {
		session.Wipe()
		return fmt.Errorf("%w: epoch %d behind active %d for conversation %s",
			ErrStaleEpoch, session.Epoch, cs.active.Epoch, session.ConversationID)
	}
	sm.retireLocked(cs, session)
	return nil
}

// Rotate forces rotation to the next epoch regardless of policy, for example
// after a suspected key compromise.
func (sm *SessionManager) Rotate(conversationID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cs, ok := sm.sessions[conversationID]
	if !ok {
		return ErrNoSession
	}
	return sm.rotateLocked(conversationID, cs)
}

// Destroy wipes and removes all session material for a conversation. Called
// when a conversation is deleted.
func (sm *SessionManager) Destroy(conversationID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cs, ok := sm.sessions[conversationID]
	if !ok {
		return
	}
	cs.active.Wipe()
	if cs.retained != nil {
		cs.retained.Wipe()
	}
	delete(sm.sessions, conversationID)
}

func (sm *SessionManager) rotateLocked(conversationID string, cs *conversationSessions) error {
	next, err := sm.rekey(conversationID, cs.active.Epoch+1)
	if err != nil {
		return fmt.Errorf("failed to derive session for epoch %d: %w", cs.active.Epoch+1, err)
	}
	sm.retireLocked(cs, next)

	logrus.WithFields(logrus.Fields{
		"function":        "rotateLocked",
		"conversation_id": conversationID,
		"epoch":           next.Epoch,
	}).Info("Rotated conversation session")
	return nil
}

// retireLocked makes next the active session, keeps the previous active one
// for in-flight decryption, and wipes whatever falls off the end.
func (sm *SessionManager) retireLocked(cs *conversationSessions, next *Session) {
	if cs.retained != nil {
		cs.retained.Wipe()
	}
	cs.retained = cs.active
	cs.active = next
}
