// Package coordinator ties the messaging core together: it encrypts outbound
// messages, routes them to the live transport or the offline queue, decrypts
// and deduplicates inbound frames, drains the queue on reconnect, and gates
// anonymous sends through the abuse guard.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sonet-social/messaging/abuse"
	"github.com/sonet-social/messaging/crypto"
	"github.com/sonet-social/messaging/keyexchange"
	"github.com/sonet-social/messaging/limits"
	"github.com/sonet-social/messaging/queue"
	"github.com/sonet-social/messaging/transport"
)

// ErrUnknownConversation means Send was called for a conversation that was
// never registered with a peer.
var ErrUnknownConversation = errors.New("conversation has no registered peer")

// Transport is the slice of the connection manager the coordinator needs.
type Transport interface {
	Send(ctx context.Context, frame *transport.Frame) error
	Events() <-chan transport.StateChange
	Frames() <-chan *transport.Frame
	State() transport.State
}

// PeerResolver fetches peer public keys. The key directory client satisfies
// it; tests substitute a static map.
type PeerResolver interface {
	FetchPeerPublicKey(ctx context.Context, userID string) ([32]byte, error)
}

// Inbound is one event delivered to the embedding application: a decrypted
// message, or a forwarded typing / read-receipt / presence signal.
type Inbound struct {
	Kind           transport.FrameType
	MessageID      string
	ConversationID string
	SenderID       string
	GhostHandle    string
	GhostAvatar    string
	Plaintext      []byte
	Payload        json.RawMessage
	ReceivedAt     time.Time
}

// rekeyEnvelope wraps Noise handshake bytes inside a rekey frame's payload.
type rekeyEnvelope struct {
	Handshake []byte `json:"handshake"`
}

// Deps are the collaborators a Coordinator is built from. All are required
// except Clock.
type Deps struct {
	Identity    *keyexchange.Identity
	KeyExchange *keyexchange.Service
	Directory   PeerResolver
	Transport   Transport
	Outbox      *queue.Store
	Guard       *abuse.Guard
	Dedup       *DedupStore
	Clock       crypto.TimeProvider
}

// Coordinator orchestrates one user's messaging. Construct with New, start
// with Start, and consume decrypted traffic from Messages.
type Coordinator struct {
	identity *keyexchange.Identity
	kx       *keyexchange.Service
	resolver PeerResolver
	tr       Transport
	outbox   *queue.Store
	guard    *abuse.Guard
	dedup    *DedupStore
	clock    crypto.TimeProvider
	sessions *crypto.SessionManager

	mu       sync.Mutex
	peers    map[string]string   // conversation ID -> peer user ID
	peerKeys map[string][32]byte // peer user ID -> cached public key
	rekeys   map[string]*keyexchange.RekeyRequest

	inbound   chan *Inbound
	kick      chan struct{}
	retryPoll time.Duration
	draining  atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
}

// defaultRetryPoll is how often the run loop checks the outbox for entries
// whose backoff delay has elapsed while the connection stays up.
const defaultRetryPoll = time.Second

// New assembles a coordinator. The session manager's re-key hook closes over
// the peer registry, so sessions for any registered conversation derive on
// demand.
func New(deps Deps) (*Coordinator, error) {
	if deps.Identity == nil || deps.KeyExchange == nil || deps.Directory == nil ||
		deps.Transport == nil || deps.Outbox == nil || deps.Guard == nil || deps.Dedup == nil {
		return nil, errors.New("coordinator missing a required dependency")
	}
	clock := deps.Clock
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}

	c := &Coordinator{
		identity:  deps.Identity,
		kx:        deps.KeyExchange,
		resolver:  deps.Directory,
		tr:        deps.Transport,
		outbox:    deps.Outbox,
		guard:     deps.Guard,
		dedup:     deps.Dedup,
		clock:     clock,
		peers:     make(map[string]string),
		peerKeys:  make(map[string][32]byte),
		rekeys:    make(map[string]*keyexchange.RekeyRequest),
		inbound:   make(chan *Inbound, 64),
		kick:      make(chan struct{}, 1),
		retryPoll: defaultRetryPoll,
		done:      make(chan struct{}),
	}
	c.sessions = crypto.NewSessionManager(c.deriveEpoch, clock)
	return c, nil
}

// RegisterConversation binds a conversation to its peer. Sessions derive
// lazily on the first send or receive.
func (c *Coordinator) RegisterConversation(conversationID, peerUserID string) {
	c.mu.Lock()
	c.peers[conversationID] = peerUserID
	c.mu.Unlock()
}

// Messages returns the stream of decrypted inbound events.
func (c *Coordinator) Messages() <-chan *Inbound { return c.inbound }

// Sessions exposes the session manager for fingerprint verification flows.
func (c *Coordinator) Sessions() *crypto.SessionManager { return c.sessions }

// Start launches the receive and drain loop.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
}

// Close stops the coordinator's loop. Stores and transport are owned by the
// caller and closed separately.
func (c *Coordinator) Close() {
	c.mu.Lock()
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()

	if !started || cancel == nil {
		return
	}
	cancel()
	<-c.done
}

// Send encrypts a message and either transmits it immediately or commits it
// to the offline queue. The returned message ID identifies the message for
// receipts and queue operations. An anonymous send consults the abuse guard
// first and fails fast, before any key derivation or network use.
func (c *Coordinator) Send(ctx context.Context, conversationID string, plaintext []byte, anonymous bool) (string, error) {
	if err := limits.ValidatePlaintextMessage(plaintext); err != nil {
		return "", err
	}

	if anonymous {
		decision := c.guard.CheckAndRecord(c.identity.UserID)
		if !decision.Allowed {
			if decision.CooldownRemaining > 0 {
				return "", fmt.Errorf("%w: retry in %s", abuse.ErrRateLimited,
					decision.CooldownRemaining.Round(time.Second))
			}
			return "", abuse.ErrAbuseThresholdExceeded
		}
	}

	session, err := c.sessions.Active(conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to obtain session: %w", err)
	}

	ciphertext, nonce, err := crypto.Encrypt(session, plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt message: %w", err)
	}

	messageID := uuid.NewString()
	frame := c.buildMessageFrame(messageID, conversationID, ciphertext, nonce[:], session.Epoch, anonymous)

	if c.tr.State() == transport.StateConnected {
		if err := c.tr.Send(ctx, frame); err == nil {
			logrus.WithFields(logrus.Fields{
				"function":        "Send",
				"message_id":      messageID,
				"conversation_id": conversationID,
			}).Debug("Message transmitted")
			return messageID, nil
		}
		// Fall through: the connection broke under us, queue instead.
	}

	entry := &queue.Entry{
		MessageID:      messageID,
		ConversationID: conversationID,
		Ciphertext:     ciphertext,
		Nonce:          nonce[:],
		Epoch:          session.Epoch,
		Anonymous:      anonymous,
	}
	if err := c.outbox.Enqueue(ctx, entry); err != nil {
		return "", fmt.Errorf("failed to queue message: %w", err)
	}

	// If the connection is still up (only the one write failed), the run
	// loop should try the queued entry right away rather than wait for the
	// next retry poll.
	select {
	case c.kick <- struct{}{}:
	default:
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Send",
		"message_id":      messageID,
		"conversation_id": conversationID,
	}).Debug("Message queued for offline delivery")
	return messageID, nil
}

// SendTyping emits a typing indicator. Best effort; dropped while offline.
func (c *Coordinator) SendTyping(ctx context.Context, conversationID string) error {
	frame := &transport.Frame{
		Type:           transport.FrameTyping,
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.identity.UserID,
		CreatedAt:      c.clock.Now(),
	}
	err := c.tr.Send(ctx, frame)
	if errors.Is(err, transport.ErrNotConnected) {
		return nil
	}
	return err
}

// SendReadReceipt marks messages as read for the peer. Best effort; dropped
// while offline.
func (c *Coordinator) SendReadReceipt(ctx context.Context, conversationID string, messageIDs []string) error {
	payload, err := json.Marshal(map[string][]string{"message_ids": messageIDs})
	if err != nil {
		return fmt.Errorf("failed to encode receipt payload: %w", err)
	}

	frame := &transport.Frame{
		Type:           transport.FrameReadReceipt,
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.identity.UserID,
		Payload:        payload,
		CreatedAt:      c.clock.Now(),
	}
	err = c.tr.Send(ctx, frame)
	if errors.Is(err, transport.ErrNotConnected) {
		return nil
	}
	return err
}

func (c *Coordinator) buildMessageFrame(messageID, conversationID string, ciphertext, nonce []byte, epoch uint64, anonymous bool) *transport.Frame {
	frame := &transport.Frame{
		Type:           transport.FrameMessage,
		ID:             messageID,
		ConversationID: conversationID,
		Ciphertext:     ciphertext,
		Nonce:          nonce,
		Epoch:          epoch,
		CreatedAt:      c.clock.Now(),
	}
	if anonymous {
		frame.GhostHandle, frame.GhostAvatar = GhostIdentity(c.identity, conversationID)
	} else {
		frame.SenderID = c.identity.UserID
	}
	return frame
}

// deriveEpoch is the session manager's re-key hook.
func (c *Coordinator) deriveEpoch(conversationID string, epoch uint64) (*crypto.Session, error) {
	peerPK, err := c.peerKey(context.Background(), conversationID)
	if err != nil {
		return nil, err
	}
	return c.kx.DeriveSession(conversationID, c.identity, peerPK, epoch)
}

func (c *Coordinator) peerKey(ctx context.Context, conversationID string) ([32]byte, error) {
	c.mu.Lock()
	peerID, ok := c.peers[conversationID]
	if !ok {
		c.mu.Unlock()
		return [32]byte{}, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	if cached, ok := c.peerKeys[peerID]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	pk, err := c.resolver.FetchPeerPublicKey(ctx, peerID)
	if err != nil {
		return [32]byte{}, err
	}

	c.mu.Lock()
	c.peerKeys[peerID] = pk
	c.mu.Unlock()
	return pk, nil
}

// run is the event loop. Drains are triggered three ways: a reconnect, an
// explicit kick after an enqueue, and a periodic poll that catches entries
// whose backoff delay elapsed while the connection stayed healthy.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.retryPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case change := <-c.tr.Events():
			if change.To == transport.StateConnected {
				go c.drain(ctx)
			}
		case <-c.kick:
			if c.tr.State() == transport.StateConnected {
				go c.drain(ctx)
			}
		case <-ticker.C:
			if c.tr.State() != transport.StateConnected {
				continue
			}
			due, ok, err := c.outbox.NextDue(ctx)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"error":    err.Error(),
				}).Warn("Failed to check queue for due retries")
				continue
			}
			if ok && !due.After(c.clock.Now()) {
				go c.drain(ctx)
			}
		case frame := <-c.tr.Frames():
			c.handleFrame(ctx, frame)
		}
	}
}

func (c *Coordinator) handleFrame(ctx context.Context, frame *transport.Frame) {
	switch frame.Type {
	case transport.FrameMessage:
		c.handleMessage(ctx, frame)
	case transport.FrameAck:
		if frame.Ref == "" {
			return
		}
		if err := c.outbox.MarkDelivered(ctx, frame.Ref); err != nil && !errors.Is(err, queue.ErrNotFound) {
			logrus.WithFields(logrus.Fields{
				"function":   "handleFrame",
				"message_id": frame.Ref,
				"error":      err.Error(),
			}).Warn("Failed to settle delivery acknowledgement")
		}
	case transport.FrameRekey:
		c.handleRekey(ctx, frame)
	case transport.FrameTyping, transport.FrameReadReceipt, transport.FramePresence:
		c.emit(&Inbound{
			Kind:           frame.Type,
			ConversationID: frame.ConversationID,
			SenderID:       frame.SenderID,
			Payload:        frame.Payload,
			ReceivedAt:     c.clock.Now(),
		})
	}
}

// handleMessage decrypts one inbound message frame. Tampered ciphertext is
// dropped with a warning, never displayed; replays are acknowledged but not
// re-delivered.
func (c *Coordinator) handleMessage(ctx context.Context, frame *transport.Frame) {
	if len(frame.Nonce) != len(crypto.Nonce{}) {
		logrus.WithFields(logrus.Fields{
			"function":   "handleMessage",
			"message_id": frame.ID,
		}).Warn("Dropping message with malformed nonce")
		return
	}
	var nonce crypto.Nonce
	copy(nonce[:], frame.Nonce)

	session, err := c.sessions.ForEpoch(frame.ConversationID, frame.Epoch)
	if errors.Is(err, crypto.ErrUnknownEpoch) || errors.Is(err, crypto.ErrNoSession) {
		c.initiateRekey(ctx, frame.ConversationID, frame.Epoch)
		return
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "handleMessage",
			"conversation_id": frame.ConversationID,
			"error":           err.Error(),
		}).Warn("Failed to resolve session for inbound message")
		return
	}

	plaintext, err := crypto.Decrypt(session, frame.Ciphertext, nonce)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "handleMessage",
			"message_id":      frame.ID,
			"conversation_id": frame.ConversationID,
			"error":           err.Error(),
		}).Warn("Dropping message that failed authentication")
		return
	}

	seen, err := c.dedup.Seen(ctx, frame.ID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleMessage",
			"message_id": frame.ID,
			"error":      err.Error(),
		}).Error("Dedup check failed, delivering anyway")
	}

	if !seen {
		delivered := c.emit(&Inbound{
			Kind:           transport.FrameMessage,
			MessageID:      frame.ID,
			ConversationID: frame.ConversationID,
			SenderID:       frame.SenderID,
			GhostHandle:    frame.GhostHandle,
			GhostAvatar:    frame.GhostAvatar,
			Plaintext:      plaintext,
			ReceivedAt:     c.clock.Now(),
		})
		if !delivered {
			// Not acked and not marked seen, so the sender retransmits once
			// the consumer catches up.
			return
		}
		if err := c.dedup.Mark(ctx, frame.ID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "handleMessage",
				"message_id": frame.ID,
				"error":      err.Error(),
			}).Error("Failed to record delivered message ID")
		}
	}

	// Acknowledge replays too, so a sender that lost the first ack stops
	// retransmitting.
	ack := &transport.Frame{
		Type:           transport.FrameAck,
		ID:             uuid.NewString(),
		ConversationID: frame.ConversationID,
		Ref:            frame.ID,
		CreatedAt:      c.clock.Now(),
	}
	if err := c.tr.Send(ctx, ack); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		logrus.WithFields(logrus.Fields{
			"function":   "handleMessage",
			"message_id": frame.ID,
			"error":      err.Error(),
		}).Warn("Failed to send delivery acknowledgement")
	}
}

// initiateRekey starts a Noise-IK re-key exchange for an epoch this side
// cannot decrypt.
func (c *Coordinator) initiateRekey(ctx context.Context, conversationID string, epoch uint64) {
	c.mu.Lock()
	_, pending := c.rekeys[conversationID]
	c.mu.Unlock()
	if pending {
		return
	}

	peerPK, err := c.peerKey(ctx, conversationID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "initiateRekey",
			"conversation_id": conversationID,
			"error":           err.Error(),
		}).Warn("Cannot re-key without peer key")
		return
	}

	request, msg, err := keyexchange.NewRekeyRequest(conversationID, epoch, c.identity, peerPK)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "initiateRekey",
			"conversation_id": conversationID,
			"error":           err.Error(),
		}).Error("Failed to start re-key exchange")
		return
	}

	payload, err := json.Marshal(rekeyEnvelope{Handshake: msg})
	if err != nil {
		return
	}
	frame := &transport.Frame{
		Type:           transport.FrameRekey,
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.identity.UserID,
		Epoch:          epoch,
		Payload:        payload,
		CreatedAt:      c.clock.Now(),
	}
	if err := c.tr.Send(ctx, frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "initiateRekey",
			"conversation_id": conversationID,
			"error":           err.Error(),
		}).Warn("Failed to send re-key request")
		return
	}

	c.mu.Lock()
	c.rekeys[conversationID] = request
	c.mu.Unlock()
}

// handleRekey processes both sides of the re-key exchange: a frame with a Ref
// is the responder's reply to our request, a frame without one is a peer's
// fresh request.
func (c *Coordinator) handleRekey(ctx context.Context, frame *transport.Frame) {
	var envelope rekeyEnvelope
	if err := json.Unmarshal(frame.Payload, &envelope); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "handleRekey",
			"conversation_id": frame.ConversationID,
		}).Warn("Dropping rekey frame with malformed payload")
		return
	}

	if frame.Ref != "" {
		c.mu.Lock()
		request, ok := c.rekeys[frame.ConversationID]
		delete(c.rekeys, frame.ConversationID)
		c.mu.Unlock()
		if !ok {
			return
		}

		session, err := request.Finish(envelope.Handshake, c.clock.Now())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "handleRekey",
				"conversation_id": frame.ConversationID,
				"error":           err.Error(),
			}).Warn("Re-key reply rejected")
			return
		}
		if err := c.sessions.Install(session); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "handleRekey",
				"conversation_id": frame.ConversationID,
				"error":           err.Error(),
			}).Warn("Discarded re-keyed session")
		}
		return
	}

	reply, session, err := keyexchange.RespondRekey(frame.ConversationID, frame.Epoch,
		c.identity, envelope.Handshake, c.clock.Now())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "handleRekey",
			"conversation_id": frame.ConversationID,
			"error":           err.Error(),
		}).Warn("Re-key request rejected")
		return
	}
	if err := c.sessions.Install(session); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "handleRekey",
			"conversation_id": frame.ConversationID,
			"error":           err.Error(),
		}).Warn("Refused re-key for stale epoch")
		return
	}

	payload, err := json.Marshal(rekeyEnvelope{Handshake: reply})
	if err != nil {
		return
	}
	response := &transport.Frame{
		Type:           transport.FrameRekey,
		ID:             uuid.NewString(),
		ConversationID: frame.ConversationID,
		SenderID:       c.identity.UserID,
		Epoch:          frame.Epoch,
		Ref:            frame.ID,
		Payload:        payload,
		CreatedAt:      c.clock.Now(),
	}
	if err := c.tr.Send(ctx, response); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":        "handleRekey",
			"conversation_id": frame.ConversationID,
			"error":           err.Error(),
		}).Warn("Failed to send re-key reply")
	}
}

// drain flushes the offline queue: one worker per conversation partition,
// FIFO within each, parallel across them. At most one drain runs at a time;
// triggers that land mid-drain are absorbed.
func (c *Coordinator) drain(ctx context.Context) {
	if !c.draining.CompareAndSwap(false, true) {
		return
	}
	defer c.draining.Store(false)

	conversations, err := c.outbox.Conversations(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "drain",
			"error":    err.Error(),
		}).Error("Failed to list queued conversations")
		return
	}

	var wg sync.WaitGroup
	for _, conversationID := range conversations {
		wg.Add(1)
		go func(conversationID string) {
			defer wg.Done()
			c.drainConversation(ctx, conversationID)
		}(conversationID)
	}
	wg.Wait()
}

func (c *Coordinator) drainConversation(ctx context.Context, conversationID string) {
	for ctx.Err() == nil {
		entry, err := c.outbox.DequeueNext(ctx, conversationID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "drainConversation",
				"conversation_id": conversationID,
				"error":           err.Error(),
			}).Error("Failed to dequeue entry")
			return
		}
		if entry == nil {
			return
		}

		entry, err = c.refreshEpoch(ctx, entry)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":        "drainConversation",
				"message_id":      entry.MessageID,
				"conversation_id": conversationID,
				"error":           err.Error(),
			}).Warn("Failed to refresh queued message for current epoch")
			c.settleFailure(ctx, entry.MessageID)
			continue
		}

		frame := c.buildMessageFrame(entry.MessageID, conversationID,
			entry.Ciphertext, entry.Nonce, entry.Epoch, entry.Anonymous)
		frame.CreatedAt = entry.CreatedAt

		if err := c.tr.Send(ctx, frame); err != nil {
			c.settleFailure(ctx, entry.MessageID)
			if errors.Is(err, transport.ErrNotConnected) {
				return
			}
			continue
		}

		if err := c.outbox.MarkDelivered(ctx, entry.MessageID); err != nil && !errors.Is(err, queue.ErrNotFound) {
			logrus.WithFields(logrus.Fields{
				"function":   "drainConversation",
				"message_id": entry.MessageID,
				"error":      err.Error(),
			}).Warn("Failed to settle delivered entry")
		}
	}
}

// refreshEpoch re-encrypts a queued message if the session rotated since it
// was enqueued. Messages still on the active epoch pass through untouched.
func (c *Coordinator) refreshEpoch(ctx context.Context, entry *queue.Entry) (*queue.Entry, error) {
	active, err := c.sessions.Active(entry.ConversationID)
	if err != nil {
		return entry, err
	}
	if entry.Epoch == active.Epoch {
		return entry, nil
	}

	old, err := c.sessions.ForEpoch(entry.ConversationID, entry.Epoch)
	if err != nil {
		return entry, err
	}

	var nonce crypto.Nonce
	copy(nonce[:], entry.Nonce)
	plaintext, err := crypto.Decrypt(old, entry.Ciphertext, nonce)
	if err != nil {
		return entry, err
	}
	defer crypto.ZeroBytes(plaintext)

	ciphertext, freshNonce, err := crypto.Encrypt(active, plaintext)
	if err != nil {
		return entry, err
	}

	if err := c.outbox.UpdateCiphertext(ctx, entry.MessageID, ciphertext, freshNonce[:], active.Epoch); err != nil {
		return entry, err
	}

	entry.Ciphertext = ciphertext
	entry.Nonce = freshNonce[:]
	entry.Epoch = active.Epoch
	return entry, nil
}

func (c *Coordinator) settleFailure(ctx context.Context, messageID string) {
	if err := c.outbox.MarkFailed(ctx, messageID); err != nil && !errors.Is(err, queue.ErrQueueExhausted) {
		logrus.WithFields(logrus.Fields{
			"function":   "settleFailure",
			"message_id": messageID,
			"error":      err.Error(),
		}).Warn("Failed to record send failure")
	}
}

// emit hands an event to the consumer, reporting whether it was accepted.
// Message frames that do not fit stay unacknowledged so the sender
// retransmits; signal frames are simply dropped.
func (c *Coordinator) emit(event *Inbound) bool {
	select {
	case c.inbound <- event:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"function": "emit",
			"kind":     string(event.Kind),
		}).Warn("Inbound event buffer full, dropping event")
		return false
	}
}
