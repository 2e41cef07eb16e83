// Package queue implements the durable offline outbox. Messages encrypted
// while the transport is down are persisted to SQLite and drained in
// per-conversation FIFO order once the connection returns.
//
// Retry scheduling uses the same jittered exponential backoff shape as the
// transport; a message that exhausts its attempts is parked in the Failed
// state for user-visible retry rather than silently discarded.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/sonet-social/messaging/backoff"
	"github.com/sonet-social/messaging/config"
	"github.com/sonet-social/messaging/crypto"
)

// Status is the delivery state of a queued message.
type Status string

const (
	// StatusPending means the message waits for a send attempt.
	StatusPending Status = "pending"
	// StatusSending means a send attempt is in flight. At most one entry per
	// conversation holds this state.
	StatusSending Status = "sending"
	// StatusFailed means all attempts were exhausted. The entry is retained
	// so the user can retry explicitly.
	StatusFailed Status = "failed"
)

var (
	// ErrQueueExhausted marks a message that used up its send attempts.
	ErrQueueExhausted = errors.New("message send attempts exhausted")
	// ErrNotFound means no queue entry matches the message ID.
	ErrNotFound = errors.New("queue entry not found")
	// ErrNotCancellable means the entry is mid-flight and cannot be cancelled.
	ErrNotCancellable = errors.New("queue entry is sending and cannot be cancelled")
)

// Entry is one queued outbound message. Only ciphertext is ever persisted.
// Anonymous is kept so the drain rebuilds the frame with the ghost identity
// rather than the real sender.
type Entry struct {
	Seq            int64
	MessageID      string
	ConversationID string
	Ciphertext     []byte
	Nonce          []byte
	Epoch          uint64
	Anonymous      bool
	AttemptCount   int
	NextRetryAt    time.Time
	Status         Status
	CreatedAt      time.Time
}

// Store is the SQLite-backed offline queue. Safe for concurrent use; the
// one-Sending-per-conversation invariant is enforced inside a transaction so
// parallel drain workers cannot double-claim.
type Store struct {
	db     *sql.DB
	policy backoff.Policy
	max    int
	clock  crypto.TimeProvider
}

// Open opens (creating if needed) the queue database at path. Entries left in
// the Sending state by a crash are reset to Pending so they are retried.
func Open(path string, cfg config.QueueConfig, clock crypto.TimeProvider) (*Store, error) {
	if clock == nil {
		clock = &crypto.DefaultTimeProvider{}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS outbox (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		ciphertext BLOB NOT NULL,
		nonce BLOB NOT NULL,
		epoch INTEGER NOT NULL,
		anonymous INTEGER NOT NULL DEFAULT 0,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('pending', 'sending', 'failed')),
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_conv ON outbox(conversation_id, status, seq);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	// Crash recovery: a Sending entry with no process behind it is Pending.
	if _, err := db.Exec(`UPDATE outbox SET status = ? WHERE status = ?`,
		StatusPending, StatusSending); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to recover in-flight entries: %w", err)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Store{
		db:     db,
		policy: backoff.New(cfg.BackoffBase, cfg.BackoffCap, cfg.BackoffJitter),
		max:    maxAttempts,
		clock:  clock,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue persists a message for later delivery. It returns only after the
// write is durably committed, so the caller may then acknowledge the message
// as queued. Re-enqueueing an existing message ID is a no-op.
func (s *Store) Enqueue(ctx context.Context, e *Entry) error {
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox
			(message_id, conversation_id, ciphertext, nonce, epoch, anonymous,
			 attempt_count, next_retry_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		e.MessageID, e.ConversationID, e.Ciphertext, e.Nonce, e.Epoch, e.Anonymous,
		now.UnixMilli(), StatusPending, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue message %s: %w", e.MessageID, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Enqueue",
		"message_id":      e.MessageID,
		"conversation_id": e.ConversationID,
	}).Debug("Message enqueued for offline delivery")
	return nil
}

// DequeueNext claims the oldest due Pending entry of a conversation and moves
// it to Sending. It returns (nil, nil) when nothing is due, or when another
// entry of the same conversation is already in flight.
func (s *Store) DequeueNext(ctx context.Context, conversationID string) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin dequeue transaction: %w", err)
	}
	defer tx.Rollback()

	var inFlight int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE conversation_id = ? AND status = ?`,
		conversationID, StatusSending).Scan(&inFlight)
	if err != nil {
		return nil, fmt.Errorf("failed to check in-flight entries: %w", err)
	}
	if inFlight > 0 {
		return nil, nil
	}

	entry, err := scanEntry(tx.QueryRowContext(ctx, `
		SELECT seq, message_id, conversation_id, ciphertext, nonce, epoch, anonymous,
		       attempt_count, next_retry_at, status, created_at
		FROM outbox
		WHERE conversation_id = ? AND status = ? AND next_retry_at <= ?
		ORDER BY seq LIMIT 1`,
		conversationID, StatusPending, s.clock.Now().UnixMilli()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select next entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET status = ? WHERE seq = ?`, StatusSending, entry.Seq); err != nil {
		return nil, fmt.Errorf("failed to claim entry %s: %w", entry.MessageID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dequeue: %w", err)
	}

	entry.Status = StatusSending
	return entry, nil
}

// MarkDelivered purges a delivered message from the queue.
func (s *Store) MarkDelivered(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to purge delivered message %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed send attempt. The entry returns to Pending with
// a backoff-scheduled retry time, or moves to Failed with ErrQueueExhausted
// once the attempt budget is spent.
func (s *Store) MarkFailed(ctx context.Context, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin retry transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRowContext(ctx,
		`SELECT attempt_count FROM outbox WHERE message_id = ?`, messageID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load attempt count for %s: %w", messageID, err)
	}

	attempts++
	if attempts >= s.max {
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET status = ?, attempt_count = ? WHERE message_id = ?`,
			StatusFailed, attempts, messageID); err != nil {
			return fmt.Errorf("failed to park exhausted message %s: %w", messageID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit exhaustion: %w", err)
		}

		logrus.WithFields(logrus.Fields{
			"function":   "MarkFailed",
			"message_id": messageID,
			"attempts":   attempts,
		}).Warn("Message exhausted its send attempts")
		return ErrQueueExhausted
	}

	retryAt := s.clock.Now().Add(s.policy.Delay(attempts - 1))
	if _, err := tx.ExecContext(ctx, `
		UPDATE outbox SET status = ?, attempt_count = ?, next_retry_at = ?
		WHERE message_id = ?`,
		StatusPending, attempts, retryAt.UnixMilli(), messageID); err != nil {
		return fmt.Errorf("failed to reschedule message %s: %w", messageID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reschedule: %w", err)
	}
	return nil
}

// Cancel removes a Pending or Failed entry. An in-flight entry cannot be
// cancelled; wait for its attempt to settle first.
func (s *Store) Cancel(ctx context.Context, messageID string) error {
	var status Status
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM outbox WHERE message_id = ?`, messageID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load status for %s: %w", messageID, err)
	}
	if status == StatusSending {
		return ErrNotCancellable
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE message_id = ? AND status != ?`,
		messageID, StatusSending); err != nil {
		return fmt.Errorf("failed to cancel message %s: %w", messageID, err)
	}
	return nil
}

// ListPending returns a conversation's Pending entries in FIFO order,
// including entries whose retry time has not yet arrived.
func (s *Store) ListPending(ctx context.Context, conversationID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, message_id, conversation_id, ciphertext, nonce, epoch, anonymous,
		       attempt_count, next_retry_at, status, created_at
		FROM outbox
		WHERE conversation_id = ? AND status = ?
		ORDER BY seq`,
		conversationID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Conversations returns the distinct conversation IDs with Pending entries,
// so the drain can start one worker per partition.
func (s *Store) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT conversation_id FROM outbox WHERE status = ? ORDER BY conversation_id`,
		StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NextDue returns the earliest retry time across all Pending entries, so the
// drain loop can schedule its next wakeup. ok is false when nothing is queued.
func (s *Store) NextDue(ctx context.Context) (due time.Time, ok bool, err error) {
	var at sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(next_retry_at) FROM outbox WHERE status = ?`, StatusPending).Scan(&at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to find next due entry: %w", err)
	}
	if !at.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(at.Int64), true, nil
}

// Get returns a single entry by message ID.
func (s *Store) Get(ctx context.Context, messageID string) (*Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `
		SELECT seq, message_id, conversation_id, ciphertext, nonce, epoch, anonymous,
		       attempt_count, next_retry_at, status, created_at
		FROM outbox WHERE message_id = ?`, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %s: %w", messageID, err)
	}
	return e, nil
}

// Retry resets a Failed entry to Pending with a fresh attempt budget.
func (s *Store) Retry(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, attempt_count = 0, next_retry_at = ?
		WHERE message_id = ? AND status = ?`,
		StatusPending, s.clock.Now().UnixMilli(), messageID, StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to retry message %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCiphertext swaps the stored ciphertext of an in-flight entry after a
// re-encryption under a newer session epoch.
func (s *Store) UpdateCiphertext(ctx context.Context, messageID string, ciphertext, nonce []byte, epoch uint64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET ciphertext = ?, nonce = ?, epoch = ? WHERE message_id = ?`,
		ciphertext, nonce, epoch, messageID)
	if err != nil {
		return fmt.Errorf("failed to update ciphertext for %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var nextRetry, created int64
	if err := row.Scan(&e.Seq, &e.MessageID, &e.ConversationID, &e.Ciphertext,
		&e.Nonce, &e.Epoch, &e.Anonymous, &e.AttemptCount, &nextRetry, &e.Status, &created); err != nil {
		return nil, err
	}
	e.NextRetryAt = time.UnixMilli(nextRetry)
	e.CreatedAt = time.UnixMilli(created)
	return &e, nil
}
