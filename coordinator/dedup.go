package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sonet-social/messaging/crypto"
)

// DefaultDedupTTL is how long a message ID stays in the seen set. Long enough
// to outlive any retransmission window, short enough to keep the table small.
const DefaultDedupTTL = 7 * 24 * time.Hour

// DedupStore is the persisted seen-message-ID set backing idempotent receive.
// A replayed frame, whether from a retransmitting sender or a hostile relay,
// is detected here and never re-delivered. The set survives restarts.
type DedupStore struct {
	db    *sql.DB
	ttl   time.Duration
	clock crypto.TimeProvider
}

// OpenDedupStore opens (creating if needed) the seen-ID database at path.
func OpenDedupStore(path string, ttl time.Duration, clock crypto.TimeProvider) (*DedupStore, error) {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS seen_messages (
		message_id TEXT PRIMARY KEY,
		seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_seen_at ON seen_messages(seen_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize dedup schema: %w", err)
	}

	return &DedupStore{db: db, ttl: ttl, clock: clock}, nil
}

// Seen reports whether a message ID is in the live seen set. Checking and
// marking are separate steps: an ID is marked only once its message has
// actually been handed to the consumer, so a delivery that could not happen
// is still retried by the sender.
func (d *DedupStore) Seen(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_messages WHERE message_id = ? AND seen_at >= ?`,
		messageID, d.clock.Now().Add(-d.ttl).Unix()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check message %s: %w", messageID, err)
	}
	return n > 0, nil
}

// Mark records a delivered message ID. Expired entries are pruned lazily on
// each call; there is no sweeper.
func (d *DedupStore) Mark(ctx context.Context, messageID string) error {
	now := d.clock.Now()

	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM seen_messages WHERE seen_at < ?`,
		now.Add(-d.ttl).Unix()); err != nil {
		return fmt.Errorf("failed to prune seen set: %w", err)
	}

	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO seen_messages (message_id, seen_at) VALUES (?, ?)
		 ON CONFLICT(message_id) DO NOTHING`,
		messageID, now.Unix()); err != nil {
		return fmt.Errorf("failed to mark message %s: %w", messageID, err)
	}
	return nil
}

// Close closes the underlying database.
func (d *DedupStore) Close() error {
	return d.db.Close()
}
