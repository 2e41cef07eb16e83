package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sonet-social/messaging/config"
)

// fakeClock is a controllable TimeProvider for retry scheduling tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		BackoffCap:    30 * time.Second,
		BackoffJitter: 0,
	}
}

func openTestStore(t *testing.T, clock *fakeClock) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.db")
	s, err := Open(path, testQueueConfig(), clock)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func entry(messageID, conversationID string) *Entry {
	return &Entry{
		MessageID:      messageID,
		ConversationID: conversationID,
		Ciphertext:     []byte("ciphertext-" + messageID),
		Nonce:          []byte("nonce-" + messageID),
		Epoch:          1,
	}
}

// TestEnqueueListPendingOrder verifies FIFO ordering within a conversation
// and that other conversations stay isolated.
func TestEnqueueListPendingOrder(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, newFakeClock())
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := s.Enqueue(ctx, entry(id, "conv-a")); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", id, err)
		}
	}
	if err := s.Enqueue(ctx, entry("other", "conv-b")); err != nil {
		t.Fatalf("Enqueue(other) failed: %v", err)
	}

	pending, err := s.ListPending(ctx, "conv-a")
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("got %d pending, want 3", len(pending))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if pending[i].MessageID != want {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i].MessageID, want)
		}
	}
}

// TestEnqueueIdempotent verifies re-enqueueing the same message ID does not
// duplicate the entry.
func TestEnqueueIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, newFakeClock())
	ctx := context.Background()

	e := entry("m1", "conv-a")
	if err := s.Enqueue(ctx, e); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}
	if err := s.Enqueue(ctx, e); err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}

	pending, err := s.ListPending(ctx, "conv-a")
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("got %d entries, want 1", len(pending))
	}
}

// TestDequeueNextSingleFlight verifies only one entry per conversation can be
// in flight at a time.
func TestDequeueNextSingleFlight(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, newFakeClock())
	ctx := context.Background()

	s.Enqueue(ctx, entry("m1", "conv-a"))
	s.Enqueue(ctx, entry("m2", "conv-a"))

	first, err := s.DequeueNext(ctx, "conv-a")
	if err != nil {
		t.Fatalf("DequeueNext failed: %v", err)
	}
	if first == nil || first.MessageID != "m1" {
		t.Fatalf("first dequeue = %+v, want m1", first)
	}

	second, err := s.DequeueNext(ctx, "conv-a")
	if err != nil {
		t.Fatalf("second DequeueNext failed: %v", err)
	}
	if second != nil {
		t.Errorf("second dequeue = %s, want nil while m1 is in flight", second.MessageID)
	}

	if err := s.MarkDelivered(ctx, "m1"); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	third, err := s.DequeueNext(ctx, "conv-a")
	if err != nil {
		t.Fatalf("third DequeueNext failed: %v", err)
	}
	if third == nil || third.MessageID != "m2" {
		t.Errorf("third dequeue = %+v, want m2", third)
	}
}

// TestMarkFailedReschedulesWithBackoff verifies a failed attempt delays the
// next one and that advancing the clock makes the entry due again.
func TestMarkFailedReschedulesWithBackoff(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s, _ := openTestStore(t, clock)
	ctx := context.Background()

	s.Enqueue(ctx, entry("m1", "conv-a"))
	claimed, err := s.DequeueNext(ctx, "conv-a")
	if err != nil || claimed == nil {
		t.Fatalf("DequeueNext = %v, %v", claimed, err)
	}

	if err := s.MarkFailed(ctx, "m1"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	notDue, err := s.DequeueNext(ctx, "conv-a")
	if err != nil {
		t.Fatalf("DequeueNext failed: %v", err)
	}
	if notDue != nil {
		t.Errorf("entry due immediately after failure, want backoff delay")
	}

	clock.Advance(2 * time.Second)
	due, err := s.DequeueNext(ctx, "conv-a")
	if err != nil {
		t.Fatalf("DequeueNext failed: %v", err)
	}
	if due == nil || due.AttemptCount != 1 {
		t.Errorf("after advance got %+v, want m1 with attempt_count 1", due)
	}
}

// TestMarkFailedExhaustion verifies the attempt budget: the final failure
// returns ErrQueueExhausted and parks the entry as Failed until Retry.
func TestMarkFailedExhaustion(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s, _ := openTestStore(t, clock)
	ctx := context.Background()

	s.Enqueue(ctx, entry("m1", "conv-a"))

	for attempt := 1; attempt < 3; attempt++ {
		if _, err := s.DequeueNext(ctx, "conv-a"); err != nil {
			t.Fatalf("DequeueNext failed: %v", err)
		}
		if err := s.MarkFailed(ctx, "m1"); err != nil {
			t.Fatalf("MarkFailed attempt %d failed: %v", attempt, err)
		}
		clock.Advance(time.Minute)
	}

	if _, err := s.DequeueNext(ctx, "conv-a"); err != nil {
		t.Fatalf("DequeueNext failed: %v", err)
	}
	err := s.MarkFailed(ctx, "m1")
	if !errors.Is(err, ErrQueueExhausted) {
		t.Fatalf("final MarkFailed = %v, want ErrQueueExhausted", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}

	if err := s.Retry(ctx, "m1"); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	revived, err := s.DequeueNext(ctx, "conv-a")
	if err != nil || revived == nil {
		t.Fatalf("DequeueNext after Retry = %v, %v, want m1", revived, err)
	}
	if revived.AttemptCount != 0 {
		t.Errorf("attempt_count after Retry = %d, want 0", revived.AttemptCount)
	}
}

// TestPersistenceAcrossReopen verifies entries survive a restart and that an
// in-flight entry is recovered to Pending.
func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "outbox.db")
	ctx := context.Background()

	s, err := Open(path, testQueueConfig(), clock)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ghost := entry("m1", "conv-a")
	ghost.Anonymous = true
	s.Enqueue(ctx, ghost)
	if _, err := s.DequeueNext(ctx, "conv-a"); err != nil {
		t.Fatalf("DequeueNext failed: %v", err)
	}
	s.Close()

	reopened, err := Open(path, testQueueConfig(), clock)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	claimed, err := reopened.DequeueNext(ctx, "conv-a")
	if err != nil {
		t.Fatalf("DequeueNext after reopen failed: %v", err)
	}
	if claimed == nil || claimed.MessageID != "m1" {
		t.Errorf("after reopen got %+v, want recovered m1", claimed)
	}
	if string(claimed.Ciphertext) != "ciphertext-m1" {
		t.Errorf("ciphertext changed across restart")
	}
	if !claimed.Anonymous {
		t.Error("anonymous flag lost across restart")
	}
}

// TestCancel verifies Pending entries cancel and in-flight entries refuse.
func TestCancel(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, newFakeClock())
	ctx := context.Background()

	s.Enqueue(ctx, entry("m1", "conv-a"))
	s.Enqueue(ctx, entry("m2", "conv-b"))

	if _, err := s.DequeueNext(ctx, "conv-b"); err != nil {
		t.Fatalf("DequeueNext failed: %v", err)
	}

	if err := s.Cancel(ctx, "m1"); err != nil {
		t.Errorf("Cancel(pending) = %v, want nil", err)
	}
	if err := s.Cancel(ctx, "m2"); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("Cancel(sending) = %v, want ErrNotCancellable", err)
	}
	if err := s.Cancel(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel(missing) = %v, want ErrNotFound", err)
	}
}

// TestConversations verifies the pending-partition listing used by the drain.
func TestConversations(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, newFakeClock())
	ctx := context.Background()

	s.Enqueue(ctx, entry("m1", "conv-b"))
	s.Enqueue(ctx, entry("m2", "conv-a"))
	s.Enqueue(ctx, entry("m3", "conv-a"))

	convs, err := s.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations failed: %v", err)
	}
	if len(convs) != 2 || convs[0] != "conv-a" || convs[1] != "conv-b" {
		t.Errorf("Conversations = %v, want [conv-a conv-b]", convs)
	}
}

// TestUpdateCiphertext verifies re-encryption under a newer epoch persists.
func TestUpdateCiphertext(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t, newFakeClock())
	ctx := context.Background()

	s.Enqueue(ctx, entry("m1", "conv-a"))
	if err := s.UpdateCiphertext(ctx, "m1", []byte("fresh"), []byte("nonce2"), 7); err != nil {
		t.Fatalf("UpdateCiphertext failed: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Ciphertext) != "fresh" || got.Epoch != 7 {
		t.Errorf("entry = %+v, want fresh ciphertext at epoch 7", got)
	}
}

// TestSubSecondBackoffDelay verifies a reschedule shorter than one second is
// honored: the entry stays undue until the full delay elapses.
func TestSubSecondBackoffDelay(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "outbox.db")
	s, err := Open(path, config.QueueConfig{
		MaxAttempts:   3,
		BackoffBase:   100 * time.Millisecond,
		BackoffCap:    time.Second,
		BackoffJitter: 0,
	}, clock)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.Enqueue(ctx, entry("m1", "conv-a")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claimed, err := s.DequeueNext(ctx, "conv-a")
	if err != nil || claimed == nil {
		t.Fatalf("DequeueNext = (%v, %v), want entry", claimed, err)
	}
	if err := s.MarkFailed(ctx, "m1"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	got, err := s.DequeueNext(ctx, "conv-a")
	if err != nil || got != nil {
		t.Fatalf("entry due before its 100ms delay elapsed: (%v, %v)", got, err)
	}

	clock.Advance(50 * time.Millisecond)
	got, err = s.DequeueNext(ctx, "conv-a")
	if err != nil || got != nil {
		t.Fatalf("entry due at 50ms into a 100ms delay: (%v, %v)", got, err)
	}

	clock.Advance(60 * time.Millisecond)
	got, err = s.DequeueNext(ctx, "conv-a")
	if err != nil || got == nil {
		t.Fatalf("entry not due after its delay: (%v, %v)", got, err)
	}
}

// TestNextDue verifies the earliest pending retry time is reported and that
// an empty or fully in-flight queue reports none.
func TestNextDue(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s, _ := openTestStore(t, clock)
	ctx := context.Background()

	if _, ok, err := s.NextDue(ctx); err != nil || ok {
		t.Fatalf("NextDue on empty queue = (ok=%v, %v), want none", ok, err)
	}

	if err := s.Enqueue(ctx, entry("m1", "conv-a")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	due, ok, err := s.NextDue(ctx)
	if err != nil || !ok {
		t.Fatalf("NextDue = (ok=%v, %v), want entry", ok, err)
	}
	if !due.Equal(clock.Now()) {
		t.Errorf("due = %v, want %v", due, clock.Now())
	}

	// A failed attempt pushes the due time out by the backoff delay.
	if _, err := s.DequeueNext(ctx, "conv-a"); err != nil {
		t.Fatalf("DequeueNext failed: %v", err)
	}
	if err := s.MarkFailed(ctx, "m1"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	due, ok, err = s.NextDue(ctx)
	if err != nil || !ok {
		t.Fatalf("NextDue after reschedule = (ok=%v, %v), want entry", ok, err)
	}
	if want := clock.Now().Add(time.Second); !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}
}
