package abuse

import (
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sonet-social/messaging/config"
)

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

func testAbuseConfig() config.AbuseConfig {
	return config.AbuseConfig{
		HourlyLimit:        10,
		DailyLimit:         50,
		ActivationCooldown: 5 * time.Minute,
		FlagWeight:         1.0,
		WarnScore:          3.0,
		CooldownScore:      5.0,
		CooldownDuration:   time.Hour,
		SuspendScore:       10.0,
		HideScore:          5.0,
	}
}

// TestHourlyWindowCap verifies the first 10 sends in an hour pass and the
// 11th is refused with a nonzero cooldown.
func TestHourlyWindowCap(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	g := NewGuard(testAbuseConfig(), clock)

	for i := 0; i < 10; i++ {
		if d := g.CheckAndRecord("alice"); !d.Allowed {
			t.Fatalf("send %d refused, want allowed", i+1)
		}
		clock.Advance(time.Minute)
	}

	d := g.CheckAndRecord("alice")
	if d.Allowed {
		t.Fatal("11th send allowed, want rate limited")
	}
	if d.CooldownRemaining <= 0 {
		t.Errorf("CooldownRemaining = %v, want positive", d.CooldownRemaining)
	}
}

// TestWindowRollsLazily verifies an expired hourly window resets on the next
// check without any background sweep.
func TestWindowRollsLazily(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	g := NewGuard(testAbuseConfig(), clock)

	for i := 0; i < 10; i++ {
		g.CheckAndRecord("alice")
	}
	if d := g.CheckAndRecord("alice"); d.Allowed {
		t.Fatal("expected rate limit at hourly cap")
	}

	clock.Advance(time.Hour + time.Second)
	if d := g.CheckAndRecord("alice"); !d.Allowed {
		t.Error("send after window expiry refused, want allowed")
	}
}

// TestDailyWindowCap verifies the daily cap binds even when hourly windows
// keep resetting.
func TestDailyWindowCap(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	g := NewGuard(testAbuseConfig(), clock)

	sent := 0
	for hour := 0; hour < 6; hour++ {
		for i := 0; i < 10; i++ {
			if g.CheckAndRecord("alice").Allowed {
				sent++
			}
		}
		clock.Advance(time.Hour + time.Second)
	}
	if sent != 50 {
		t.Errorf("allowed %d sends across the day, want 50", sent)
	}
}

// TestUsersAreIndependent verifies one user's cap does not affect another.
func TestUsersAreIndependent(t *testing.T) {
	t.Parallel()

	g := NewGuard(testAbuseConfig(), newFakeClock())
	for i := 0; i < 10; i++ {
		g.CheckAndRecord("alice")
	}

	if d := g.CheckAndRecord("bob"); !d.Allowed {
		t.Error("bob refused because alice hit her cap")
	}
}

// TestActivationCooldown verifies anonymous-mode activations must be spaced
// by the configured cooldown.
func TestActivationCooldown(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	g := NewGuard(testAbuseConfig(), clock)

	if d := g.Activate("alice"); !d.Allowed {
		t.Fatal("first activation refused")
	}

	clock.Advance(2 * time.Minute)
	d := g.Activate("alice")
	if d.Allowed {
		t.Fatal("activation inside cooldown allowed")
	}
	if d.CooldownRemaining != 3*time.Minute {
		t.Errorf("CooldownRemaining = %v, want 3m", d.CooldownRemaining)
	}

	clock.Advance(3 * time.Minute)
	if d := g.Activate("alice"); !d.Allowed {
		t.Error("activation after cooldown refused")
	}
}

// TestFlagEscalatesStanding walks the discipline ladder: warned, then
// cooldown, then suspended, with auto-hide at its threshold.
func TestFlagEscalatesStanding(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	g := NewGuard(testAbuseConfig(), clock)
	g.CheckAndRecord("mallory")

	g.Flag("mallory", 3.0)
	rec, _ := g.Lookup("mallory")
	if rec.Standing != StandingWarned {
		t.Errorf("standing after score 3 = %s, want warned", rec.Standing)
	}
	if rec.Hidden {
		t.Error("hidden at score 3, want visible")
	}

	g.Flag("mallory", 2.0)
	rec, _ = g.Lookup("mallory")
	if rec.Standing != StandingCooldown {
		t.Errorf("standing after score 5 = %s, want cooldown", rec.Standing)
	}
	if !rec.Hidden {
		t.Error("not hidden at hide threshold")
	}
	if d := g.CheckAndRecord("mallory"); d.Allowed {
		t.Error("send allowed during discipline cooldown")
	}

	g.Flag("mallory", 5.0)
	rec, _ = g.Lookup("mallory")
	if rec.Standing != StandingSuspended {
		t.Errorf("standing after score 10 = %s, want suspended", rec.Standing)
	}

	// Suspension is permanent for the guard; no window reset revives it.
	clock.Advance(48 * time.Hour)
	if d := g.CheckAndRecord("mallory"); d.Allowed {
		t.Error("suspended user allowed to send")
	}
}

// TestCooldownStandingRelaxesToWarned verifies a served cooldown drops the
// user back to warned rather than good.
func TestCooldownStandingRelaxesToWarned(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	g := NewGuard(testAbuseConfig(), clock)
	g.CheckAndRecord("mallory")
	g.Flag("mallory", 5.0)

	clock.Advance(time.Hour + time.Second)
	if d := g.CheckAndRecord("mallory"); !d.Allowed {
		t.Fatal("send after served cooldown refused")
	}
	rec, _ := g.Lookup("mallory")
	if rec.Standing != StandingWarned {
		t.Errorf("standing after served cooldown = %s, want warned", rec.Standing)
	}
}

// TestHiddenDecisionPropagates verifies that once a user crosses the hide
// threshold, their allowed sends carry the hidden marker.
func TestHiddenDecisionPropagates(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	g := NewGuard(testAbuseConfig(), clock)
	g.Flag("mallory", 5.0)

	rec, _ := g.Lookup("mallory")
	if !rec.Hidden {
		t.Fatal("record not hidden at hide threshold")
	}

	clock.Advance(time.Hour + time.Second)
	d := g.CheckAndRecord("mallory")
	if !d.Allowed {
		t.Fatal("send after served cooldown refused")
	}
	if !d.Hidden {
		t.Error("allowed send from hidden user missing hidden marker")
	}
}

// TestModerationSurface verifies the read-only HTTP endpoint returns the
// record as JSON and 404s for unknown users.
func TestModerationSurface(t *testing.T) {
	t.Parallel()

	g := NewGuard(testAbuseConfig(), newFakeClock())
	g.CheckAndRecord("alice")
	g.Flag("alice", 3.0)

	srv := httptest.NewServer(ModerationHandler(g))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/moderation/ratelimits/alice")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if rec.UserID != "alice" || rec.CountInWindow != 1 || rec.Standing != StandingWarned {
		t.Errorf("record = %+v, want alice with one send and warned standing", rec)
	}

	missing, err := srv.Client().Get(srv.URL + "/moderation/ratelimits/nobody")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != 404 {
		t.Errorf("status for unknown user = %d, want 404", missing.StatusCode)
	}
}
