// Package abuse rate-limits anonymous posting and tracks abuse scores.
//
// The guard always retains the true user ID. Anonymity is a presentation
// property applied by the coordinator when it builds the outward frame; it is
// never achieved by this package losing the author mapping.
package abuse

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sonet-social/messaging/config"
	"github.com/sonet-social/messaging/crypto"
)

var (
	// ErrRateLimited is surfaced synchronously to the sender together with
	// the remaining cooldown; a rejected send is never silently dropped.
	ErrRateLimited = errors.New("anonymous send rate limited")
	// ErrAbuseThresholdExceeded means the user's standing blocks anonymous
	// posting entirely.
	ErrAbuseThresholdExceeded = errors.New("abuse threshold exceeded")
)

// Standing is the progressive-discipline ladder.
type Standing string

const (
	StandingGood      Standing = "good"
	StandingWarned    Standing = "warned"
	StandingCooldown  Standing = "cooldown"
	StandingSuspended Standing = "suspended"
)

// Record is one user's rate-limit and abuse state. Mutated only by the guard;
// the moderation surface reads snapshots.
type Record struct {
	UserID         string    `json:"user_id"`
	WindowStart    time.Time `json:"window_start"`
	CountInWindow  int       `json:"count_in_window"`
	DayWindowStart time.Time `json:"day_window_start"`
	CountInDay     int       `json:"count_in_day"`
	CooldownUntil  time.Time `json:"cooldown_until,omitempty"`
	LastActivation time.Time `json:"last_activation,omitempty"`
	AbuseScore     float64   `json:"abuse_score"`
	Standing       Standing  `json:"standing"`
	Hidden         bool      `json:"hidden"`
}

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed bool
	// CooldownRemaining is how long the sender must wait; zero when Allowed
	// or when the block is permanent.
	CooldownRemaining time.Duration
	// Hidden marks content that will be auto-hidden pending moderator review.
	Hidden bool
}

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// Guard enforces the anonymous-send policy. Safe for concurrent use.
type Guard struct {
	cfg   config.AbuseConfig
	clock crypto.TimeProvider

	mu      sync.Mutex
	records map[string]*Record
}

// NewGuard creates a guard with the given policy. A nil clock uses real time.
func NewGuard(cfg config.AbuseConfig, clock crypto.TimeProvider) *Guard {
	if clock == nil {
		clock = crypto.DefaultTimeProvider{}
	}
	return &Guard{
		cfg:     cfg,
		clock:   clock,
		records: make(map[string]*Record),
	}
}

// CheckAndRecord decides whether one anonymous send may proceed and, when
// allowed, counts it against the user's windows. Windows are evaluated lazily
// against the current time; there is no background sweep.
func (g *Guard) CheckAndRecord(userID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	rec := g.recordLocked(userID, now)
	g.rollWindowsLocked(rec, now)

	if rec.Standing == StandingSuspended {
		return Decision{Allowed: false}
	}
	if now.Before(rec.CooldownUntil) {
		return Decision{Allowed: false, CooldownRemaining: rec.CooldownUntil.Sub(now)}
	}
	if rec.CountInWindow >= g.cfg.HourlyLimit {
		return Decision{Allowed: false, CooldownRemaining: rec.WindowStart.Add(hourWindow).Sub(now)}
	}
	if rec.CountInDay >= g.cfg.DailyLimit {
		return Decision{Allowed: false, CooldownRemaining: rec.DayWindowStart.Add(dayWindow).Sub(now)}
	}

	rec.CountInWindow++
	rec.CountInDay++
	return Decision{Allowed: true, Hidden: rec.Hidden}
}

// Activate records the user switching anonymous mode on. Successive
// activations closer together than the configured cooldown are refused,
// independent of the send windows.
func (g *Guard) Activate(userID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	rec := g.recordLocked(userID, now)

	if rec.Standing == StandingSuspended {
		return Decision{Allowed: false}
	}
	if !rec.LastActivation.IsZero() {
		since := now.Sub(rec.LastActivation)
		if since < g.cfg.ActivationCooldown {
			return Decision{Allowed: false, CooldownRemaining: g.cfg.ActivationCooldown - since}
		}
	}

	rec.LastActivation = now
	return Decision{Allowed: true, Hidden: rec.Hidden}
}

// Flag applies an external classifier signal (spam, toxicity) to the user's
// abuse score and escalates their standing across the configured thresholds.
// Crossing the hide threshold auto-hides future anonymous content pending
// moderator review.
func (g *Guard) Flag(userID string, weight float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	rec := g.recordLocked(userID, now)
	rec.AbuseScore += weight * g.cfg.FlagWeight

	if rec.AbuseScore >= g.cfg.HideScore {
		rec.Hidden = true
	}

	previous := rec.Standing
	switch {
	case rec.AbuseScore >= g.cfg.SuspendScore:
		rec.Standing = StandingSuspended
	case rec.AbuseScore >= g.cfg.CooldownScore:
		rec.Standing = StandingCooldown
		if cooldown := now.Add(g.cfg.CooldownDuration); cooldown.After(rec.CooldownUntil) {
			rec.CooldownUntil = cooldown
		}
	case rec.AbuseScore >= g.cfg.WarnScore:
		rec.Standing = StandingWarned
	}

	if rec.Standing != previous {
		logrus.WithFields(logrus.Fields{
			"function": "Flag",
			"user_id":  userID,
			"score":    rec.AbuseScore,
			"standing": string(rec.Standing),
		}).Warn("User standing escalated")
	}
}

// Lookup returns a snapshot of a user's record for the moderation surface,
// with windows rolled forward to the current time. ok is false when the user
// has no anonymous-send history.
func (g *Guard) Lookup(userID string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, exists := g.records[userID]
	if !exists {
		return Record{}, false
	}
	g.rollWindowsLocked(rec, g.clock.Now())
	return *rec, true
}

func (g *Guard) recordLocked(userID string, now time.Time) *Record {
	rec, exists := g.records[userID]
	if !exists {
		rec = &Record{
			UserID:         userID,
			WindowStart:    now,
			DayWindowStart: now,
			Standing:       StandingGood,
		}
		g.records[userID] = rec
	}
	return rec
}

// rollWindowsLocked resets expired sliding windows. Standing does not decay;
// only moderator action reverses an escalation.
func (g *Guard) rollWindowsLocked(rec *Record, now time.Time) {
	if now.Sub(rec.WindowStart) >= hourWindow {
		rec.WindowStart = now
		rec.CountInWindow = 0
	}
	if now.Sub(rec.DayWindowStart) >= dayWindow {
		rec.DayWindowStart = now
		rec.CountInDay = 0
	}
	if rec.Standing == StandingCooldown && !now.Before(rec.CooldownUntil) {
		rec.Standing = StandingWarned
	}
}
