// Package backoff implements the exponential-backoff-with-jitter retry delay
// shared by the connection manager and the offline queue.
//
// Delays grow as base·2^attempt up to a cap, with ±jitter randomization so a
// fleet of reconnecting clients does not produce synchronized retry storms.
package backoff

import (
	"math/rand"
	"time"
)

// Policy describes one backoff curve. The zero value is not usable; use New.
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // fraction of the delay randomized in each direction, e.g. 0.2
}

// New returns a policy with sane fallbacks for unset fields: 1s base, 30s
// cap, ±20% jitter.
func New(base, cap time.Duration, jitter float64) Policy {
	if base <= 0 {
		base = time.Second
	}
	if cap <= 0 {
		cap = 30 * time.Second
	}
	if jitter < 0 || jitter >= 1 {
		jitter = 0.2
	}
	return Policy{Base: base, Cap: cap, Jitter: jitter}
}

// Delay returns the backoff delay for the given zero-based attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			d = p.Cap
			break
		}
	}
	if d > p.Cap {
		d = p.Cap
	}

	if p.Jitter > 0 {
		// Spread across [d·(1-jitter), d·(1+jitter)].
		span := float64(d) * p.Jitter
		d = time.Duration(float64(d) - span + rand.Float64()*2*span)
	}
	return d
}

// Bounds returns the minimum and maximum possible delay for an attempt,
// useful for schedulers that need the envelope rather than a sample.
func (p Policy) Bounds(attempt int) (min, max time.Duration) {
	saved := p.Jitter
	p.Jitter = 0
	d := p.Delay(attempt)
	p.Jitter = saved

	span := time.Duration(float64(d) * p.Jitter)
	return d - span, d + span
}
