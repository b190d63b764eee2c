package channel

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes reconnection delays and decides when to give up.
// It is pure given (attempt, Base, MaxDelay, MaxAttempts): no hidden state,
// so it is testable without a live transport. Jitter spreads simultaneous
// reconnection attempts across many clients after a server restart.
type BackoffPolicy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// MaxAttempts is the consecutive-failure budget before giving up.
	// Zero or negative means retry forever.
	MaxAttempts int

	// Jitter is the random fraction added to each delay, e.g. 0.2 adds
	// up to 20%. Zero disables jitter.
	Jitter float64

	// Rand supplies the jitter randomness in [0,1). Defaults to
	// math/rand; tests inject a fixed source.
	Rand func() float64
}

// Delay returns the backoff delay for the given consecutive failure count:
// min(Base * 2^attempt, MaxDelay) * (1 + Jitter*rand).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.Base) * math.Pow(2, float64(attempt))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}

	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		d *= 1 + p.Jitter*r()
	}

	return time.Duration(d)
}

// Exhausted reports whether the attempt budget is spent.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
