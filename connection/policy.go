package connection

import (
	"math/rand"
	"time"
)

// Policy controls reconnection behavior. The attempt counter is owned by the
// Manager and resets to zero on every successful connection.
type Policy struct {
	MaxAttempts int           // 0 = unlimited
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool
	Jitter      bool
}

// DefaultPolicy returns unlimited exponential backoff with jitter.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Exponential: true,
		Jitter:      true,
	}
}

// Exhausted reports whether the attempt counter has used up a bounded policy.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Delay computes the wait before the given attempt (counting from 1).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	if p.Exponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		// Spread over (0.5x, 1.5x), capped.
		d = d/2 + time.Duration(rand.Int63n(int64(d)))
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}
