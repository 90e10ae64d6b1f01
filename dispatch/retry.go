package dispatch

import (
	"math/rand"
	"time"

	"github.com/convex-community/convex-go/protocol"
)

// Backoff selects the delay growth shape between retry attempts.
type Backoff int

const (
	BackoffConstant Backoff = iota
	BackoffLinear
	BackoffExponential
)

// RetryPolicy governs retries of one-shot calls. The zero value never
// retries.
type RetryPolicy struct {
	MaxAttempts int // total attempts including the first
	Backoff     Backoff
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	// RetryOn lists the error kinds worth another attempt. Nil means the
	// default retryable set (transport, rate limit, timeout).
	RetryOn map[protocol.ErrorKind]bool
}

// DefaultRetryPolicy retries transient failures with exponential backoff.
func DefaultRetryPolicy(maxRetries int, base, maxDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxRetries + 1,
		Backoff:     BackoffExponential,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      true,
	}
}

// ShouldRetry reports whether the failed attempt may be followed by another.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	kind := protocol.KindOf(err)
	if p.RetryOn != nil {
		return p.RetryOn[kind]
	}
	return protocol.IsRetryable(err)
}

// Delay computes the wait after the given attempt (counting from 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	switch p.Backoff {
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(attempt)
	case BackoffExponential:
		for i := 1; i < attempt; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		// Spread over (0.5x, 1.5x), like the reconnect policy.
		d = d/2 + time.Duration(rand.Int63n(int64(d)))
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}
