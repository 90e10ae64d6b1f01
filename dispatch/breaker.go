package dispatch

import (
	"sync"
	"time"

	"github.com/convex-community/convex-go/protocol"
)

// Breaker is the consumed circuit-breaker contract. An open breaker fails
// calls fast with protocol.ErrCircuitOpen before any network attempt.
type Breaker interface {
	// Allow returns nil when a call may proceed.
	Allow() error

	// Record reports the outcome of a completed call.
	Record(err error)
}

// ConsecutiveBreaker opens after a run of transport failures and recloses
// after a recovery timeout.
type ConsecutiveBreaker struct {
	Threshold int
	Recovery  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
}

func (b *ConsecutiveBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if time.Since(b.openedAt) >= b.Recovery {
		// Half-open: let one call through.
		b.open = false
		b.failures = 0
		return nil
	}
	return protocol.ErrCircuitOpen
}

func (b *ConsecutiveBreaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || protocol.KindOf(err) != protocol.KindTransport {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.Threshold && !b.open {
		b.open = true
		b.openedAt = time.Now()
	}
}
