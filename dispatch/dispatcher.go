package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convex-community/convex-go/connection"
	"github.com/convex-community/convex-go/protocol"
	"github.com/convex-community/convex-go/values"
)

// Options tunes one call. The zero value uses dispatcher defaults.
type Options struct {
	Timeout   time.Duration
	Retry     *RetryPolicy
	Unordered bool // opt this mutation out of FIFO submission order
}

// Config holds dispatcher defaults.
type Config struct {
	CallTimeout time.Duration
	Retry       RetryPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 10 * time.Second,
		Retry:       DefaultRetryPolicy(3, time.Second, 30*time.Second),
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the deadline/backoff clock.
func WithClock(c connection.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithBreaker installs a circuit breaker consulted before every call.
func WithBreaker(b Breaker) Option {
	return func(d *Dispatcher) { d.breaker = b }
}

// Stats provides statistics about the dispatcher.
type Stats struct {
	Calls    int64
	Retries  int64
	Failures int64
}

// Dispatcher performs one-shot calls over a pluggable transport.
type Dispatcher struct {
	cfg       Config
	transport Transport
	clock     connection.Clock
	logger    *slog.Logger
	breaker   Breaker

	// Held across frame submission of ordered mutations: first submitted,
	// first sent.
	mutationMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Dispatcher on the given transport.
func New(cfg Config, transport Transport, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		cfg:       cfg,
		transport: transport,
		clock:     connection.SystemClock,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Query runs a one-shot query without a subscription.
func (d *Dispatcher) Query(ctx context.Context, path string, args any, opts Options) (values.Value, error) {
	return d.Call(ctx, protocol.KindQuery, path, args, opts)
}

// Mutation runs a mutation. Mutations on the same dispatcher are sent in
// submission order unless opts.Unordered is set.
func (d *Dispatcher) Mutation(ctx context.Context, path string, args any, opts Options) (values.Value, error) {
	return d.Call(ctx, protocol.KindMutation, path, args, opts)
}

// Action runs an action.
func (d *Dispatcher) Action(ctx context.Context, path string, args any, opts Options) (values.Value, error) {
	return d.Call(ctx, protocol.KindAction, path, args, opts)
}

// Call performs a one-shot call with timeout, retry and cancellation
// semantics. Cancellation always takes precedence over the retry budget.
func (d *Dispatcher) Call(ctx context.Context, kind protocol.CallKind, path string, args any, opts Options) (values.Value, error) {
	d.statsMu.Lock()
	d.stats.Calls++
	d.statsMu.Unlock()

	if d.breaker != nil {
		if err := d.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	encoded, err := values.Encode(args)
	if err != nil {
		return nil, &protocol.ArgumentError{Path: path, Err: err}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = d.cfg.CallTimeout
	}
	retry := d.cfg.Retry
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	ordered := kind == protocol.KindMutation && !opts.Unordered

	attempt := 0
	for {
		attempt++

		v, err := d.attempt(ctx, kind, path, encoded, timeout, ordered)
		if d.breaker != nil {
			d.breaker.Record(err)
		}
		if err == nil {
			return v, nil
		}

		// Caller cancellation suppresses any remaining retry budget.
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			d.recordFailure()
			return nil, err
		}

		if !retry.ShouldRetry(err, attempt) {
			d.recordFailure()
			return nil, err
		}

		delay := retry.Delay(attempt)
		var rle *protocol.RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter > delay {
			delay = rle.RetryAfter
		}

		d.statsMu.Lock()
		d.stats.Retries++
		d.statsMu.Unlock()
		d.logger.Debug("retrying call",
			"path", path,
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			d.recordFailure()
			return nil, ctx.Err()
		case <-d.clock.After(delay):
		}
	}
}

// attempt runs one try with a fresh correlation id and deadline.
func (d *Dispatcher) attempt(ctx context.Context, kind protocol.CallKind, path, encoded string, timeout time.Duration, ordered bool) (values.Value, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := Request{
		ID:          uuid.NewString(),
		Kind:        kind,
		Path:        path,
		EncodedArgs: encoded,
	}

	var (
		p   *Pending
		err error
	)
	if ordered {
		d.mutationMu.Lock()
		p, err = d.transport.Start(attemptCtx, req)
		d.mutationMu.Unlock()
	} else {
		p, err = d.transport.Start(attemptCtx, req)
	}
	if err != nil {
		return nil, err
	}
	defer p.Cancel()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.clock.After(timeout):
		return nil, &protocol.TimeoutError{Path: path, Elapsed: timeout}
	case res := <-p.Done():
		return res.Value, res.Err
	}
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Dispatcher) recordFailure() {
	d.statsMu.Lock()
	d.stats.Failures++
	d.statsMu.Unlock()
}
