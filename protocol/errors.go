package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/convex-community/convex-go/values"
)

// ErrorKind classifies failures for retry decisions and caller branching.
type ErrorKind int

const (
	KindUnknown       ErrorKind = iota
	KindTransport               // connect failure, socket closed: retryable
	KindFunction                // server rejected the call: not retryable
	KindArgument                // client-side validation: not retryable
	KindRateLimit               // retry after a server-specified delay
	KindCircuitOpen             // failed fast locally, no network attempt
	KindSerialization           // fatal to the single call, never the connection
	KindTimeout                 // deadline elapsed
	KindCanceled                // caller canceled; always suppresses retry
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindFunction:
		return "function"
	case KindArgument:
		return "argument"
	case KindRateLimit:
		return "rate_limit"
	case KindCircuitOpen:
		return "circuit_open"
	case KindSerialization:
		return "serialization"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// TransportError wraps a network-level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FunctionError is an application error returned by the backend for one
// specific function call.
type FunctionError struct {
	Path    string
	Message string
	Data    values.Value
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("function %s failed: %s", e.Path, e.Message)
}

// ArgumentError reports client-side argument validation or encoding failure.
type ArgumentError struct {
	Path string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Path, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// RateLimitError reports a server-side rate limit with a requested delay.
type RateLimitError struct {
	Path       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Path, e.RetryAfter)
}

// SerializationError reports a response that could not be decoded.
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error for %s: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// SubscriptionError is a server error scoped to one live subscription; it
// surfaces only to observers of the affected fingerprint.
type SubscriptionError struct {
	Fingerprint string
	Message     string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s failed: %s", e.Fingerprint, e.Message)
}

// TimeoutError reports an elapsed call deadline, distinct from cancellation.
type TimeoutError struct {
	Path    string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to %s timed out after %s", e.Path, e.Elapsed)
}

// ErrCircuitOpen fails calls fast while a circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrConnectionFailed is the terminal state after a bounded reconnection
// policy is exhausted.
var ErrConnectionFailed = errors.New("connection permanently failed")

// KindOf classifies any error produced by this module.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	}
	var (
		te  *TransportError
		fe  *FunctionError
		ae  *ArgumentError
		rle *RateLimitError
		se  *SerializationError
		toe *TimeoutError
	)
	switch {
	case errors.As(err, &te):
		return KindTransport
	case errors.As(err, &fe):
		return KindFunction
	case errors.As(err, &ae):
		return KindArgument
	case errors.As(err, &rle):
		return KindRateLimit
	case errors.As(err, &se):
		return KindSerialization
	case errors.As(err, &toe):
		return KindTimeout
	}
	return KindUnknown
}

// IsRetryable reports whether a failure may be retried by policy.
// Cancellation is never retryable regardless of classification.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindRateLimit, KindTimeout:
		return true
	}
	return false
}
