package connection

import (
	"errors"
	"time"

	"github.com/convex-community/convex-go/auth"
	"github.com/convex-community/convex-go/protocol"
	"github.com/convex-community/convex-go/values"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrSocketClosed    = errors.New("socket closed")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrManagerClosed   = errors.New("connection manager closed")
)

// State is the connection state machine's current state. Transitions are
// monotonic within one cycle and observable in the order they occur.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ClientConfig configures a single socket client.
type ClientConfig struct {
	URL          string             // Socket URL (e.g. wss://happy-otter-123.convex.cloud/api/sync)
	Tokens       auth.TokenProvider // nil = anonymous
	PingInterval time.Duration      // Keepalive ping period
	PingTimeout  time.Duration      // Max time without ping/pong before the connection is stale
	WriteTimeout time.Duration      // Write deadline for sends
	BufferSize   int                // Inbound message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	WSURL        string
	Tokens       auth.TokenProvider
	Policy       Policy
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Policy:       DefaultPolicy(),
		PingInterval: 30 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// Replayer supplies the subscribe frames to replay on every (re)connect,
// in a stable order, before the state is published as Connected. The
// generation identifies the connection the frames go out on; the replay
// source uses it to suppress a duplicate send racing the replay.
type Replayer interface {
	ReplayFrames(generation uint64) [][]byte
}

// UpdateSink receives server-pushed subscription traffic.
type UpdateSink interface {
	HandleUpdate(subscriptionID string, value values.Value)
	HandleSubscriptionError(subscriptionID string, message string)
}

// ResponseSink receives one-shot call responses and transport-level
// failures of all in-flight requests.
type ResponseSink interface {
	HandleResponse(frame protocol.ServerFrame)
	FailAllPending(err error)
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State          State
	Reconnects     int64
	FramesSent     int64
	FramesReceived int64
}
