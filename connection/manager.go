package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/convex-community/convex-go/buffer"
	"github.com/convex-community/convex-go/protocol"
	"github.com/convex-community/convex-go/values"
)

// Manager orchestrates the persistent connection and its state machine.
type Manager interface {
	// State returns the current connection state.
	State() State

	// OnStateChange registers a listener invoked for every transition, in
	// the order transitions occur, with no coalescing. The returned func
	// removes the listener.
	OnStateChange(fn func(State)) (cancel func())

	// Send writes one frame, lazily connecting on first use and waiting for
	// the connection to be published as Connected.
	Send(ctx context.Context, frame []byte) error

	// SendGuarded writes one frame like Send, but consults guard with the
	// generation of the connection the frame would go out on just before
	// writing. A false return drops the frame: the replay for that
	// generation already carried it.
	SendGuarded(ctx context.Context, frame []byte, guard func(generation uint64) bool) error

	// SetReplayer wires the subscription registry's replay source.
	SetReplayer(r Replayer)

	// SetSinks wires inbound routing for push updates and call responses.
	SetSinks(updates UpdateSink, responses ResponseSink)

	// Close shuts the manager down.
	Close(ctx context.Context) error

	// Stats returns current statistics.
	Stats() ManagerStats
}

// ClientFactory builds socket clients; swapped out in tests.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// ManagerOption configures a Manager.
type ManagerOption func(*manager)

// WithClientFactory replaces the socket client constructor.
func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *manager) { m.factory = f }
}

// WithClock replaces the reconnection delay clock.
func WithClock(c Clock) ManagerOption {
	return func(m *manager) { m.clock = c }
}

type stateListener struct {
	id int64
	fn func(State)
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	factory ClientFactory
	clock   Clock

	mu           sync.Mutex
	state        State
	stateChanged chan struct{} // closed and replaced on every transition
	client       Client
	generation   uint64 // bumped per connect attempt; nonzero once dialing
	running      bool
	closed       bool
	listeners    []stateListener
	nextListener int64
	replayer     Replayer
	updates      UpdateSink
	responses    ResponseSink
	stats        ManagerStats

	events  *buffer.Queue[State]
	done    chan struct{}
	runCtx  context.Context
	stopRun context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a new Connection Manager. No connection is attempted
// until the first Send.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...ManagerOption) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	m := &manager{
		cfg:          cfg,
		logger:       logger,
		factory:      NewClient,
		clock:        SystemClock,
		state:        StateDisconnected,
		stateChanged: make(chan struct{}),
		events:       buffer.NewQueue[State](16),
		done:         make(chan struct{}),
		runCtx:       runCtx,
		stopRun:      stopRun,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.notifyLoop()

	return m
}

// State returns the current state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers a transition listener.
func (m *manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	m.nextListener++
	id := m.nextListener
	m.listeners = append(m.listeners, stateListener{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// SetReplayer wires the replay source used before publishing Connected.
func (m *manager) SetReplayer(r Replayer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayer = r
}

// SetSinks wires inbound frame routing.
func (m *manager) SetSinks(updates UpdateSink, responses ResponseSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = updates
	m.responses = responses
}

// Send writes one frame over the connection. The first call triggers the
// lazy connect; callers block until Connected, their context ends, or the
// policy is exhausted.
func (m *manager) Send(ctx context.Context, frame []byte) error {
	return m.sendFrame(ctx, frame, nil)
}

// SendGuarded is Send with a pre-write check against the connection
// generation, used for subscribe frames the connect replay may have already
// covered while the caller was waiting.
func (m *manager) SendGuarded(ctx context.Context, frame []byte, guard func(generation uint64) bool) error {
	return m.sendFrame(ctx, frame, guard)
}

func (m *manager) sendFrame(ctx context.Context, frame []byte, guard func(uint64) bool) error {
	for {
		m.mu.Lock()
		switch {
		case m.closed:
			m.mu.Unlock()
			return ErrManagerClosed

		case m.state == StateFailed:
			m.mu.Unlock()
			return protocol.ErrConnectionFailed

		case m.state == StateConnected && m.client != nil:
			cl := m.client
			if guard != nil && !guard(m.generation) {
				m.mu.Unlock()
				return nil
			}
			m.stats.FramesSent++
			m.mu.Unlock()
			if err := cl.Send(frame); err != nil {
				m.handleDisconnect(cl, err)
				return &protocol.TransportError{Op: "send", Err: err}
			}
			return nil

		default:
			m.ensureRunLocked()
			changed := m.stateChanged
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.done:
				return ErrManagerClosed
			case <-changed:
			}
		}
	}
}

// Close shuts down the manager and the active connection.
func (m *manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cl := m.client
	m.client = nil
	m.mu.Unlock()

	close(m.done)
	m.stopRun()
	if cl != nil {
		cl.Close()
	}
	m.events.Close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	m.logger.Info("connection manager closed")
	return nil
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.State = m.state
	return s
}

// ensureRunLocked starts the connect loop if no cycle is in flight.
// Caller holds m.mu.
func (m *manager) ensureRunLocked() {
	if m.running || m.closed || m.state == StateFailed || m.state == StateConnected {
		return
	}
	m.running = true
	if m.state == StateDisconnected {
		m.transitionLocked(StateConnecting)
	}
	m.wg.Add(1)
	go m.run()
}

// run is the connect loop: one attempt per iteration, policy-driven delays
// between attempts, terminal Failed when a bounded policy is exhausted.
func (m *manager) run() {
	defer m.wg.Done()

	attempt := 0
	for {
		select {
		case <-m.done:
			m.clearRunning()
			return
		default:
		}

		m.mu.Lock()
		m.generation++
		gen := m.generation
		m.mu.Unlock()

		cl := m.factory(m.clientConfig(), m.logger)
		err := m.connectOnce(cl, gen)
		if err == nil {
			m.mu.Lock()
			m.client = cl
			m.running = false
			m.transitionLocked(StateConnected)
			m.mu.Unlock()

			m.wg.Add(1)
			go m.readPump(cl)
			return
		}
		cl.Close()

		attempt++
		m.logger.Warn("connect attempt failed",
			"attempt", attempt,
			"error", err,
		)

		if m.cfg.Policy.Exhausted(attempt) {
			m.mu.Lock()
			m.running = false
			m.transitionLocked(StateFailed)
			rs := m.responses
			m.mu.Unlock()
			m.logger.Error("reconnection policy exhausted", "attempts", attempt)
			if rs != nil {
				rs.FailAllPending(protocol.ErrConnectionFailed)
			}
			return
		}

		m.setState(StateReconnecting)

		select {
		case <-m.done:
			m.clearRunning()
			return
		case <-m.clock.After(m.cfg.Policy.Delay(attempt)):
		}
	}
}

// connectOnce dials and, on success, replays every live subscription before
// the caller publishes Connected. A replay failure fails the whole attempt.
func (m *manager) connectOnce(cl Client, gen uint64) error {
	if err := cl.Connect(m.runCtx); err != nil {
		return err
	}

	m.mu.Lock()
	r := m.replayer
	m.mu.Unlock()

	if r != nil {
		for _, frame := range r.ReplayFrames(gen) {
			if err := cl.Send(frame); err != nil {
				return fmt.Errorf("replay subscribe: %w", err)
			}
		}
	}
	return nil
}

func (m *manager) clientConfig() ClientConfig {
	return ClientConfig{
		URL:          m.cfg.WSURL,
		Tokens:       m.cfg.Tokens,
		PingInterval: m.cfg.PingInterval,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}
}

// readPump is the single inbound loop for one connection generation.
func (m *manager) readPump(cl Client) {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return

		case err := <-cl.Errors():
			m.handleDisconnect(cl, err)
			return

		case data, ok := <-cl.Messages():
			if !ok {
				m.handleDisconnect(cl, ErrSocketClosed)
				return
			}
			m.mu.Lock()
			m.stats.FramesReceived++
			m.mu.Unlock()
			m.routeFrame(data)
		}
	}
}

// handleDisconnect moves to Reconnecting, fails in-flight requests with a
// retryable transport error, and restarts the connect loop. Resolved
// subscriptions are untouched; they go stale until resubscribed on replay.
func (m *manager) handleDisconnect(cl Client, err error) {
	m.mu.Lock()
	if m.client != cl || m.closed {
		m.mu.Unlock()
		return
	}
	m.client = nil
	m.stats.Reconnects++
	m.transitionLocked(StateReconnecting)
	m.ensureRunLocked()
	rs := m.responses
	m.mu.Unlock()

	cl.Close()
	m.logger.Warn("connection lost", "error", err)

	if rs != nil {
		rs.FailAllPending(&protocol.TransportError{Op: "await response", Err: err})
	}
}

// routeFrame decodes one inbound frame and routes it by type: push updates
// and subscription errors to the registry, responses to the dispatcher.
func (m *manager) routeFrame(data []byte) {
	var frame protocol.ServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.logger.Warn("unparseable frame", "error", err)
		return
	}

	m.mu.Lock()
	updates := m.updates
	responses := m.responses
	m.mu.Unlock()

	switch frame.Type {
	case "update":
		if updates == nil {
			return
		}
		v, err := values.DecodeRaw(frame.Value)
		if err != nil {
			m.logger.Warn("undecodable update value",
				"subscription_id", frame.SubscriptionID,
				"error", err,
			)
			return
		}
		updates.HandleUpdate(frame.SubscriptionID, v)

	case "error":
		if updates == nil {
			return
		}
		updates.HandleSubscriptionError(frame.SubscriptionID, subscriptionErrorMessage(frame.Error))

	case "response":
		if responses != nil {
			responses.HandleResponse(frame)
		}

	default:
		m.logger.Debug("unknown frame type", "type", frame.Type)
	}
}

// subscriptionErrorMessage accepts both a bare string and {"message": ...}.
func subscriptionErrorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func (m *manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(s)
}

func (m *manager) clearRunning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

// transitionLocked publishes a state change. Transitions are queued under
// the lock so listeners observe them in the exact order they occurred.
// Caller holds m.mu.
func (m *manager) transitionLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.events.Push(s)
	close(m.stateChanged)
	m.stateChanged = make(chan struct{})
}

// notifyLoop drains queued transitions and invokes listeners outside the
// structural lock, in registration order.
func (m *manager) notifyLoop() {
	defer m.wg.Done()

	for {
		s, ok := m.events.Pop()
		if !ok {
			return
		}

		m.mu.Lock()
		snapshot := make([]stateListener, len(m.listeners))
		copy(snapshot, m.listeners)
		m.mu.Unlock()

		for _, l := range snapshot {
			l.fn(s)
		}
	}
}
