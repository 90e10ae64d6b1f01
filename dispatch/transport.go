package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/convex-community/convex-go/protocol"
	"github.com/convex-community/convex-go/values"
)

// Request is one encoded call attempt. Every attempt carries a fresh
// correlation id.
type Request struct {
	ID          string
	Kind        protocol.CallKind
	Path        string
	EncodedArgs string
}

// Result resolves one attempt.
type Result struct {
	Value values.Value
	Err   error
}

// Pending tracks an in-flight attempt until its result arrives.
type Pending struct {
	ch     <-chan Result
	cancel func()
}

// NewPending wraps a result channel; cancel unregisters the local waiter.
func NewPending(ch <-chan Result, cancel func()) *Pending {
	if cancel == nil {
		cancel = func() {}
	}
	return &Pending{ch: ch, cancel: cancel}
}

// Done yields the attempt's result.
func (p *Pending) Done() <-chan Result { return p.ch }

// Cancel unregisters the waiter. The server-side effect may still happen.
func (p *Pending) Cancel() { p.cancel() }

// Transport submits one attempt. Start must return once the request is on
// the wire (or handed to the HTTP client); the Pending resolves later.
type Transport interface {
	Start(ctx context.Context, req Request) (*Pending, error)
}

// Sender is the serialized outbound path; satisfied by connection.Manager.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// SocketTransport carries calls as request frames over the persistent
// socket, correlating responses by request id. It implements
// connection.ResponseSink for the manager's inbound routing.
type SocketTransport struct {
	sender Sender

	mu      sync.Mutex
	pending map[string]*pendingCall
}

type pendingCall struct {
	path string
	ch   chan Result
}

// NewSocketTransport creates the socket-backed transport.
func NewSocketTransport(sender Sender) *SocketTransport {
	return &SocketTransport{
		sender:  sender,
		pending: make(map[string]*pendingCall),
	}
}

// Start registers the correlation id and sends the request frame.
func (t *SocketTransport) Start(ctx context.Context, req Request) (*Pending, error) {
	frame, err := json.Marshal(protocol.RequestFrame{
		Type:      "request",
		RequestID: req.ID,
		Kind:      req.Kind,
		Path:      req.Path,
		Args:      json.RawMessage(req.EncodedArgs),
	})
	if err != nil {
		return nil, &protocol.SerializationError{Path: req.Path, Err: err}
	}

	pc := &pendingCall{path: req.Path, ch: make(chan Result, 1)}
	t.mu.Lock()
	t.pending[req.ID] = pc
	t.mu.Unlock()

	if err := t.sender.Send(ctx, frame); err != nil {
		t.remove(req.ID)
		return nil, err
	}

	return NewPending(pc.ch, func() { t.remove(req.ID) }), nil
}

// HandleResponse resolves the matching pending attempt, if any.
func (t *SocketTransport) HandleResponse(frame protocol.ServerFrame) {
	t.mu.Lock()
	pc, ok := t.pending[frame.RequestID]
	if ok {
		delete(t.pending, frame.RequestID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	pc.ch <- resultFromFrame(pc.path, frame)
}

// FailAllPending resolves every in-flight attempt with err. The connection
// manager calls this when the socket drops.
func (t *SocketTransport) FailAllPending(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]*pendingCall)
	t.mu.Unlock()

	for _, pc := range pending {
		pc.ch <- Result{Err: err}
	}
}

// PendingCount reports in-flight attempts.
func (t *SocketTransport) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *SocketTransport) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

func resultFromFrame(path string, frame protocol.ServerFrame) Result {
	if frame.Status == "error" {
		data, _ := values.DecodeRaw(frame.ErrorData)
		return Result{Err: &protocol.FunctionError{
			Path:    path,
			Message: frame.ErrorMessage,
			Data:    data,
		}}
	}

	v, err := values.DecodeRaw(frame.Value)
	if err != nil {
		return Result{Err: &protocol.SerializationError{Path: path, Err: err}}
	}
	return Result{Value: v}
}

// HTTPDoer executes a one-shot call over HTTP; satisfied by api.Client.
type HTTPDoer interface {
	Execute(ctx context.Context, kind protocol.CallKind, path string, encodedArgs string) (values.Value, error)
}

// HTTPTransport adapts the one-shot HTTP endpoint to the Transport seam.
type HTTPTransport struct {
	Doer HTTPDoer
}

// Start hands the call to the HTTP client; the Pending resolves when the
// round trip completes.
func (t *HTTPTransport) Start(ctx context.Context, req Request) (*Pending, error) {
	ch := make(chan Result, 1)
	go func() {
		v, err := t.Doer.Execute(ctx, req.Kind, req.Path, req.EncodedArgs)
		ch <- Result{Value: v, Err: err}
	}()
	return NewPending(ch, nil), nil
}
