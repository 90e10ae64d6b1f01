package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convex-community/convex-go/protocol"
	"github.com/convex-community/convex-go/values"
)

// Observer receives updates for one live query. Exactly one of value and err
// is meaningful per delivery.
type Observer func(value values.Value, err error)

// Sender is the outbound path to the backend; satisfied by
// connection.Manager.
type Sender interface {
	Send(ctx context.Context, frame []byte) error

	// SendGuarded consults guard with the generation of the connection the
	// frame would go out on; a false return drops the frame as already
	// carried by that generation's replay.
	SendGuarded(ctx context.Context, frame []byte, guard func(generation uint64) bool) error
}

// Registry deduplicates live subscriptions by fingerprint and fans updates
// out to observers.
type Registry interface {
	// Subscribe attaches an observer to the live query for (path, args),
	// opening the wire subscription if this is the first observer.
	Subscribe(ctx context.Context, path string, args any, obs Observer) (*Handle, error)

	// TryGetCached returns the last known value with no network round trip.
	TryGetCached(path string, args any) (values.Value, bool)

	// Invalidate drops the cached value for one exact fingerprint. Active
	// subscriptions are not forced to refresh; inactive entries are simply
	// evicted.
	Invalidate(fp values.Fingerprint)

	// InvalidatePath drops cached values for every argument variant of the
	// function path.
	InvalidatePath(path string)

	// ReplayFrames returns one subscribe frame per live fingerprint in
	// stable order; the connection manager sends these on every reconnect
	// before publishing Connected. Each included subscription is marked
	// sent for the given connection generation, so a Subscribe racing the
	// replay does not emit a duplicate frame.
	ReplayFrames(generation uint64) [][]byte

	// HandleUpdate and HandleSubscriptionError are the connection manager's
	// inbound routing target (connection.UpdateSink).
	HandleUpdate(subscriptionID string, value values.Value)
	HandleSubscriptionError(subscriptionID string, message string)

	// Stats returns current statistics.
	Stats() Stats
}

// Stats provides statistics about the registry.
type Stats struct {
	ActiveSubscriptions int
	Observers           int
	CachedValues        int
	UpdatesDelivered    int64
}

type observerEntry struct {
	id int64
	fn Observer
}

// subscription is one shared wire-level live query. Owned exclusively by
// the registry; callers only ever hold a Handle.
type subscription struct {
	fp        values.Fingerprint
	id        string // wire subscription id
	refCount  int
	observers []observerEntry
	nextObs   int64
	sentGen   uint64 // connection generation the subscribe frame went out on
	seq       uint64 // bumped per delivered update or error

	// deliverMu serializes observer delivery so a late observer's cached
	// catch-up can never trail a newer update.
	deliverMu sync.Mutex
}

func (s *subscription) addObserver(fn Observer) int64 {
	s.nextObs++
	id := s.nextObs
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})
	return id
}

func (s *subscription) removeObserver(id int64) {
	for i, o := range s.observers {
		if o.id == id {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *subscription) snapshotObservers() []Observer {
	out := make([]Observer, len(s.observers))
	for i, o := range s.observers {
		out[i] = o.fn
	}
	return out
}

// registryImpl implements the Registry interface.
type registryImpl struct {
	sender Sender
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[values.Fingerprint]*subscription
	bySubID map[string]*subscription
	cache   map[values.Fingerprint]values.Value
	updates int64
}

// New creates a new subscription registry.
func New(sender Sender, logger *slog.Logger) Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &registryImpl{
		sender:  sender,
		logger:  logger,
		subs:    make(map[values.Fingerprint]*subscription),
		bySubID: make(map[string]*subscription),
		cache:   make(map[values.Fingerprint]values.Value),
	}
}

// Subscribe attaches an observer, opening the shared subscription on first
// use. A cached value, if present, is delivered to the new observer
// immediately.
func (r *registryImpl) Subscribe(ctx context.Context, path string, args any, obs Observer) (*Handle, error) {
	fp, err := values.NewFingerprint(path, args)
	if err != nil {
		return nil, &protocol.ArgumentError{Path: path, Err: err}
	}

	r.mu.Lock()
	sub, exists := r.subs[fp]
	if !exists {
		sub = &subscription{fp: fp, id: uuid.NewString()}
		r.subs[fp] = sub
		r.bySubID[sub.id] = sub
	}
	sub.refCount++
	obsID := sub.addObserver(obs)
	cached, hasCached := r.cache[fp]
	seqAtAttach := sub.seq
	r.mu.Unlock()

	if !exists {
		frame, err := subscribeFrame(sub)
		if err == nil {
			// A reconnect replay may carry this frame while we wait for the
			// connection; the claim keeps it to one send per generation.
			err = r.sender.SendGuarded(ctx, frame, func(generation uint64) bool {
				r.mu.Lock()
				defer r.mu.Unlock()
				if sub.sentGen == generation {
					return false
				}
				sub.sentGen = generation
				return true
			})
		}
		if err != nil {
			r.failSubscription(sub, obsID, err)
			return nil, err
		}
	} else if hasCached {
		// Serialized with update fan-out, and skipped when an update was
		// dispatched after this observer attached.
		sub.deliverMu.Lock()
		r.mu.Lock()
		fresh := sub.seq == seqAtAttach
		r.mu.Unlock()
		if fresh {
			obs(cached, nil)
		}
		sub.deliverMu.Unlock()
	}

	r.logger.Debug("subscribed",
		"path", path,
		"subscription_id", sub.id,
		"ref_count", sub.refCount,
	)

	return &Handle{registry: r, fp: fp, observerID: obsID}, nil
}

// failSubscription tears a subscription down after its opening send failed.
// Observers that attached while the send was in flight would otherwise wait
// on a query that never reached the wire; they get the failure instead.
func (r *registryImpl) failSubscription(sub *subscription, obsID int64, cause error) {
	r.mu.Lock()
	sub.removeObserver(obsID)
	sub.refCount--
	orphans := sub.snapshotObservers()
	delete(r.subs, sub.fp)
	delete(r.bySubID, sub.id)
	r.mu.Unlock()

	if len(orphans) == 0 {
		return
	}
	err := &protocol.SubscriptionError{
		Fingerprint: sub.fp.String(),
		Message:     "subscribe failed: " + cause.Error(),
	}
	sub.deliverMu.Lock()
	for _, fn := range orphans {
		fn(nil, err)
	}
	sub.deliverMu.Unlock()
}

// unsubscribe detaches one observer and tears the wire subscription down
// when the refcount reaches zero.
func (r *registryImpl) unsubscribe(fp values.Fingerprint, observerID int64) {
	r.mu.Lock()
	sub, ok := r.subs[fp]
	if !ok {
		r.mu.Unlock()
		return
	}
	sub.removeObserver(observerID)
	sub.refCount--
	last := sub.refCount == 0
	if last {
		delete(r.subs, fp)
		delete(r.bySubID, sub.id)
	}
	r.mu.Unlock()

	if !last {
		return
	}

	frame, err := json.Marshal(protocol.UnsubscribeFrame{
		Type:           "unsubscribe",
		SubscriptionID: sub.id,
	})
	if err != nil {
		return
	}

	// Best effort: the server also drops the subscription when the socket
	// goes away.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.sender.Send(ctx, frame); err != nil {
			r.logger.Debug("unsubscribe send failed",
				"subscription_id", sub.id,
				"error", err,
			)
		}
	}()
}

// TryGetCached returns the last known value without a network round trip.
func (r *registryImpl) TryGetCached(path string, args any) (values.Value, bool) {
	fp, err := values.NewFingerprint(path, args)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache[fp]
	return v, ok
}

// Invalidate evicts one cached value.
func (r *registryImpl) Invalidate(fp values.Fingerprint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, fp)
}

// InvalidatePath evicts cached values for every argument variant of path.
func (r *registryImpl) InvalidatePath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for fp := range r.cache {
		if fp.Path == path {
			delete(r.cache, fp)
		}
	}
}

// ReplayFrames returns exactly one subscribe frame per live fingerprint, in
// fingerprint order, regardless of how many handles reference each one. It
// stamps every included subscription with the connection generation, which
// a Subscribe blocked in SendGuarded checks before writing.
func (r *registryImpl) ReplayFrames(generation uint64) [][]byte {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		sub.sentGen = generation
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].fp.Less(subs[j].fp)
	})

	frames := make([][]byte, 0, len(subs))
	for _, sub := range subs {
		frame, err := subscribeFrame(sub)
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

// HandleUpdate replaces the cached value and notifies observers in
// registration order. Observers run outside the structural lock;
// per-fingerprint ordering is inherited from the connection's single read
// pump and enforced against cached catch-up deliveries by deliverMu.
func (r *registryImpl) HandleUpdate(subscriptionID string, value values.Value) {
	r.mu.Lock()
	sub, ok := r.bySubID[subscriptionID]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("update for unknown subscription", "subscription_id", subscriptionID)
		return
	}
	r.cache[sub.fp] = value
	r.updates++
	sub.seq++
	observers := sub.snapshotObservers()
	r.mu.Unlock()

	sub.deliverMu.Lock()
	for _, fn := range observers {
		fn(value, nil)
	}
	sub.deliverMu.Unlock()
}

// HandleSubscriptionError surfaces a server-side subscription error to the
// observers of the affected fingerprint only.
func (r *registryImpl) HandleSubscriptionError(subscriptionID string, message string) {
	r.mu.Lock()
	sub, ok := r.bySubID[subscriptionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	fp := sub.fp
	sub.seq++
	observers := sub.snapshotObservers()
	r.mu.Unlock()

	err := &protocol.SubscriptionError{Fingerprint: fp.String(), Message: message}
	sub.deliverMu.Lock()
	for _, fn := range observers {
		fn(nil, err)
	}
	sub.deliverMu.Unlock()
}

// Stats returns current statistics.
func (r *registryImpl) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	observers := 0
	for _, sub := range r.subs {
		observers += len(sub.observers)
	}
	return Stats{
		ActiveSubscriptions: len(r.subs),
		Observers:           observers,
		CachedValues:        len(r.cache),
		UpdatesDelivered:    r.updates,
	}
}

func subscribeFrame(sub *subscription) ([]byte, error) {
	return json.Marshal(protocol.SubscribeFrame{
		Type:           "subscribe",
		SubscriptionID: sub.id,
		Path:           sub.fp.Path,
		Args:           json.RawMessage(sub.fp.Args),
	})
}
