package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/convex-community/convex-go/protocol"
	"github.com/convex-community/convex-go/values"
)

// fakeSender records outbound frames, modeling an always-connected manager.
type fakeSender struct {
	mu         sync.Mutex
	frames     [][]byte
	err        error
	generation uint64 // connection generation reported to guards; 0 means 1
}

func (s *fakeSender) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeSender) SendGuarded(ctx context.Context, frame []byte, guard func(uint64) bool) error {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	gen := s.generation
	if gen == 0 {
		gen = 1
	}
	s.mu.Unlock()
	if guard != nil && !guard(gen) {
		return nil
	}
	return s.Send(ctx, frame)
}

func (s *fakeSender) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func decodeSubscribe(t *testing.T, frame []byte) protocol.SubscribeFrame {
	t.Helper()
	var f protocol.SubscribeFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		t.Fatalf("unmarshal subscribe frame: %v", err)
	}
	return f
}

type collector struct {
	mu   sync.Mutex
	vals []values.Value
	errs []error
}

func (c *collector) observe(v values.Value, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errs = append(c.errs, err)
		return
	}
	c.vals = append(c.vals, v)
}

func (c *collector) values() []values.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]values.Value, len(c.vals))
	copy(out, c.vals)
	return out
}

func TestRegistry_SharedSubscription(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)
	args := map[string]any{"channel": "general"}

	var c1, c2, c3 collector
	h1, err := r.Subscribe(context.Background(), "messages:list", args, c1.observe)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	h2, err := r.Subscribe(context.Background(), "messages:list", args, c2.observe)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	// Key order must not matter.
	h3, err := r.Subscribe(context.Background(), "messages:list", map[string]any{"channel": "general"}, c3.observe)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer h1.Unsubscribe()
	defer h2.Unsubscribe()
	defer h3.Unsubscribe()

	if got := len(sender.sent()); got != 1 {
		t.Fatalf("wire subscribes = %d, want 1", got)
	}
	f := decodeSubscribe(t, sender.sent()[0])
	if f.Type != "subscribe" || f.Path != "messages:list" {
		t.Errorf("frame = %+v", f)
	}

	stats := r.Stats()
	if stats.ActiveSubscriptions != 1 || stats.Observers != 3 {
		t.Errorf("stats = %+v, want 1 subscription, 3 observers", stats)
	}
}

func TestRegistry_UpdateFanOut(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	var c1, c2 collector
	h1, _ := r.Subscribe(context.Background(), "counters:get", map[string]any{"name": "hits"}, c1.observe)
	h2, _ := r.Subscribe(context.Background(), "counters:get", map[string]any{"name": "hits"}, c2.observe)
	defer h1.Unsubscribe()
	defer h2.Unsubscribe()

	subID := decodeSubscribe(t, sender.sent()[0]).SubscriptionID
	r.HandleUpdate(subID, values.Int64(1))
	r.HandleUpdate(subID, values.Int64(2))

	for i, c := range []*collector{&c1, &c2} {
		vals := c.values()
		if len(vals) != 2 {
			t.Fatalf("observer %d deliveries = %d, want 2", i, len(vals))
		}
		if n, _ := values.AsInt64(vals[0]); n != 1 {
			t.Errorf("observer %d first value = %v, want 1", i, vals[0])
		}
		if n, _ := values.AsInt64(vals[1]); n != 2 {
			t.Errorf("observer %d second value = %v, want 2", i, vals[1])
		}
	}

	if got := r.Stats().UpdatesDelivered; got != 2 {
		t.Errorf("UpdatesDelivered = %d, want 2", got)
	}
}

func TestRegistry_CachedValueDeliveredToLateObserver(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	var early collector
	h1, _ := r.Subscribe(context.Background(), "q", map[string]any{}, early.observe)
	defer h1.Unsubscribe()

	subID := decodeSubscribe(t, sender.sent()[0]).SubscriptionID
	r.HandleUpdate(subID, values.String("cached"))

	var late collector
	h2, _ := r.Subscribe(context.Background(), "q", map[string]any{}, late.observe)
	defer h2.Unsubscribe()

	vals := late.values()
	if len(vals) != 1 {
		t.Fatalf("late observer deliveries = %d, want 1", len(vals))
	}
	if s, _ := values.AsString(vals[0]); s != "cached" {
		t.Errorf("late observer value = %v, want cached", vals[0])
	}
}

func TestRegistry_UnsubscribeOnLastHandle(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	h1, _ := r.Subscribe(context.Background(), "q", map[string]any{}, func(values.Value, error) {})
	h2, _ := r.Subscribe(context.Background(), "q", map[string]any{}, func(values.Value, error) {})
	subID := decodeSubscribe(t, sender.sent()[0]).SubscriptionID

	h1.Unsubscribe()
	if got := r.Stats().ActiveSubscriptions; got != 1 {
		t.Fatalf("subscription dropped while a handle remains")
	}

	h2.Unsubscribe()
	if got := r.Stats().ActiveSubscriptions; got != 0 {
		t.Fatalf("ActiveSubscriptions = %d, want 0", got)
	}

	// The unsubscribe frame goes out asynchronously.
	waitForFrames := func() bool {
		for _, frame := range sender.sent() {
			var f protocol.UnsubscribeFrame
			if json.Unmarshal(frame, &f) == nil && f.Type == "unsubscribe" && f.SubscriptionID == subID {
				return true
			}
		}
		return false
	}
	deadlineLoop(t, "unsubscribe frame", waitForFrames)
}

func TestRegistry_UnsubscribeIsIdempotent(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	h1, _ := r.Subscribe(context.Background(), "q", map[string]any{}, func(values.Value, error) {})
	h2, _ := r.Subscribe(context.Background(), "q", map[string]any{}, func(values.Value, error) {})

	h1.Unsubscribe()
	h1.Unsubscribe()
	h1.Unsubscribe()

	if got := r.Stats().ActiveSubscriptions; got != 1 {
		t.Errorf("repeated Unsubscribe dropped a live subscription")
	}
	h2.Unsubscribe()
}

func TestRegistry_CacheSurvivesUnsubscribe(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	h, _ := r.Subscribe(context.Background(), "q", map[string]any{"k": 1}, func(values.Value, error) {})
	subID := decodeSubscribe(t, sender.sent()[0]).SubscriptionID
	r.HandleUpdate(subID, values.Int64(9))
	h.Unsubscribe()

	v, ok := r.TryGetCached("q", map[string]any{"k": 1})
	if !ok {
		t.Fatal("cached value gone after unsubscribe")
	}
	if n, _ := values.AsInt64(v); n != 9 {
		t.Errorf("cached = %v, want 9", v)
	}
}

func TestRegistry_Invalidate(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	h, _ := r.Subscribe(context.Background(), "q", map[string]any{"k": 1}, func(values.Value, error) {})
	defer h.Unsubscribe()
	subID := decodeSubscribe(t, sender.sent()[0]).SubscriptionID
	r.HandleUpdate(subID, values.Int64(9))

	fp, _ := values.NewFingerprint("q", map[string]any{"k": 1})
	r.Invalidate(fp)
	if _, ok := r.TryGetCached("q", map[string]any{"k": 1}); ok {
		t.Error("value still cached after Invalidate")
	}
}

func TestRegistry_InvalidatePath(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	for _, k := range []int{1, 2} {
		h, _ := r.Subscribe(context.Background(), "q", map[string]any{"k": k}, func(values.Value, error) {})
		defer h.Unsubscribe()
	}
	hOther, _ := r.Subscribe(context.Background(), "other", map[string]any{}, func(values.Value, error) {})
	defer hOther.Unsubscribe()

	for _, frame := range sender.sent() {
		f := decodeSubscribe(t, frame)
		r.HandleUpdate(f.SubscriptionID, values.String(f.Path))
	}

	r.InvalidatePath("q")
	if _, ok := r.TryGetCached("q", map[string]any{"k": 1}); ok {
		t.Error("q variant 1 still cached")
	}
	if _, ok := r.TryGetCached("q", map[string]any{"k": 2}); ok {
		t.Error("q variant 2 still cached")
	}
	if _, ok := r.TryGetCached("other", map[string]any{}); !ok {
		t.Error("unrelated path evicted")
	}
}

func TestRegistry_ReplayFramesStableOrder(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	paths := []string{"c", "a", "b"}
	for _, p := range paths {
		for i := 0; i < 2; i++ { // two observers each, still one frame each
			h, err := r.Subscribe(context.Background(), p, map[string]any{}, func(values.Value, error) {})
			if err != nil {
				t.Fatalf("Subscribe error: %v", err)
			}
			defer h.Unsubscribe()
		}
	}

	first := r.ReplayFrames(2)
	if len(first) != 3 {
		t.Fatalf("len(ReplayFrames) = %d, want 3", len(first))
	}
	wantOrder := []string{"a", "b", "c"}
	for i, frame := range first {
		if f := decodeSubscribe(t, frame); f.Path != wantOrder[i] {
			t.Errorf("frame %d path = %s, want %s", i, f.Path, wantOrder[i])
		}
	}

	second := r.ReplayFrames(3)
	for i := range first {
		if string(first[i]) != string(second[i]) {
			t.Errorf("replay not deterministic at index %d", i)
		}
	}
}

// gatedSender parks SendGuarded until released, modeling a subscribe frame
// waiting for the connection to come up.
type gatedSender struct {
	fakeSender
	entered chan struct{}
	release chan gateResult
}

type gateResult struct {
	generation uint64
	err        error
}

func (s *gatedSender) SendGuarded(ctx context.Context, frame []byte, guard func(uint64) bool) error {
	s.entered <- struct{}{}
	res := <-s.release
	if res.err != nil {
		return res.err
	}
	if guard != nil && !guard(res.generation) {
		return nil
	}
	return s.Send(ctx, frame)
}

func TestRegistry_ConcurrentSubscribeSharesOneFrame(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	const n = 16
	var start sync.WaitGroup
	start.Add(1)
	handles := make([]*Handle, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Wait()
			handles[i], errs[i] = r.Subscribe(context.Background(), "messages:list", map[string]any{"channel": "general"}, func(values.Value, error) {})
		}(i)
	}
	start.Done()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Subscribe %d error: %v", i, err)
		}
	}
	if got := len(sender.sent()); got != 1 {
		t.Fatalf("wire subscribes = %d, want 1", got)
	}
	stats := r.Stats()
	if stats.ActiveSubscriptions != 1 || stats.Observers != n {
		t.Errorf("stats = %+v, want 1 subscription, %d observers", stats, n)
	}

	for _, h := range handles {
		h.Unsubscribe()
	}
	if got := r.Stats().ActiveSubscriptions; got != 0 {
		t.Errorf("ActiveSubscriptions = %d after unsubscribe, want 0", got)
	}
}

func TestRegistry_ReplayCoversInFlightSubscribe(t *testing.T) {
	sender := &gatedSender{entered: make(chan struct{}, 1), release: make(chan gateResult)}
	r := New(sender, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Subscribe(context.Background(), "q", map[string]any{}, func(values.Value, error) {})
		errc <- err
	}()
	<-sender.entered

	// A reconnect replay picks the new fingerprint up while the opening
	// send is still waiting for the connection.
	frames := r.ReplayFrames(7)
	if len(frames) != 1 {
		t.Fatalf("len(ReplayFrames) = %d, want 1", len(frames))
	}

	sender.release <- gateResult{generation: 7}
	if err := <-errc; err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	if got := len(sender.sent()); got != 0 {
		t.Fatalf("duplicate subscribe frames = %d, want 0", got)
	}

	// A live query the replay did not cover still goes out.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := r.Subscribe(context.Background(), "other", map[string]any{}, func(values.Value, error) {}); err != nil {
			t.Errorf("Subscribe error: %v", err)
		}
	}()
	<-sender.entered
	sender.release <- gateResult{generation: 7}
	<-done
	if got := len(sender.sent()); got != 1 {
		t.Fatalf("subscribe frames = %d, want 1", got)
	}
}

func TestRegistry_SubscribeFailureFailsConcurrentObservers(t *testing.T) {
	sender := &gatedSender{entered: make(chan struct{}, 1), release: make(chan gateResult)}
	r := New(sender, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Subscribe(context.Background(), "q", map[string]any{}, func(values.Value, error) {})
		errc <- err
	}()
	<-sender.entered

	// A second observer attaches while the opening send is in flight.
	var late collector
	if _, err := r.Subscribe(context.Background(), "q", map[string]any{}, late.observe); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	sender.release <- gateResult{err: errors.New("dial refused")}
	if err := <-errc; err == nil {
		t.Fatal("expected Subscribe error")
	}

	late.mu.Lock()
	if len(late.errs) != 1 {
		t.Fatalf("orphan errors = %d, want 1", len(late.errs))
	}
	var se *protocol.SubscriptionError
	if !errors.As(late.errs[0], &se) {
		t.Errorf("orphan error = %v, want SubscriptionError", late.errs[0])
	}
	late.mu.Unlock()

	if got := r.Stats().ActiveSubscriptions; got != 0 {
		t.Errorf("ActiveSubscriptions = %d, want 0", got)
	}

	// The query can be opened again afterwards.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := r.Subscribe(context.Background(), "q", map[string]any{}, func(values.Value, error) {}); err != nil {
			t.Errorf("Subscribe error: %v", err)
		}
	}()
	<-sender.entered
	sender.release <- gateResult{generation: 2}
	<-done
	if got := len(sender.sent()); got != 1 {
		t.Errorf("subscribe frames = %d, want 1", got)
	}
}

func TestRegistry_LateObserverDeliveriesMonotonic(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	h, err := r.Subscribe(context.Background(), "q", map[string]any{}, func(values.Value, error) {})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer h.Unsubscribe()
	subID := decodeSubscribe(t, sender.sent()[0]).SubscriptionID
	r.HandleUpdate(subID, values.Int64(0))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			r.HandleUpdate(subID, values.Int64(i))
		}
	}()
	defer wg.Wait()
	defer close(stop)

	// Late observers racing the update stream must never see a value older
	// than one already delivered to them; the cached catch-up in particular
	// must not trail a newer update.
	for i := 0; i < 200; i++ {
		var c collector
		h2, err := r.Subscribe(context.Background(), "q", map[string]any{}, c.observe)
		if err != nil {
			t.Fatalf("Subscribe error: %v", err)
		}
		h2.Unsubscribe()

		vals := c.values()
		for j := 1; j < len(vals); j++ {
			prev, _ := values.AsInt64(vals[j-1])
			cur, _ := values.AsInt64(vals[j])
			if cur < prev {
				t.Fatalf("delivery went backwards: %d after %d", cur, prev)
			}
		}
	}
}

func TestRegistry_SubscribeSendFailureRollsBack(t *testing.T) {
	sender := &fakeSender{err: errors.New("socket gone")}
	r := New(sender, nil)

	_, err := r.Subscribe(context.Background(), "q", map[string]any{}, func(values.Value, error) {})
	if err == nil {
		t.Fatal("expected Subscribe error")
	}
	if got := r.Stats().ActiveSubscriptions; got != 0 {
		t.Errorf("ActiveSubscriptions = %d after failed subscribe, want 0", got)
	}
}

func TestRegistry_SubscribeBadArgs(t *testing.T) {
	r := New(&fakeSender{}, nil)
	_, err := r.Subscribe(context.Background(), "q", map[string]any{"ch": make(chan int)}, func(values.Value, error) {})
	var ae *protocol.ArgumentError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want ArgumentError", err)
	}
}

func TestRegistry_SubscriptionErrorReachesOnlyAffectedObservers(t *testing.T) {
	sender := &fakeSender{}
	r := New(sender, nil)

	var affected, bystander collector
	h1, _ := r.Subscribe(context.Background(), "broken", map[string]any{}, affected.observe)
	h2, _ := r.Subscribe(context.Background(), "fine", map[string]any{}, bystander.observe)
	defer h1.Unsubscribe()
	defer h2.Unsubscribe()

	brokenID := decodeSubscribe(t, sender.sent()[0]).SubscriptionID
	r.HandleSubscriptionError(brokenID, "index missing")

	affected.mu.Lock()
	if len(affected.errs) != 1 {
		t.Fatalf("affected errors = %d, want 1", len(affected.errs))
	}
	var se *protocol.SubscriptionError
	if !errors.As(affected.errs[0], &se) || se.Message != "index missing" {
		t.Errorf("error = %v, want SubscriptionError(index missing)", affected.errs[0])
	}
	affected.mu.Unlock()

	bystander.mu.Lock()
	if len(bystander.errs) != 0 {
		t.Errorf("bystander received %d errors, want 0", len(bystander.errs))
	}
	bystander.mu.Unlock()
}

func TestRegistry_UpdateForUnknownSubscriptionIgnored(t *testing.T) {
	r := New(&fakeSender{}, nil)
	r.HandleUpdate("no-such-id", values.Int64(1)) // must not panic
	r.HandleSubscriptionError("no-such-id", "x")
}

func deadlineLoop(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
