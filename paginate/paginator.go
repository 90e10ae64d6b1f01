package paginate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/convex-community/convex-go/dispatch"
	"github.com/convex-community/convex-go/protocol"
	"github.com/convex-community/convex-go/values"
)

// Caller issues one-shot queries; satisfied by dispatch.Dispatcher.
type Caller interface {
	Query(ctx context.Context, path string, args any, opts dispatch.Options) (values.Value, error)
}

// Config describes one paged query.
type Config struct {
	Path     string
	Args     map[string]any
	PageSize int

	// OnBoundaryAdded fires after LoadNext records a new page boundary.
	// Invoked outside the paginator's lock.
	OnBoundaryAdded func(index int)
}

// Stats provides statistics about a paginator.
type Stats struct {
	PagesLoaded int64
	ItemsLoaded int64
	Merges      int64
}

// Paginator accumulates pages of one query and merges in live updates.
// All state mutation happens under a single lock.
type Paginator struct {
	cfg    Config
	caller Caller
	logger *slog.Logger

	mu             sync.Mutex
	items          []values.Value
	boundaries     []int
	continueCursor string
	hasMore        bool
	stats          Stats
}

// New creates a Paginator for the given query.
func New(cfg Config, caller Caller, logger *slog.Logger) *Paginator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	return &Paginator{
		cfg:     cfg,
		caller:  caller,
		logger:  logger.With("component", "paginator", "path", cfg.Path),
		hasMore: true,
	}
}

// LoadNext fetches the next page and appends it. Returns the newly loaded
// items; returns an empty slice once the query is exhausted.
func (p *Paginator) LoadNext(ctx context.Context) ([]values.Value, error) {
	p.mu.Lock()
	if !p.hasMore {
		p.mu.Unlock()
		return nil, nil
	}
	cursor := p.continueCursor
	p.mu.Unlock()

	args := make(map[string]any, len(p.cfg.Args)+1)
	for k, v := range p.cfg.Args {
		args[k] = v
	}
	paginationOpts := map[string]any{"numItems": p.cfg.PageSize}
	if cursor != "" {
		paginationOpts["cursor"] = cursor
	}
	args["paginationOpts"] = paginationOpts

	result, err := p.caller.Query(ctx, p.cfg.Path, args, dispatch.Options{})
	if err != nil {
		return nil, err
	}

	page, isDone, nextCursor, err := parsePage(p.cfg.Path, result)
	if err != nil {
		return nil, err
	}

	var boundaryAdded = -1
	p.mu.Lock()
	// A later page may arrive after the state already advanced past this
	// cursor; only apply when the cursor still matches.
	if p.continueCursor == cursor && p.hasMore {
		at := len(p.items)
		if at != 0 || len(p.boundaries) == 0 {
			p.boundaries = append(p.boundaries, at)
			boundaryAdded = at
		}
		p.items = append(p.items, page...)
		p.continueCursor = nextCursor
		p.hasMore = !isDone
		p.stats.PagesLoaded++
		p.stats.ItemsLoaded += int64(len(page))
	}
	p.mu.Unlock()

	if boundaryAdded >= 0 && p.cfg.OnBoundaryAdded != nil {
		p.cfg.OnBoundaryAdded(boundaryAdded)
	}

	p.logger.Debug("page loaded", "items", len(page), "done", isDone)
	return page, nil
}

// Items returns a snapshot of the merged view.
func (p *Paginator) Items() []values.Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]values.Value, len(p.items))
	copy(out, p.items)
	return out
}

// Boundaries returns a snapshot of the page boundary indices.
func (p *Paginator) Boundaries() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.boundaries))
	copy(out, p.boundaries)
	return out
}

// HasMore reports whether another page may exist.
func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// Stats returns current statistics.
func (p *Paginator) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// parsePage pulls {page | results, isDone, continueCursor} out of a page
// response. The alternate "results" field name is accepted for older
// deployments.
func parsePage(path string, v values.Value) ([]values.Value, bool, string, error) {
	obj, ok := values.AsObject(v)
	if !ok {
		return nil, false, "", &protocol.SerializationError{
			Path: path,
			Err:  fmt.Errorf("page response is not an object"),
		}
	}

	raw, ok := obj["page"]
	if !ok {
		raw, ok = obj["results"]
	}
	if !ok {
		return nil, false, "", &protocol.SerializationError{
			Path: path,
			Err:  fmt.Errorf("page response missing page field"),
		}
	}
	arr, ok := values.AsArray(raw)
	if !ok {
		return nil, false, "", &protocol.SerializationError{
			Path: path,
			Err:  fmt.Errorf("page field is not an array"),
		}
	}

	isDone, _ := values.AsBool(obj["isDone"])
	cursor, _ := values.AsString(obj["continueCursor"])

	return []values.Value(arr), isDone, cursor, nil
}
