package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/convex-community/convex-go/api"
	"github.com/convex-community/convex-go/auth"
	"github.com/convex-community/convex-go/config"
	"github.com/convex-community/convex-go/connection"
	"github.com/convex-community/convex-go/dispatch"
	"github.com/convex-community/convex-go/paginate"
	"github.com/convex-community/convex-go/registry"
	"github.com/convex-community/convex-go/values"
)

// Client is the assembled engine. Calls default to the persistent socket;
// HTTP() exposes the one-shot fallback over the same deployment.
type Client struct {
	cfg    *config.ClientConfig
	logger *slog.Logger
	tokens auth.TokenProvider
	clock  connection.Clock

	manager    connection.Manager
	registry   registry.Registry
	socket     *dispatch.SocketTransport
	dispatcher *dispatch.Dispatcher
	apiClient  *api.Client

	httpOnce       sync.Once
	httpDispatcher *dispatch.Dispatcher
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTokenProvider replaces the static config token with a refresh-aware
// provider, consulted before every connect and HTTP call.
func WithTokenProvider(tp auth.TokenProvider) Option {
	return func(c *Client) { c.tokens = tp }
}

// WithClock replaces the reconnect/timeout clock; used in tests.
func WithClock(clk connection.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// New assembles a client from cfg. No connection is opened until the
// first subscription or socket call.
func New(cfg *config.ClientConfig, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
		clock:  connection.SystemClock,
	}
	if cfg.Deployment.AuthToken != "" {
		c.tokens = auth.Static(cfg.Deployment.AuthToken)
	}
	for _, opt := range opts {
		opt(c)
	}

	c.manager = connection.NewManager(connection.ManagerConfig{
		WSURL:        cfg.Deployment.WSURL,
		Tokens:       c.tokens,
		Policy:       reconnectPolicy(cfg.Connection),
		PingInterval: cfg.Connection.PingInterval,
		PingTimeout:  cfg.Connection.PingTimeout,
		WriteTimeout: cfg.Connection.WriteTimeout,
		BufferSize:   cfg.Connection.MessageBufferSize,
	}, c.logger, connection.WithClock(c.clock))

	c.registry = registry.New(c.manager, c.logger)
	c.socket = dispatch.NewSocketTransport(c.manager)
	c.manager.SetReplayer(c.registry)
	c.manager.SetSinks(c.registry, c.socket)

	c.dispatcher = dispatch.New(dispatchConfig(cfg.Dispatch), c.socket, c.logger,
		dispatch.WithClock(c.clock))

	c.apiClient = api.NewClient(cfg.Deployment.URL, c.tokens,
		api.WithTimeout(cfg.Deployment.Timeout),
		api.WithLogger(c.logger))

	return c, nil
}

// Query runs a one-shot query over the socket.
func (c *Client) Query(ctx context.Context, path string, args any) (values.Value, error) {
	return c.dispatcher.Query(ctx, path, args, dispatch.Options{})
}

// Mutation runs a mutation over the socket, in submission order relative
// to other mutations on this client.
func (c *Client) Mutation(ctx context.Context, path string, args any) (values.Value, error) {
	return c.dispatcher.Mutation(ctx, path, args, dispatch.Options{})
}

// Action runs an action over the socket.
func (c *Client) Action(ctx context.Context, path string, args any) (values.Value, error) {
	return c.dispatcher.Action(ctx, path, args, dispatch.Options{})
}

// Dispatcher exposes the socket dispatcher for per-call options.
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

// HTTP returns a dispatcher carrying calls over the one-shot HTTP
// endpoint instead of the socket. Built on first use.
func (c *Client) HTTP() *dispatch.Dispatcher {
	c.httpOnce.Do(func() {
		c.httpDispatcher = dispatch.New(dispatchConfig(c.cfg.Dispatch),
			&dispatch.HTTPTransport{Doer: c.apiClient}, c.logger,
			dispatch.WithClock(c.clock))
	})
	return c.httpDispatcher
}

// Subscribe attaches obs to the live query for (path, args), sharing one
// wire subscription per distinct (path, args).
func (c *Client) Subscribe(ctx context.Context, path string, args any, obs registry.Observer) (*registry.Handle, error) {
	return c.registry.Subscribe(ctx, path, args, obs)
}

// TryGetCached returns the last value seen for (path, args), if any.
func (c *Client) TryGetCached(path string, args any) (values.Value, bool) {
	return c.registry.TryGetCached(path, args)
}

// Invalidate drops the cached value for one exact (path, args) pair.
func (c *Client) Invalidate(path string, args any) error {
	fp, err := values.NewFingerprint(path, args)
	if err != nil {
		return err
	}
	c.registry.Invalidate(fp)
	return nil
}

// InvalidatePath drops cached values for every argument variant of path.
func (c *Client) InvalidatePath(path string) {
	c.registry.InvalidatePath(path)
}

// Paginate creates a paginator for the paged query at path.
func (c *Client) Paginate(path string, args map[string]any) *paginate.Paginator {
	return paginate.New(paginate.Config{
		Path:     path,
		Args:     args,
		PageSize: c.cfg.Pagination.PageSize,
	}, c.dispatcher, c.logger)
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() connection.State {
	return c.manager.State()
}

// OnStateChange registers a connection state listener.
func (c *Client) OnStateChange(fn func(connection.State)) (cancel func()) {
	return c.manager.OnStateChange(fn)
}

// Close shuts the client down. In-flight calls fail with a transport
// error; observers receive nothing further.
func (c *Client) Close(ctx context.Context) error {
	return c.manager.Close(ctx)
}

func reconnectPolicy(cc config.ConnectionConfig) connection.Policy {
	p := connection.Policy{
		MaxAttempts: cc.MaxReconnectAttempts,
		BaseDelay:   cc.ReconnectBaseDelay,
		MaxDelay:    cc.ReconnectMaxDelay,
		Exponential: true,
		Jitter:      true,
	}
	if cc.ExponentialBackoff != nil {
		p.Exponential = *cc.ExponentialBackoff
	}
	if cc.Jitter != nil {
		p.Jitter = *cc.Jitter
	}
	return p
}

func dispatchConfig(dc config.DispatchConfig) dispatch.Config {
	return dispatch.Config{
		CallTimeout: dc.CallTimeout,
		Retry:       dispatch.DefaultRetryPolicy(dc.MaxRetries, dc.RetryBackoff, dc.RetryMaxWait),
	}
}
