// Package auth provides pluggable access-token acquisition for the client.
// Token acquisition and refresh mechanics live behind TokenProvider; the
// engine only ever asks for the current token before a connect or request.
package auth

import (
	"context"
	"sync"
	"time"
)

// TokenProvider yields the current auth token. An empty token with nil error
// means the deployment is accessed anonymously.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Static returns a provider that always yields the same token.
func Static(token string) TokenProvider {
	return staticProvider(token)
}

type staticProvider string

func (p staticProvider) Token(ctx context.Context) (string, error) {
	return string(p), nil
}

// ProviderFunc adapts a function to a TokenProvider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Refreshing caches a token and invokes the fetch callback once it is within
// the expiry margin. Concurrent callers share one refresh.
type Refreshing struct {
	fetch  func(ctx context.Context) (token string, expiresAt time.Time, err error)
	margin time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewRefreshing creates a refreshing provider. A zero margin refreshes only
// after expiry.
func NewRefreshing(margin time.Duration, fetch func(ctx context.Context) (string, time.Time, error)) *Refreshing {
	return &Refreshing{fetch: fetch, margin: margin}
}

func (r *Refreshing) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && time.Now().Add(r.margin).Before(r.expiresAt) {
		return r.token, nil
	}

	token, expiresAt, err := r.fetch(ctx)
	if err != nil {
		return "", err
	}
	r.token = token
	r.expiresAt = expiresAt
	return token, nil
}
