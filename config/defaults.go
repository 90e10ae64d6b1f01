package config

import (
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultTimeout              = 30 * time.Second
	DefaultMaxReconnectAttempts = 0 // unlimited
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultMessageBufferSize    = 1000
	DefaultCallTimeout          = 10 * time.Second
	DefaultMaxRetries           = 3
	DefaultRetryBackoff         = time.Second
	DefaultRetryMaxWait         = 30 * time.Second
	DefaultPageSize             = 100
)

// ApplyDefaults fills unset fields with defaults and derives the socket
// URL from the deployment URL when missing.
func (c *ClientConfig) ApplyDefaults() {
	if c.Deployment.WSURL == "" && c.Deployment.URL != "" {
		c.Deployment.WSURL = deriveWSURL(c.Deployment.URL)
	}
	if c.Deployment.Timeout == 0 {
		c.Deployment.Timeout = DefaultTimeout
	}

	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.MessageBufferSize == 0 {
		c.Connection.MessageBufferSize = DefaultMessageBufferSize
	}

	if c.Dispatch.CallTimeout == 0 {
		c.Dispatch.CallTimeout = DefaultCallTimeout
	}
	if c.Dispatch.MaxRetries == 0 {
		c.Dispatch.MaxRetries = DefaultMaxRetries
	}
	if c.Dispatch.RetryBackoff == 0 {
		c.Dispatch.RetryBackoff = DefaultRetryBackoff
	}
	if c.Dispatch.RetryMaxWait == 0 {
		c.Dispatch.RetryMaxWait = DefaultRetryMaxWait
	}

	if c.Pagination.PageSize == 0 {
		c.Pagination.PageSize = DefaultPageSize
	}
}

// deriveWSURL maps an https deployment URL to its socket endpoint.
func deriveWSURL(url string) string {
	ws := url
	switch {
	case strings.HasPrefix(url, "https://"):
		ws = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		ws = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return strings.TrimRight(ws, "/") + "/api/sync"
}
