package config

import "time"

// ClientConfig is the root configuration for a client instance.
type ClientConfig struct {
	Deployment DeploymentConfig `yaml:"deployment"`
	Connection ConnectionConfig `yaml:"connection"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Pagination PaginationConfig `yaml:"pagination"`
}

// DeploymentConfig identifies the backend deployment.
type DeploymentConfig struct {
	URL       string        `yaml:"url"`        // HTTPS base URL (e.g. https://happy-otter-123.convex.cloud)
	WSURL     string        `yaml:"ws_url"`     // Socket URL; derived from URL when empty
	AuthToken string        `yaml:"auth_token"` // Static token; use client options for refresh callbacks
	Timeout   time.Duration `yaml:"timeout"`    // HTTP one-shot timeout
}

// ConnectionConfig holds persistent-socket settings.
type ConnectionConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = unlimited
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ExponentialBackoff   *bool         `yaml:"exponential_backoff"` // default true
	Jitter               *bool         `yaml:"jitter"`              // default true
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	MessageBufferSize    int           `yaml:"message_buffer_size"`
}

// DispatchConfig holds one-shot call defaults.
type DispatchConfig struct {
	CallTimeout  time.Duration `yaml:"call_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	RetryMaxWait time.Duration `yaml:"retry_max_wait"`
}

// PaginationConfig holds paginated-query defaults.
type PaginationConfig struct {
	PageSize int `yaml:"page_size"`
}
