package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Deployment.URL == "" && c.Deployment.WSURL == "" {
		return errors.New("deployment.url is required")
	}

	if c.Connection.MaxReconnectAttempts < 0 {
		return fmt.Errorf("connection.max_reconnect_attempts must be >= 0, got %d",
			c.Connection.MaxReconnectAttempts)
	}
	if c.Connection.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be below reconnect_base_delay (%s)",
			c.Connection.ReconnectMaxDelay, c.Connection.ReconnectBaseDelay)
	}
	if c.Connection.MessageBufferSize < 1 {
		return errors.New("connection.message_buffer_size must be >= 1")
	}

	if c.Dispatch.MaxRetries < 0 {
		return errors.New("dispatch.max_retries must be >= 0")
	}
	if c.Dispatch.CallTimeout <= 0 {
		return errors.New("dispatch.call_timeout must be > 0")
	}

	if c.Pagination.PageSize < 1 {
		return errors.New("pagination.page_size must be >= 1")
	}

	return nil
}
