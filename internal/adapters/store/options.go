package store

import (
	"time"

	"github.com/okian/dedupmq/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithTimeout bounds every SeenAndMark call. Zero or negative disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithKeyPrefix namespaces keys in a shared store.
func WithKeyPrefix(prefix string) Option {
	return func(c *Client) {
		c.keyPrefix = prefix
	}
}

// WithAtomicAdd toggles use of the backend's add-if-absent primitive.
// When disabled, or unsupported, the client checks then writes.
func WithAtomicAdd(enabled bool) Option {
	return func(c *Client) {
		c.atomic = enabled
	}
}

// WithName labels the backend in logs and metrics.
func WithName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
