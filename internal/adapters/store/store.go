// Package store implements the recently seen memory used for deduplication.
//
// A Client owns a backend connection and exposes SeenAndMark as one logical
// operation. Backends that support an atomic add-if-absent primitive are used
// through it; otherwise the client falls back to an existence check followed
// by a write, which leaves a small race window between concurrent callers.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/dedupmq/internal/domain/types"
	"github.com/okian/dedupmq/pkg/logger"
	"github.com/okian/dedupmq/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultTimeout = 250 * time.Millisecond
	markerValue    = "1"
)

// KV is the two operation abstraction every backend provides.
type KV interface {
	// Exists reports whether an unexpired entry exists for key.
	Exists(ctx context.Context, key string) (bool, error)

	// Set writes value under key with the given expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Close releases backend resources.
	Close() error
}

// Adder is implemented by backends with an atomic add-if-absent primitive.
type Adder interface {
	// Add writes value under key only if no unexpired entry exists.
	// Returns true if the entry was written.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Marker is the check-and-mark contract consumed by the dedup engine.
type Marker interface {
	SeenAndMark(ctx context.Context, fingerprint string, ttl time.Duration) (types.Outcome, error)
}

// Client performs check-and-mark operations against a KV backend.
// It is safe for concurrent use as long as the backend is.
type Client struct {
	kv        KV
	adder     Adder
	name      string
	keyPrefix string
	timeout   time.Duration
	atomic    bool
	logger    logger.Logger
}

var _ Marker = (*Client)(nil)

// NewClient wraps kv in a Client.
func NewClient(kv KV, opts ...Option) (*Client, error) {
	if kv == nil {
		return nil, ErrNilBackend
	}

	c := &Client{
		kv:      kv,
		name:    "custom",
		timeout: defaultTimeout,
		atomic:  true,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logger.Get().Named("store")
	}

	if adder, ok := kv.(Adder); ok && c.atomic {
		c.adder = adder
	}

	return c, nil
}

// SeenAndMark checks whether fingerprint was seen within its ttl and marks it
// if not. Any backend failure yields types.StoreError together with an error
// wrapping ErrStore.
func (c *Client) SeenAndMark(ctx context.Context, fingerprint string, ttl time.Duration) (types.Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	key := c.keyPrefix + fingerprint

	if c.adder != nil {
		start := time.Now()
		added, err := c.adder.Add(ctx, key, []byte(markerValue), ttl)
		c.observe("add", start, err)
		if err != nil {
			return types.StoreError, c.fail(ctx, "add", key, err)
		}
		if !added {
			return types.Duplicate, nil
		}
		return types.Novel, nil
	}

	start := time.Now()
	exists, err := c.kv.Exists(ctx, key)
	c.observe("get", start, err)
	if err != nil {
		return types.StoreError, c.fail(ctx, "get", key, err)
	}
	if exists {
		return types.Duplicate, nil
	}

	start = time.Now()
	err = c.kv.Set(ctx, key, []byte(markerValue), ttl)
	c.observe("set", start, err)
	if err != nil {
		return types.StoreError, c.fail(ctx, "set", key, err)
	}
	return types.Novel, nil
}

// Atomic reports whether the client uses the backend's add-if-absent primitive.
func (c *Client) Atomic() bool { return c.adder != nil }

// Backend returns the backend name the client was opened with.
func (c *Client) Backend() string { return c.name }

// Close releases the backend.
func (c *Client) Close() error {
	if err := c.kv.Close(); err != nil {
		return fmt.Errorf("close %s store: %w", c.name, err)
	}
	return nil
}

func (c *Client) fail(ctx context.Context, op, key string, err error) error {
	c.logger.Debug(ctx, "store operation failed",
		logger.String("backend", c.name),
		logger.String("op", op),
		logger.String("key", key),
		logger.Error(err),
	)
	return fmt.Errorf("%w: %s %s: %w", ErrStore, op, key, err)
}

func (c *Client) observe(op string, start time.Time, err error) {
	metrics.RecordStoreLatency(c.name, op, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		metrics.RecordStoreError(c.name, op)
		metrics.RecordErrorByComponent("store", op)
	}
}
