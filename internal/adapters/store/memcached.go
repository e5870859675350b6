package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcached treats expirations above 30 days as absolute unix timestamps.
const memcachedRelativeExpiryLimit = 30 * 24 * time.Hour

// Memcached is a KV backed by one or more memcached servers.
// The underlying client pools connections per server.
type Memcached struct {
	client *memcache.Client
	now    func() time.Time
}

// NewMemcached creates a memcached backend. Connections are opened lazily,
// so an unreachable server surfaces as errors on use, not here.
func NewMemcached(timeout time.Duration, maxIdle int, servers ...string) *Memcached {
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdle > 0 {
		client.MaxIdleConns = maxIdle
	}
	return &Memcached{client: client, now: time.Now}
}

// Exists reports whether key is present.
func (m *Memcached) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := m.client.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, memcache.ErrCacheMiss):
		return false, nil
	default:
		return false, err
	}
}

// Set stores key with ttl.
func (m *Memcached) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.client.Set(&memcache.Item{Key: key, Value: value, Expiration: m.expiration(ttl)})
}

// Add stores key only if the server holds no entry for it.
func (m *Memcached) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := m.client.Add(&memcache.Item{Key: key, Value: value, Expiration: m.expiration(ttl)})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, memcache.ErrNotStored):
		return false, nil
	default:
		return false, err
	}
}

// Ping checks every configured server.
func (m *Memcached) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.client.Ping()
}

// Close releases idle connections.
func (m *Memcached) Close() error {
	return m.client.Close()
}

// expiration converts ttl to memcached's expiry field, rounding up to a second.
func (m *Memcached) expiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	seconds := int64((ttl + time.Second - 1) / time.Second)
	if ttl > memcachedRelativeExpiryLimit {
		return int32(min(m.now().Unix()+seconds, math.MaxInt32))
	}
	return int32(seconds)
}
