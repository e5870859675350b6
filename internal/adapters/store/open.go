package store

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/okian/dedupmq/pkg/logger"
)

// Backend names accepted by Open.
const (
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
	BackendMemory    = "memory"
)

// memcached keys are at most 250 bytes with no spaces or control characters.
const (
	memcachedMaxKeyLen = 250
	fingerprintLen     = 16
)

const (
	pingTimeout       = 2 * time.Second
	defaultIdleConns  = 16
	defaultRedisPools = 32
)

// Config describes how to reach the recently seen store.
type Config struct {
	Backend       string
	Addr          string
	Timeout       time.Duration
	KeyPrefix     string
	AtomicAdd     bool
	MaxEntries    int
	RedisPassword string
	RedisDB       int
}

// Pinger is implemented by network backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ValidateAddr checks that addr is host:port with a numeric port.
func ValidateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidAddr, addr, err)
	}
	if strings.TrimSpace(host) == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidAddr, addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("%w: %q: port must be 1-65535", ErrInvalidAddr, addr)
	}
	return nil
}

// ValidateKeyPrefix checks that prefix plus a fingerprint forms a legal
// memcached key.
func ValidateKeyPrefix(prefix string) error {
	if len(prefix)+fingerprintLen > memcachedMaxKeyLen {
		return fmt.Errorf("%w: %d bytes, at most %d allowed", ErrInvalidPrefix, len(prefix), memcachedMaxKeyLen-fingerprintLen)
	}
	for i := 0; i < len(prefix); i++ {
		if prefix[i] <= ' ' || prefix[i] == 0x7f {
			return fmt.Errorf("%w: %q contains a space or control character", ErrInvalidPrefix, prefix)
		}
	}
	return nil
}

// Open builds the backend named by cfg.Backend and wraps it in a Client.
// An unreachable network store is logged, not fatal: decisions fail open
// until it comes back.
func Open(ctx context.Context, cfg Config, l logger.Logger) (*Client, error) {
	if l == nil {
		l = logger.Get().Named("store")
	}

	var kv KV
	switch cfg.Backend {
	case BackendMemory:
		kv = NewMemory(WithMaxEntries(cfg.MaxEntries))
	case BackendMemcached:
		if err := ValidateAddr(cfg.Addr); err != nil {
			return nil, err
		}
		if err := ValidateKeyPrefix(cfg.KeyPrefix); err != nil {
			return nil, err
		}
		kv = NewMemcached(cfg.Timeout, defaultIdleConns, cfg.Addr)
	case BackendRedis:
		if err := ValidateAddr(cfg.Addr); err != nil {
			return nil, err
		}
		kv = NewRedis(RedisOptions{
			Addr:     cfg.Addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  cfg.Timeout,
			PoolSize: defaultRedisPools,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}

	client, err := NewClient(kv,
		WithName(cfg.Backend),
		WithTimeout(cfg.Timeout),
		WithKeyPrefix(cfg.KeyPrefix),
		WithAtomicAdd(cfg.AtomicAdd),
		WithLogger(l),
	)
	if err != nil {
		return nil, err
	}

	if p, ok := kv.(Pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			l.Warn(ctx, "store not reachable; decisions will fail open until it is",
				logger.String("backend", cfg.Backend),
				logger.String("addr", cfg.Addr),
				logger.Error(err),
			)
		}
	}

	l.Info(ctx, "store opened",
		logger.String("backend", cfg.Backend),
		logger.String("addr", cfg.Addr),
		logger.Bool("atomic_add", client.Atomic()),
	)
	return client, nil
}
