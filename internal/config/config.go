// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Validate() is the single place startup rejects bad settings.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/dedupmq/internal/adapters/store"
	"github.com/okian/dedupmq/internal/domain/dedupe"
	"github.com/okian/dedupmq/internal/domain/topic"
	"github.com/okian/dedupmq/pkg/logger"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9081".
	Addr string `koanf:"addr"`

	// Topics are the MQTT topic filters to deduplicate.
	Topics []string `koanf:"topics"`

	// TTLSeconds is the dedup window.
	TTLSeconds int `koanf:"ttl_seconds"`

	// Verbose logs every matched message at info level.
	Verbose bool `koanf:"verbose"`

	// StoreBackend selects the recently seen store: memcached, redis or memory.
	StoreBackend string `koanf:"store_backend"`

	// StoreAddr is the host:port of the network store.
	StoreAddr string `koanf:"store_addr"`

	// StoreTimeoutMS bounds each check-and-mark call.
	StoreTimeoutMS int `koanf:"store_timeout_ms"`

	// StoreKeyPrefix namespaces fingerprints in a shared store.
	StoreKeyPrefix string `koanf:"store_key_prefix"`

	// StoreAtomicAdd uses add-if-absent where the backend offers it.
	StoreAtomicAdd bool `koanf:"store_atomic_add"`

	// MemoryMaxEntries bounds the in-process store (0 or negative = unbounded).
	MemoryMaxEntries int `koanf:"memory_max_entries"`

	// RedisPassword and RedisDB apply to the redis backend only.
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        logger.FormatText,
		Addr:             ":9081",
		TTLSeconds:       60,
		StoreBackend:     store.BackendMemcached,
		StoreAddr:        "127.0.0.1:11211",
		StoreTimeoutMS:   250,
		StoreAtomicAdd:   true,
		MemoryMaxEntries: 500_000,
	}
}

// Validate rejects configurations the service must not start with.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case logger.FormatText, logger.FormatJSON:
	default:
		return fmt.Errorf("%w: log_format %q is not one of text, json", ErrInvalidConfig, c.LogFormat)
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.TTLSeconds <= 0 {
		return fmt.Errorf("%w: ttl_seconds must be positive, got %d", ErrInvalidConfig, c.TTLSeconds)
	}
	if maxSeconds := int(dedupe.MaxTTL / time.Second); c.TTLSeconds > maxSeconds {
		return fmt.Errorf("%w: ttl_seconds must be at most %d, got %d", ErrInvalidConfig, maxSeconds, c.TTLSeconds)
	}
	if c.StoreTimeoutMS <= 0 {
		return fmt.Errorf("%w: store_timeout_ms must be positive, got %d", ErrInvalidConfig, c.StoreTimeoutMS)
	}

	switch c.StoreBackend {
	case store.BackendMemory:
	case store.BackendMemcached, store.BackendRedis:
		if err := store.ValidateAddr(c.StoreAddr); err != nil {
			return fmt.Errorf("%w: store_addr: %w", ErrInvalidConfig, err)
		}
		if c.StoreBackend == store.BackendMemcached {
			if err := store.ValidateKeyPrefix(c.StoreKeyPrefix); err != nil {
				return fmt.Errorf("%w: store_key_prefix: %w", ErrInvalidConfig, err)
			}
		}
	default:
		return fmt.Errorf("%w: store_backend %q is not one of memcached, redis, memory", ErrInvalidConfig, c.StoreBackend)
	}

	if len(c.Topics) > topic.MaxFilters {
		return fmt.Errorf("%w: %d topics configured, at most %d allowed", ErrInvalidConfig, len(c.Topics), topic.MaxFilters)
	}
	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// TTL returns the dedup window as a duration.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StoreTimeout returns the per-call store timeout.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// Engine returns the dedup engine configuration.
func (c *Config) Engine() dedupe.Config {
	filters := make([]string, 0, len(c.Topics))
	for _, t := range c.Topics {
		if t = strings.TrimSpace(t); t != "" {
			filters = append(filters, t)
		}
	}
	return dedupe.Config{
		Filters: filters,
		TTL:     c.TTL(),
		Verbose: c.Verbose,
	}
}

// Store returns the recently seen store configuration.
func (c *Config) Store() store.Config {
	return store.Config{
		Backend:       c.StoreBackend,
		Addr:          c.StoreAddr,
		Timeout:       c.StoreTimeout(),
		KeyPrefix:     c.StoreKeyPrefix,
		AtomicAdd:     c.StoreAtomicAdd,
		MaxEntries:    c.MemoryMaxEntries,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}
