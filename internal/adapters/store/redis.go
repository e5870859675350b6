package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
	PoolSize int
}

// Redis is a KV backed by a redis server. EXISTS and SET EX serve the two
// step path; SET NX EX serves Add.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis creates a redis backend. Connections are opened lazily.
func NewRedis(o RedisOptions) *Redis {
	opts := &redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
		PoolSize: o.PoolSize,
	}
	if o.Timeout > 0 {
		opts.DialTimeout = o.Timeout
		opts.ReadTimeout = o.Timeout
		opts.WriteTimeout = o.Timeout
	}
	return &Redis{client: redis.NewClient(opts)}
}

// Exists reports whether key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Set stores key with ttl.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Add stores key only if it is absent.
func (r *Redis) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
