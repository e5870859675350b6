// Package dedupe decides whether a published message is a recent duplicate.
//
// An Engine matches the topic against its filters, fingerprints the payload
// of matching messages and checks-and-marks the fingerprint in a shared
// recently seen store. Store failures fail open: the message passes.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/okian/dedupmq/internal/domain/fingerprint"
	"github.com/okian/dedupmq/internal/domain/topic"
	"github.com/okian/dedupmq/internal/domain/types"
	"github.com/okian/dedupmq/pkg/logger"
	"github.com/okian/dedupmq/pkg/metrics"
)

const (
	// DefaultTTL is the dedup window applied by NewConfig.
	DefaultTTL = 60 * time.Second
	// MaxTTL bounds the dedup window so store expiries stay representable.
	MaxTTL = 365 * 24 * time.Hour
)

// Marker is the check-and-mark contract of the recently seen store.
type Marker interface {
	SeenAndMark(ctx context.Context, fingerprint string, ttl time.Duration) (types.Outcome, error)
}

// Config is the immutable engine configuration.
type Config struct {
	// Filters are MQTT topic filters; only matching topics are deduplicated.
	Filters []string
	// TTL is how long a fingerprint stays recently seen. Must be a positive
	// whole number of seconds, at most MaxTTL.
	TTL time.Duration
	// Verbose raises per-message logs from debug to info.
	Verbose bool
}

// NewConfig returns a Config with the default TTL.
func NewConfig(filters ...string) Config {
	return Config{Filters: filters, TTL: DefaultTTL}
}

// Validate checks the configuration without building an engine.
func (c Config) Validate() error {
	_, err := c.parse()
	return err
}

func (c Config) parse() (*topic.Set, error) {
	if c.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidConfig, c.TTL)
	}
	if c.TTL > MaxTTL {
		return nil, fmt.Errorf("%w: ttl must be at most %s, got %s", ErrInvalidConfig, MaxTTL, c.TTL)
	}
	if c.TTL%time.Second != 0 {
		return nil, fmt.Errorf("%w: ttl must be whole seconds, got %s", ErrInvalidConfig, c.TTL)
	}
	set, err := topic.NewSet(c.Filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return set, nil
}

// Engine yields pass/drop decisions. It holds no mutable state besides
// counters and is safe for concurrent use.
type Engine struct {
	filters *topic.Set
	ttl     time.Duration
	verbose bool
	store   Marker
	logger  logger.Logger

	unmatched   atomic.Int64
	passed      atomic.Int64
	dropped     atomic.Int64
	storeErrors atomic.Int64
}

// New validates cfg and builds an Engine over store.
func New(cfg Config, store Marker, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidConfig)
	}
	set, err := cfg.parse()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		filters: set,
		ttl:     cfg.TTL,
		verbose: cfg.Verbose,
		store:   store,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logger.Get().Named("dedupe")
	}

	return e, nil
}

// Decide returns Drop if an identical payload on a matching topic was seen
// within the TTL, Pass otherwise. It never returns an error: store failures
// are logged, counted and turned into Pass.
func (e *Engine) Decide(ctx context.Context, topicName string, payload []byte) types.Decision {
	if ctx == nil {
		ctx = context.Background()
	}

	if topicName == "" {
		e.unmatched.Add(1)
		metrics.RecordTopicMatch(false)
		return types.Pass
	}

	f, ok := e.filters.Match(topicName)
	if !ok {
		e.unmatched.Add(1)
		metrics.RecordTopicMatch(false)
		return types.Pass
	}
	metrics.RecordTopicMatch(true)

	fp := fingerprint.Fingerprint(payload)
	e.logMessage(ctx, "topic matched",
		logger.String("topic", topicName),
		logger.String("filter", f.String()),
		logger.String("fingerprint", fp),
		logger.Int("payload_bytes", len(payload)),
	)

	outcome, err := e.store.SeenAndMark(ctx, fp, e.ttl)
	if err != nil {
		outcome = types.StoreError
	}
	switch outcome {
	case types.Duplicate:
		e.dropped.Add(1)
		metrics.RecordDecision(types.Drop.String())
		e.logger.Info(ctx, "dropped duplicate",
			logger.String("topic", topicName),
			logger.String("fingerprint", fp),
		)
		return types.Drop
	case types.Novel:
		e.passed.Add(1)
		metrics.RecordDecision(types.Pass.String())
		e.logMessage(ctx, "stored fingerprint", logger.String("fingerprint", fp))
		return types.Pass
	default:
		if err == nil {
			err = errors.New("store returned no outcome")
		}
		e.storeErrors.Add(1)
		e.passed.Add(1)
		metrics.RecordDecision(types.Pass.String())
		metrics.RecordErrorByComponent("dedupe", "store_error")
		e.logger.Warn(ctx, "store check failed; passing message",
			logger.String("topic", topicName),
			logger.String("fingerprint", fp),
			logger.Error(err),
		)
		return types.Pass
	}
}

// Filters returns the configured filters in order.
func (e *Engine) Filters() []string { return e.filters.Strings() }

// TTL returns the dedup window.
func (e *Engine) TTL() time.Duration { return e.ttl }

// Stats returns decision counters since the engine was built.
func (e *Engine) Stats() types.Stats {
	return types.Stats{
		Filters:     e.filters.Strings(),
		TTLSeconds:  int(e.ttl / time.Second),
		Unmatched:   e.unmatched.Load(),
		Passed:      e.passed.Load(),
		Dropped:     e.dropped.Load(),
		StoreErrors: e.storeErrors.Load(),
	}
}

func (e *Engine) logMessage(ctx context.Context, msg string, fields ...logger.Field) {
	if e.verbose {
		e.logger.Info(ctx, msg, fields...)
		return
	}
	e.logger.Debug(ctx, msg, fields...)
}
