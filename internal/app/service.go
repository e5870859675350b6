// Package service wires the recently seen store and the dedup engine together
// and implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/dedupmq/internal/adapters/store"
	"github.com/okian/dedupmq/internal/domain/dedupe"
	"github.com/okian/dedupmq/internal/domain/types"
	"github.com/okian/dedupmq/pkg/logger"
)

// ErrNotStarted is returned by operations that need a running service.
var ErrNotStarted = errors.New("service not started")

// Service owns the engine and the store connection for the process lifetime.
type Service struct {
	mu sync.RWMutex

	// Core components
	engine *dedupe.Engine
	client *store.Client
	marker dedupe.Marker

	// Configuration
	engineCfg dedupe.Config
	storeCfg  store.Config

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithEngineConfig sets the topic filters, ttl and verbosity.
func WithEngineConfig(cfg dedupe.Config) Option {
	return func(s *Service) {
		s.engineCfg = cfg
	}
}

// WithStoreConfig sets how the recently seen store is reached.
func WithStoreConfig(cfg store.Config) Option {
	return func(s *Service) {
		s.storeCfg = cfg
	}
}

// WithMarker makes the service use m instead of opening a store.
// The caller keeps ownership of m.
func WithMarker(m dedupe.Marker) Option {
	return func(s *Service) {
		if m != nil {
			s.marker = m
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		engineCfg: dedupe.NewConfig(),
		storeCfg: store.Config{
			Backend:   store.BackendMemory,
			AtomicAdd: true,
		},
		logger: nil, // Will be replaced when service starts
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start validates the configuration, opens the store and builds the engine.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting dedup service...")

	if err := s.engineCfg.Validate(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	marker := s.marker
	if marker == nil {
		client, err := store.Open(ctx, s.storeCfg, s.logger.Named("store"))
		if err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		s.client = client
		marker = client
	}

	engine, err := dedupe.New(s.engineCfg, marker, dedupe.WithLogger(s.logger.Named("dedupe")))
	if err != nil {
		s.closeStore()
		return fmt.Errorf("start service: %w", err)
	}
	s.engine = engine

	s.started = true
	s.logger.Info(ctx, fmt.Sprintf("Monitoring %d topics", len(engine.Filters())),
		logger.Any("topics", engine.Filters()),
		logger.Int("ttl_seconds", int(engine.TTL().Seconds())),
		logger.String("backend", s.backend()),
	)

	return nil
}

// Stop closes the store. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping dedup service...")
	s.closeStore()
	s.started = false
	s.logger.Info(context.Background(), "dedup service stopped")
}

// Decide returns the engine's decision for one message. A stopped service
// passes everything.
func (s *Service) Decide(ctx context.Context, topic string, payload []byte) types.Decision {
	s.mu.RLock()
	engine := s.engine
	started := s.started
	s.mu.RUnlock()

	if !started || engine == nil {
		return types.Pass
	}
	return engine.Decide(ctx, topic, payload)
}

// Stats returns decision counters.
func (s *Service) Stats(_ context.Context) (types.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.engine == nil {
		return types.Stats{}, ErrNotStarted
	}

	stats := s.engine.Stats()
	stats.Backend = s.backend()
	return stats, nil
}

// Started reports whether Start succeeded and Stop has not run since.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) backend() string {
	if s.client != nil {
		return s.client.Backend()
	}
	return "custom"
}

func (s *Service) closeStore() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		s.logger.Warn(context.Background(), "failed to close store", logger.Error(err))
	}
	s.client = nil
}
