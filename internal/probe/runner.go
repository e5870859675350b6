package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/okian/dedupmq/pkg/logger"
)

// Run executes a complete probe and returns its statistics.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting dedupmq probe",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("topic", cfg.Topic),
		logger.Int("payloads", cfg.Payloads),
		logger.Int("copies", cfg.Copies),
		logger.Int("workers", cfg.Workers),
		logger.String("timeout", cfg.Timeout.String()),
		logger.Bool("exact", cfg.Exact))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, cfg); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate messages
	msgs, err := generateMessages(ctx, cfg, stats)
	if err != nil {
		return stats, fmt.Errorf("message generation failed: %w", err)
	}

	// Step 3: Submit messages concurrently
	results := submitMessages(ctx, cfg, msgs, stats)

	// Step 4: Verify results
	if err := verifyResults(ctx, cfg, results); err != nil {
		return stats, err
	}

	// Final statistics
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(ctx, stats)

	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d of %d requests failed", stats.Failed, stats.Submitted)
	}

	logger.Get().Info(ctx, "probe completed successfully")
	return stats, nil
}

// Health check retry bounds.
const (
	healthInitialInterval = 100 * time.Millisecond
	healthMaxInterval     = 2 * time.Second
)

// checkServiceHealth waits up to cfg.HealthWait for /healthz to answer 200.
// With no wait configured it tries once.
func checkServiceHealth(ctx context.Context, cfg *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(cfg.Timeout)
	url := cfg.BaseURL + "/healthz"

	var b backoff.BackOff = &backoff.StopBackOff{}
	if cfg.HealthWait > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = healthInitialInterval
		exp.MaxInterval = healthMaxInterval
		exp.MaxElapsedTime = cfg.HealthWait
		b = exp
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return probeHealth(ctx, client, url)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("after %d attempts: %w", attempt, err)
	}

	logger.Get().Info(ctx, "service is healthy", logger.Int("attempts", attempt))
	return nil
}

func probeHealth(ctx context.Context, client *HTTPClient, url string) error {
	resp, err := client.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close response body", logger.Error(err))
		}
	}()

	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// displayFinalStats logs the final probe statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("passed", stats.Passed),
		logger.Int("dropped", stats.Dropped),
		logger.Int("failed", stats.Failed),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("messagesPerSecond", perSecond))
}
