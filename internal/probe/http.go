package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/dedupmq/pkg/logger"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(ctx context.Context, url string, body any) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// submitMessages posts msgs to /decide concurrently using a worker pool.
// Messages skipped after ctx is cancelled leave a zero Result in place.
func submitMessages(ctx context.Context, cfg *Config, msgs []Message, stats *Stats) []Result {
	log := logger.Get().Named("probe")
	log.Info(ctx, "submitting messages",
		logger.Int("count", len(msgs)),
		logger.Int("workers", cfg.Workers),
	)

	client := newHTTPClient(cfg.Timeout)
	url := cfg.BaseURL + "/decide"

	var (
		passed    int64
		dropped   int64
		failed    int64
		submitted int64
	)

	results := make([]Result, len(msgs))
	indexes := make(chan int, cfg.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range indexes {
				msg := msgs[idx]
				decision, err := submitSingleMessage(ctx, client, url, msg)
				results[idx] = Result{Message: msg, Decision: decision, Err: err}

				atomic.AddInt64(&submitted, 1)
				switch {
				case err != nil:
					atomic.AddInt64(&failed, 1)
				case decision == DecisionDrop:
					atomic.AddInt64(&dropped, 1)
				default:
					atomic.AddInt64(&passed, 1)
				}

				if cfg.Verbose {
					log.Info(ctx, "decision",
						logger.String("topic", msg.Topic),
						logger.Int("key", msg.Key),
						logger.String("decision", decision),
					)
				}
			}
		}()
	}

	// Send work to workers
	go func() {
		defer close(indexes)
		for i := range msgs {
			select {
			case <-ctx.Done():
				return
			case indexes <- i:
			}
		}
	}()

	// Wait for all workers to complete
	wg.Wait()

	stats.Submitted = int(atomic.LoadInt64(&submitted))
	stats.Passed = int(atomic.LoadInt64(&passed))
	stats.Dropped = int(atomic.LoadInt64(&dropped))
	stats.Failed = int(atomic.LoadInt64(&failed))

	log.Info(ctx, "submission completed",
		logger.Int("passed", stats.Passed),
		logger.Int("dropped", stats.Dropped),
		logger.Int("failed", stats.Failed),
	)

	return results
}

// submitSingleMessage posts one message and returns the decision.
func submitSingleMessage(ctx context.Context, client *HTTPClient, url string, msg Message) (string, error) {
	resp, err := client.Post(ctx, url, msg)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Decision != DecisionPass && out.Decision != DecisionDrop {
		return "", fmt.Errorf("unexpected decision %q", out.Decision)
	}
	return out.Decision, nil
}
