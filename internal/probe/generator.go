package probe

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/okian/dedupmq/pkg/logger"
)

// generateMessages returns cfg.Copies publishes of cfg.Payloads distinct
// payloads on the watched topic, plus the same on the unwatched topic if one
// is set, in shuffled order.
func generateMessages(ctx context.Context, cfg *Config, stats *Stats) ([]Message, error) {
	if cfg.Payloads <= 0 || cfg.Copies <= 0 {
		return nil, fmt.Errorf("payloads and copies must be positive, got %d and %d", cfg.Payloads, cfg.Copies)
	}

	topics := []string{cfg.Topic}
	if cfg.UnwatchedTopic != "" {
		topics = append(topics, cfg.UnwatchedTopic)
	}

	// A fresh run id keeps payloads from colliding with earlier runs still in the store.
	run := uuid.New().String()

	msgs := make([]Message, 0, cfg.Payloads*cfg.Copies*len(topics))
	for t, topic := range topics {
		for i := 0; i < cfg.Payloads; i++ {
			key := t*cfg.Payloads + i
			payload := fmt.Sprintf("%s/%d/%s", run, key, uuid.New().String())
			for c := 0; c < cfg.Copies; c++ {
				msgs = append(msgs, Message{Key: key, Topic: topic, Payload: payload})
			}
		}
	}

	if err := shuffle(msgs); err != nil {
		return nil, err
	}

	stats.Generated = len(msgs)
	logger.Get().Info(ctx, "generated messages",
		logger.Int("count", len(msgs)),
		logger.Int("payloads", cfg.Payloads),
		logger.Int("copies", cfg.Copies),
	)
	return msgs, nil
}

// shuffle is a Fisher-Yates shuffle driven by crypto/rand.
func shuffle(msgs []Message) error {
	for i := len(msgs) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("shuffle messages: %w", err)
		}
		j := int(n.Int64())
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return nil
}
