package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/okian/dedupmq/pkg/logger"
)

// ErrVerification is returned when decisions break a dedup guarantee.
var ErrVerification = errors.New("verification failed")

type tally struct {
	topic   string
	passes  int
	drops   int
	answers int
}

// verifyResults checks, per distinct payload, that the watched topic saw at
// least one pass and at most copies-1 drops, and that the unwatched topic
// never saw a drop. With cfg.Exact every watched payload must pass once.
func verifyResults(ctx context.Context, cfg *Config, results []Result) error {
	log := logger.Get().Named("probe")
	log.Info(ctx, "verifying results")

	tallies := make(map[int]*tally)
	failures := 0
	for _, r := range results {
		if r.Message.Topic == "" {
			continue
		}
		if r.Err != nil {
			failures++
			continue
		}
		t, ok := tallies[r.Message.Key]
		if !ok {
			t = &tally{topic: r.Message.Topic}
			tallies[r.Message.Key] = t
		}
		t.answers++
		if r.Decision == DecisionDrop {
			t.drops++
		} else {
			t.passes++
		}
	}

	keys := make([]int, 0, len(tallies))
	for k := range tallies {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var problems []string
	for _, k := range keys {
		t := tallies[k]
		if t.topic != cfg.Topic {
			if t.drops > 0 {
				problems = append(problems, fmt.Sprintf("payload %d on unwatched topic %s dropped %d times", k, t.topic, t.drops))
			}
			continue
		}
		// Only complete sets of answers can be held to the pass/drop bounds.
		if t.answers < cfg.Copies {
			continue
		}
		if t.passes < 1 {
			problems = append(problems, fmt.Sprintf("payload %d never passed", k))
		}
		if t.drops > cfg.Copies-1 {
			problems = append(problems, fmt.Sprintf("payload %d dropped %d of %d times", k, t.drops, cfg.Copies))
		}
		if cfg.Exact && t.passes != 1 {
			problems = append(problems, fmt.Sprintf("payload %d passed %d times, want exactly 1", k, t.passes))
		}
	}

	if failures > 0 {
		log.Warn(ctx, "some requests failed and were not verified", logger.Int("failed", failures))
	}
	if len(problems) > 0 {
		for _, p := range problems {
			log.Error(ctx, "dedup guarantee broken", logger.String("detail", p))
		}
		return fmt.Errorf("%w: %d problems, first: %s", ErrVerification, len(problems), problems[0])
	}

	log.Info(ctx, "result verification completed", logger.Int("payloads", len(tallies)))
	return nil
}
