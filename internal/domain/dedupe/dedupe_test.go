package dedupe_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/dedupmq/internal/adapters/store"
	dedupe "github.com/okian/dedupmq/internal/domain/dedupe"
	"github.com/okian/dedupmq/internal/domain/fingerprint"
	"github.com/okian/dedupmq/internal/domain/types"
	"github.com/okian/dedupmq/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

// countingMarker records calls and answers with a fixed outcome.
type countingMarker struct {
	calls   atomic.Int64
	outcome types.Outcome
	err     error
	lastFP  atomic.Value
	lastTTL atomic.Int64
}

func (m *countingMarker) SeenAndMark(_ context.Context, fp string, ttl time.Duration) (types.Outcome, error) {
	m.calls.Add(1)
	m.lastFP.Store(fp)
	m.lastTTL.Store(int64(ttl))
	return m.outcome, m.err
}

// slowKV is a check-then-set backend that yields between the two steps.
type slowKV struct {
	mem *store.Memory
}

func (k slowKV) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := k.mem.Exists(ctx, key)
	time.Sleep(time.Millisecond)
	return ok, err
}

func (k slowKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return k.mem.Set(ctx, key, value, ttl)
}

func (k slowKV) Close() error { return k.mem.Close() }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestConfig(t *testing.T) {
	Convey("Given engine configurations", t, func() {
		marker := &countingMarker{}

		Convey("When using NewConfig", func() {
			cfg := dedupe.NewConfig("a/#")

			So(cfg.TTL, ShouldEqual, 60*time.Second)
			So(cfg.Validate(), ShouldBeNil)
		})

		Convey("When the ttl is not positive", func() {
			for _, ttl := range []time.Duration{0, -time.Second} {
				_, err := dedupe.New(dedupe.Config{Filters: []string{"a"}, TTL: ttl}, marker)

				So(errors.Is(err, dedupe.ErrInvalidConfig), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "ttl must be positive")
			}
		})

		Convey("When the ttl is longer than MaxTTL", func() {
			_, err := dedupe.New(dedupe.Config{Filters: []string{"a"}, TTL: dedupe.MaxTTL + time.Second}, marker)

			So(errors.Is(err, dedupe.ErrInvalidConfig), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "at most")
		})

		Convey("When the ttl is not whole seconds", func() {
			_, err := dedupe.New(dedupe.Config{Filters: []string{"a"}, TTL: 1500 * time.Millisecond}, marker)

			So(errors.Is(err, dedupe.ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("When a filter is invalid", func() {
			_, err := dedupe.New(dedupe.Config{Filters: []string{"a/#/b"}, TTL: time.Second}, marker)

			Convey("Then construction should fail with a descriptive error", func() {
				So(errors.Is(err, dedupe.ErrInvalidConfig), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "a/#/b")
			})
		})

		Convey("When the store is nil", func() {
			_, err := dedupe.New(dedupe.NewConfig("a"), nil)

			So(errors.Is(err, dedupe.ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("When two engines are configured independently", func() {
			e1, _ := dedupe.New(dedupe.Config{Filters: []string{"a/#"}, TTL: 5 * time.Second}, marker)
			e2, _ := dedupe.New(dedupe.Config{Filters: []string{"b/+"}, TTL: 10 * time.Second}, marker)

			Convey("Then they should not share settings", func() {
				So(e1.Filters(), ShouldResemble, []string{"a/#"})
				So(e2.Filters(), ShouldResemble, []string{"b/+"})
				So(e1.TTL(), ShouldEqual, 5*time.Second)
				So(e2.TTL(), ShouldEqual, 10*time.Second)
			})
		})
	})
}

func TestDecide(t *testing.T) {
	Convey("Given a dedup engine", t, func() {
		ctx := context.Background()

		Convey("When no filters are configured", func() {
			marker := &countingMarker{outcome: types.Duplicate}
			e, err := dedupe.New(dedupe.NewConfig(), marker)
			So(err, ShouldBeNil)

			Convey("Then every message should pass without touching the store", func() {
				for i := 0; i < 10; i++ {
					So(e.Decide(ctx, "a/b", []byte("same")), ShouldEqual, types.Pass)
				}
				So(marker.calls.Load(), ShouldEqual, 0)
				So(e.Stats().Unmatched, ShouldEqual, 10)
			})
		})

		Convey("When the topic matches no filter", func() {
			marker := &countingMarker{outcome: types.Duplicate}
			e, _ := dedupe.New(dedupe.NewConfig("sensors/+/temp"), marker)

			So(e.Decide(ctx, "sensors/room1/humidity", []byte("x")), ShouldEqual, types.Pass)
			So(marker.calls.Load(), ShouldEqual, 0)
		})

		Convey("When the topic is empty", func() {
			marker := &countingMarker{outcome: types.Duplicate}
			e, _ := dedupe.New(dedupe.NewConfig("#"), marker)

			So(e.Decide(ctx, "", []byte("x")), ShouldEqual, types.Pass)
			So(marker.calls.Load(), ShouldEqual, 0)
		})

		Convey("When the topic matches", func() {
			marker := &countingMarker{outcome: types.Novel}
			e, _ := dedupe.New(dedupe.Config{Filters: []string{"a/#"}, TTL: 7 * time.Second}, marker)

			d := e.Decide(ctx, "a/b", []byte("22.5"))

			Convey("Then the store should see the payload fingerprint and ttl", func() {
				So(d, ShouldEqual, types.Pass)
				So(marker.calls.Load(), ShouldEqual, 1)
				So(marker.lastFP.Load(), ShouldEqual, fingerprint.Fingerprint([]byte("22.5")))
				So(time.Duration(marker.lastTTL.Load()), ShouldEqual, 7*time.Second)
			})
		})

		Convey("When the store reports a duplicate", func() {
			marker := &countingMarker{outcome: types.Duplicate}
			e, _ := dedupe.New(dedupe.NewConfig("a/#"), marker)

			So(e.Decide(ctx, "a/b", []byte("x")), ShouldEqual, types.Drop)
			So(e.Stats().Dropped, ShouldEqual, 1)
		})

		Convey("When the store fails on every call", func() {
			marker := &countingMarker{outcome: types.StoreError, err: store.ErrStore}
			e, _ := dedupe.New(dedupe.NewConfig("#"), marker)

			Convey("Then every decision should fail open", func() {
				for i := 0; i < 20; i++ {
					So(e.Decide(ctx, "t", []byte("dup")), ShouldEqual, types.Pass)
				}
				stats := e.Stats()
				So(stats.StoreErrors, ShouldEqual, 20)
				So(stats.Passed, ShouldEqual, 20)
				So(stats.Dropped, ShouldEqual, 0)
			})
		})

		Convey("When the store returns an error with a zero outcome", func() {
			marker := &countingMarker{err: store.ErrStore}
			e, _ := dedupe.New(dedupe.NewConfig("#"), marker)

			Convey("Then the error should count as a store failure", func() {
				So(e.Decide(ctx, "t", []byte("x")), ShouldEqual, types.Pass)
				stats := e.Stats()
				So(stats.StoreErrors, ShouldEqual, 1)
				So(stats.Passed, ShouldEqual, 1)
			})
		})

		Convey("When the store reports a duplicate along with an error", func() {
			marker := &countingMarker{outcome: types.Duplicate, err: store.ErrStore}
			e, _ := dedupe.New(dedupe.NewConfig("#"), marker)

			So(e.Decide(ctx, "t", []byte("x")), ShouldEqual, types.Pass)
			So(e.Stats().Dropped, ShouldEqual, 0)
		})

		Convey("When the store reports an error without details", func() {
			marker := &countingMarker{outcome: types.StoreError}
			e, _ := dedupe.New(dedupe.NewConfig("#"), marker)

			So(e.Decide(ctx, "t", nil), ShouldEqual, types.Pass)
		})

		Convey("When the real store client times out", func() {
			blocking := &blockingKV{}
			client, _ := store.NewClient(blocking, store.WithTimeout(5*time.Millisecond))
			e, _ := dedupe.New(dedupe.NewConfig("#"), client)

			So(e.Decide(ctx, "t", []byte("x")), ShouldEqual, types.Pass)
			So(e.Stats().StoreErrors, ShouldEqual, 1)
		})

		Convey("When given a nil context", func() {
			e, _ := dedupe.New(dedupe.NewConfig("#"), &countingMarker{})

			So(func() { e.Decide(nil, "t", nil) }, ShouldNotPanic) //nolint:staticcheck // nil context is tolerated
		})
	})
}

// blockingKV never answers before the context ends.
type blockingKV struct{}

func (blockingKV) Exists(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (blockingKV) Set(ctx context.Context, _ string, _ []byte, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingKV) Close() error { return nil }

func TestDecideWindow(t *testing.T) {
	Convey("Given an engine over a fresh memory store", t, func() {
		ctx := context.Background()
		clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		client, _ := store.NewClient(store.NewMemory(store.WithClock(clock.Now)))
		e, err := dedupe.New(dedupe.Config{Filters: []string{"a/+/c"}, TTL: 5 * time.Second}, client)
		So(err, ShouldBeNil)

		Convey("When the same message is published twice within the ttl", func() {
			first := e.Decide(ctx, "a/b/c", []byte("payload"))
			second := e.Decide(ctx, "a/b/c", []byte("payload"))

			Convey("Then the first should pass and the second drop", func() {
				So(first, ShouldEqual, types.Pass)
				So(second, ShouldEqual, types.Drop)
			})

			Convey("And after the ttl it should pass again", func() {
				clock.Advance(5 * time.Second)

				So(e.Decide(ctx, "a/b/c", []byte("payload")), ShouldEqual, types.Pass)
			})
		})

		Convey("When the same payload arrives on another matching topic", func() {
			_ = e.Decide(ctx, "a/b/c", []byte("payload"))

			Convey("Then it should be dropped since the key is the payload alone", func() {
				So(e.Decide(ctx, "a/x/c", []byte("payload")), ShouldEqual, types.Drop)
			})
		})

		Convey("When the payload is empty", func() {
			So(e.Decide(ctx, "a/b/c", nil), ShouldEqual, types.Pass)
			So(e.Decide(ctx, "a/b/c", []byte{}), ShouldEqual, types.Drop)
		})
	})
}

func TestDecideScenario(t *testing.T) {
	Convey("Given filter sensors/+/temp with a five second ttl", t, func() {
		ctx := context.Background()
		client, _ := store.NewClient(store.NewMemory())
		e, err := dedupe.New(dedupe.Config{Filters: []string{"sensors/+/temp"}, TTL: 5 * time.Second}, client)
		So(err, ShouldBeNil)

		Convey("When 22.5 is published to sensors/room1/temp twice and then to humidity", func() {
			first := e.Decide(ctx, "sensors/room1/temp", []byte("22.5"))
			second := e.Decide(ctx, "sensors/room1/temp", []byte("22.5"))
			third := e.Decide(ctx, "sensors/room1/humidity", []byte("22.5"))

			Convey("Then it should pass, drop, pass", func() {
				So(first, ShouldEqual, types.Pass)
				So(second, ShouldEqual, types.Drop)
				So(third, ShouldEqual, types.Pass)

				stats := e.Stats()
				So(stats.Passed, ShouldEqual, 1)
				So(stats.Dropped, ShouldEqual, 1)
				So(stats.Unmatched, ShouldEqual, 1)
				So(stats.TTLSeconds, ShouldEqual, 5)
			})
		})
	})
}

func TestDecideConcurrency(t *testing.T) {
	Convey("Given concurrent identical messages", t, func() {
		ctx := context.Background()
		const n = 32

		run := func(e *dedupe.Engine, payload string) (passes, drops int64) {
			var p, d atomic.Int64
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if e.Decide(ctx, "sensors/room1/temp", []byte(payload)) == types.Drop {
						d.Add(1)
						return
					}
					p.Add(1)
				}()
			}
			close(start)
			wg.Wait()
			return p.Load(), d.Load()
		}

		Convey("When the store checks then writes", func() {
			client, _ := store.NewClient(slowKV{mem: store.NewMemory()})
			e, _ := dedupe.New(dedupe.NewConfig("sensors/#"), client)

			passes, drops := run(e, "race")

			Convey("Then at least one passes and at most n-1 drop", func() {
				So(passes, ShouldBeGreaterThanOrEqualTo, 1)
				So(drops, ShouldBeLessThanOrEqualTo, n-1)
				So(passes+drops, ShouldEqual, n)
			})
		})

		Convey("When the store adds atomically", func() {
			client, _ := store.NewClient(store.NewMemory())
			e, _ := dedupe.New(dedupe.NewConfig("sensors/#"), client)

			passes, drops := run(e, "atomic")

			Convey("Then exactly one passes", func() {
				So(passes, ShouldEqual, 1)
				So(drops, ShouldEqual, n-1)
			})
		})

		Convey("When many distinct payloads race", func() {
			client, _ := store.NewClient(store.NewMemory())
			e, _ := dedupe.New(dedupe.NewConfig("sensors/#"), client)

			var wg sync.WaitGroup
			var drops atomic.Int64
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if e.Decide(ctx, "sensors/room1/temp", []byte(fmt.Sprintf("v-%d", i))) == types.Drop {
						drops.Add(1)
					}
				}(i)
			}
			wg.Wait()

			So(drops.Load(), ShouldEqual, 0)
		})
	})
}

func BenchmarkDecideUnmatched(b *testing.B) {
	_ = logger.Init()
	e, _ := dedupe.New(dedupe.NewConfig("sensors/+/temp"), &countingMarker{})
	ctx := context.Background()
	payload := []byte("22.5")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Decide(ctx, "other/room1/temp", payload)
	}
}

func TestDecideLogging(t *testing.T) {
	Convey("Given an engine logging to a buffer", t, func() {
		var buf bytes.Buffer
		ctx := context.Background()
		payload := []byte("secret-payload-42")
		fp := fingerprint.Fingerprint(payload)

		build := func(verbose bool, level slog.Level) *dedupe.Engine {
			l, err := logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatJSON), logger.WithLevel(level))
			So(err, ShouldBeNil)

			cfg := dedupe.NewConfig("sensors/#")
			cfg.Verbose = verbose
			e, err := dedupe.New(cfg, &countingMarker{outcome: types.Duplicate}, dedupe.WithLogger(l))
			So(err, ShouldBeNil)
			return e
		}

		Convey("When verbose logging is on", func() {
			e := build(true, slog.LevelInfo)
			So(e.Decide(ctx, "sensors/a", payload), ShouldEqual, types.Drop)

			Convey("Then the match and the drop should be logged by fingerprint", func() {
				out := buf.String()
				So(out, ShouldContainSubstring, "topic matched")
				So(out, ShouldContainSubstring, "dropped duplicate")
				So(out, ShouldContainSubstring, fp)
				So(out, ShouldContainSubstring, "sensors/a")
			})

			Convey("And the payload itself should never be logged", func() {
				So(buf.String(), ShouldNotContainSubstring, string(payload))
			})
		})

		Convey("When verbose logging is off", func() {
			e := build(false, slog.LevelInfo)
			So(e.Decide(ctx, "sensors/a", payload), ShouldEqual, types.Drop)

			Convey("Then only the drop should reach info level", func() {
				out := buf.String()
				So(out, ShouldNotContainSubstring, "topic matched")
				So(out, ShouldContainSubstring, "dropped duplicate")
			})
		})
	})
}
