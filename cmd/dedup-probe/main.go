// Command dedup-probe checks a running dedupmq with repeated publishes.
package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/dedupmq/internal/probe"
	"github.com/okian/dedupmq/pkg/logger"
)

// Default configuration constants.
const (
	defaultPayloads    = 1000
	defaultCopies      = 5
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 5 * time.Second
	defaultHealthWait  = 30 * time.Second
	defaultProbeWindow = 10 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9081", "Base URL of the service")
		topic     = flag.String("topic", "probe/dedup", "Topic the service watches")
		unwatched = flag.String("unwatched", "probe-unwatched/x", "Topic no filter matches (empty disables the check)")
		payloads  = flag.Int("payloads", defaultPayloads, "Number of distinct payloads")
		copies    = flag.Int("copies", defaultCopies, "Publishes per payload")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		wait      = flag.Duration("wait", defaultHealthWait, "How long to wait for the service to become healthy")
		exact     = flag.Bool("exact", false, "Require exactly one pass per payload")
		verbose   = flag.Bool("verbose", false, "Log every decision")
		logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		probe.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.SetLevelString(*logLevel); err != nil {
		os.Stderr.WriteString("invalid log level: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), defaultProbeWindow)
	defer cancel()

	cfg := &probe.Config{
		BaseURL:        *baseURL,
		Topic:          *topic,
		UnwatchedTopic: *unwatched,
		Payloads:       *payloads,
		Copies:         *copies,
		Workers:        *workers,
		Timeout:        *timeout,
		HealthWait:     *wait,
		Exact:          *exact,
		Verbose:        *verbose,
	}

	if _, err := probe.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "probe failed", logger.Error(err))
		cancel()
		os.Exit(1)
	}
}
