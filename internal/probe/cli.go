package probe

import "os"

// ShowHelp prints usage information for the probe tool.
func ShowHelp() {
	os.Stdout.WriteString(`dedupmq probe
=============

Publishes repeated payloads to a running dedupmq and checks the decisions:
every payload on the watched topic passes at least once and is dropped at
most copies-1 times; repeats on the unwatched topic are never dropped.

Usage:
  dedup-probe [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9081")
  -topic string
        Topic the service watches (default "probe/dedup")
  -unwatched string
        Topic no filter matches; empty disables the check (default "probe-unwatched/x")
  -payloads int
        Number of distinct payloads (default 1000)
  -copies int
        Publishes per payload (default 5)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 5s)
  -wait duration
        How long to wait for the service to become healthy (default 30s)
  -exact
        Require exactly one pass per payload (atomic store backends)
  -verbose
        Log every decision
  -help
        Show this help message

Examples:
  # Service started with DEDUPMQ_TOPICS=probe/#
  dedup-probe -payloads 5000 -copies 10 -exact
`)
}
