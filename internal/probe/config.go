// Package probe drives a running dedupmq instance with deliberately repeated
// messages and checks that its decisions honor the dedup guarantees.
package probe

import "time"

// Config holds configuration for a probe run.
type Config struct {
	BaseURL        string        // Base URL of the service
	Topic          string        // Watched topic messages are published on
	UnwatchedTopic string        // Optional topic no filter matches; its repeats must all pass
	Payloads       int           // Number of distinct payloads
	Copies         int           // How many times each payload is published
	Workers        int           // Number of concurrent workers
	Timeout        time.Duration // HTTP request timeout
	HealthWait     time.Duration // How long to wait for /healthz before giving up
	Exact          bool          // Require exactly one pass per payload (atomic stores)
	Verbose        bool          // Log every decision
}

// Message is one publish sent to /decide.
type Message struct {
	Key     int    `json:"-"` // index of the distinct payload
	Topic   string `json:"topic"`
	Payload string `json:"payload_text"`
}

// Result is the service's answer for one message.
type Result struct {
	Message  Message
	Decision string
	Err      error
}

// Stats holds probe statistics.
type Stats struct {
	Generated int
	Submitted int
	Passed    int
	Dropped   int
	Failed    int
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
