// Package types contains common types used across the application
package types

// Decision is the verdict for a single message.
type Decision int

const (
	// Pass delivers the message normally.
	Pass Decision = iota
	// Drop discards the message as a duplicate.
	Drop
)

func (d Decision) String() string {
	switch d {
	case Pass:
		return "pass"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Outcome is the result of a check-and-mark against the recently seen store.
type Outcome int

const (
	// Novel means no entry existed and one was written.
	Novel Outcome = iota
	// Duplicate means an unexpired entry already existed.
	Duplicate
	// StoreError means the store could not answer; it is neither novel nor duplicate.
	StoreError
)

func (o Outcome) String() string {
	switch o {
	case Novel:
		return "novel"
	case Duplicate:
		return "duplicate"
	case StoreError:
		return "store_error"
	default:
		return "unknown"
	}
}

// Stats is a point in time view of decision counters.
type Stats struct {
	Filters     []string `json:"filters"`
	TTLSeconds  int      `json:"ttl_seconds"`
	Backend     string   `json:"backend"`
	Unmatched   int64    `json:"unmatched"`
	Passed      int64    `json:"passed"`
	Dropped     int64    `json:"dropped"`
	StoreErrors int64    `json:"store_errors"`
}
