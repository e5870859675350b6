// Package topic implements MQTT topic filter parsing and matching.
//
// Filters use '/' separated levels. A level may be the single level wildcard
// '+' and the final level may be the multi level wildcard '#'. Empty levels
// are valid and matched by '+'. Topics starting with '$' are reserved for the
// broker and are never matched by a filter whose first level is a wildcard.
package topic

import (
	"fmt"
	"strings"
)

// Topic syntax constants.
const (
	Separator      = "/"
	SingleWildcard = "+"
	MultiWildcard  = "#"
	systemPrefix   = "$"

	// MaxFilters bounds the number of filters a Set may hold.
	MaxFilters = 64
)

// Filter is a validated topic filter. The zero value matches nothing.
type Filter struct {
	raw    string
	levels []string
}

// ParseFilter validates s and returns it as a Filter.
func ParseFilter(s string) (Filter, error) {
	if s == "" {
		return Filter{}, fmt.Errorf("%w: empty filter", ErrInvalidFilter)
	}

	levels := strings.Split(s, Separator)
	for i, level := range levels {
		switch {
		case level == MultiWildcard:
			if i != len(levels)-1 {
				return Filter{}, fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidFilter, s)
			}
		case level == SingleWildcard:
		case strings.ContainsAny(level, SingleWildcard+MultiWildcard):
			return Filter{}, fmt.Errorf("%w: %q: wildcard must occupy a whole level (level %d is %q)", ErrInvalidFilter, s, i, level)
		}
	}

	return Filter{raw: s, levels: levels}, nil
}

// MustParseFilter is like ParseFilter but panics on invalid input.
// Intended for tests and package level filter literals.
func MustParseFilter(s string) Filter {
	f, err := ParseFilter(s)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the filter as configured.
func (f Filter) String() string { return f.raw }

// Matches reports whether topic is matched by filter f.
func Matches(f Filter, topic string) bool {
	if len(f.levels) == 0 {
		return false
	}

	// $-prefixed topics are only reachable through a literal first level.
	if strings.HasPrefix(topic, systemPrefix) {
		if first := f.levels[0]; first == SingleWildcard || first == MultiWildcard {
			return false
		}
	}

	rest := topic
	exhausted := false
	for _, level := range f.levels {
		if level == MultiWildcard {
			return true
		}
		if exhausted {
			return false
		}

		var current string
		var more bool
		current, rest, more = strings.Cut(rest, Separator)
		exhausted = !more

		if level != SingleWildcard && level != current {
			return false
		}
	}

	return exhausted
}

// Set is an immutable, bounded list of filters. It is safe for concurrent use.
type Set struct {
	filters []Filter
}

// NewSet parses every filter in raw. Duplicates are collapsed, the first
// occurrence keeps its position.
func NewSet(raw []string) (*Set, error) {
	seen := make(map[string]struct{}, len(raw))
	filters := make([]Filter, 0, len(raw))
	for _, s := range raw {
		if _, dup := seen[s]; dup {
			continue
		}
		f, err := ParseFilter(s)
		if err != nil {
			return nil, err
		}
		seen[s] = struct{}{}
		filters = append(filters, f)
	}

	if len(filters) > MaxFilters {
		return nil, fmt.Errorf("%w: %d filters configured, at most %d allowed", ErrTooManyFilters, len(filters), MaxFilters)
	}

	return &Set{filters: filters}, nil
}

// Match returns the first filter matching topic.
func (s *Set) Match(topic string) (Filter, bool) {
	if s == nil {
		return Filter{}, false
	}
	for _, f := range s.filters {
		if Matches(f, topic) {
			return f, true
		}
	}
	return Filter{}, false
}

// Len returns the number of filters in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.filters)
}

// Strings returns the configured filters in order.
func (s *Set) Strings() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.filters))
	for i, f := range s.filters {
		out[i] = f.raw
	}
	return out
}
