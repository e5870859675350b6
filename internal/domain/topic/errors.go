package topic

import "errors"

// Sentinel kinds for topic errors.
var (
	ErrInvalidFilter  = errors.New("invalid topic filter")
	ErrTooManyFilters = errors.New("too many topic filters")
)
