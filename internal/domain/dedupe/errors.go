package dedupe

import "errors"

// Sentinel kinds for engine errors.
var (
	ErrInvalidConfig = errors.New("invalid dedupe config")
)
