package store

import "errors"

// Sentinel kinds for store errors.
var (
	ErrStore          = errors.New("store unavailable")
	ErrNilBackend     = errors.New("store backend is nil")
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrInvalidAddr    = errors.New("invalid store address")
	ErrInvalidPrefix  = errors.New("invalid store key prefix")
)
