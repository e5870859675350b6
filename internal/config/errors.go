package config

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrInvalidConfig marks settings the service refuses to start with.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig marks an unreadable config file or undecodable value.
	ErrLoadConfig = errors.New("load config failed")
)
