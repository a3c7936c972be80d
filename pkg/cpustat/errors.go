package cpustat

import "errors"

// Configuration errors
var (
	ErrInvalidInterval = errors.New("sampling interval must be positive")
	ErrInvalidTopCount = errors.New("top process count must not be negative")
)
