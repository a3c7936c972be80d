package busreset

import "errors"

// Configuration errors
var (
	ErrInvalidDelay   = errors.New("delay must not be negative")
	ErrInvalidTimeout = errors.New("write timeout must be positive")
)

// Write errors
var (
	ErrWriteTimeout = errors.New("control write timed out")
)
