package busreset

import (
	"fmt"
	"time"
)

// Default timing
const (
	// DefaultDelay is how long buses are held deauthorized so the host
	// controller observes the unplug edge before the replug.
	DefaultDelay = time.Second

	// DefaultWriteTimeout bounds each individual control-path write.
	DefaultWriteTimeout = time.Second
)

// Config controls the timing of a reset pass.
type Config struct {
	// Delay is the wait between the disable and enable phases. Zero
	// means re-enable immediately.
	Delay time.Duration

	// WriteTimeout bounds each control-path write. A write that does
	// not complete in time counts as failed for its bus.
	WriteTimeout time.Duration
}

// DefaultConfig returns the stock reset timing.
func DefaultConfig() Config {
	return Config{
		Delay:        DefaultDelay,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.Delay < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDelay, c.Delay)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, c.WriteTimeout)
	}
	return nil
}
