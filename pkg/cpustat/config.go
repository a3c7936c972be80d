package cpustat

import (
	"fmt"
	"time"
)

// Default sampling parameters
const (
	// DefaultInterval samples at 100Hz, fast enough to catch spikes
	// that a top-style refresh rate averages away.
	DefaultInterval = 10 * time.Millisecond

	// DefaultTopProcesses is how many of the busiest processes each
	// sample ranks.
	DefaultTopProcesses = 5
)

// Config controls the sampling cadence and the process ranking.
type Config struct {
	// Interval is the time between samples.
	Interval time.Duration

	// TopProcesses is how many of the busiest processes to report per
	// sample. Zero disables the process walk entirely.
	TopProcesses int
}

// DefaultConfig returns the stock sampling parameters.
func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		TopProcesses: DefaultTopProcesses,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, c.Interval)
	}
	if c.TopProcesses < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTopCount, c.TopProcesses)
	}
	return nil
}
