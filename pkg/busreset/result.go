package busreset

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cmyster/work-tools/pkg/usb"
)

// Outcome records what happened to one bus during a reset pass.
type Outcome struct {
	Bus usb.Bus

	// Disabled and Enabled report whether each phase's write
	// succeeded for this bus.
	Disabled bool
	Enabled  bool

	DisableErr error
	EnableErr  error
}

// Succeeded reports whether both phases completed for this bus.
func (o Outcome) Succeeded() bool {
	return o.Disabled && o.Enabled
}

// Summary aggregates the per-bus outcomes of a reset pass.
type Summary struct {
	Outcomes []Outcome

	// Succeeded counts the buses where both phases succeeded.
	Succeeded int
}

func newSummary(outcomes []Outcome) Summary {
	summary := Summary{Outcomes: outcomes}
	for _, outcome := range outcomes {
		if outcome.Succeeded() {
			summary.Succeeded++
		}
	}
	return summary
}

// Targeted returns the number of buses the pass attempted.
func (s Summary) Targeted() int {
	return len(s.Outcomes)
}

// AllSucceeded reports whether every targeted bus fully reset. An
// empty pass counts as success.
func (s Summary) AllSucceeded() bool {
	return s.Succeeded == len(s.Outcomes)
}

// Err combines every per-bus failure into one diagnostic error. It is
// nil when all targeted buses reset fully.
func (s Summary) Err() error {
	var combined error
	for _, outcome := range s.Outcomes {
		if outcome.DisableErr != nil {
			combined = multierr.Append(combined,
				errors.Wrapf(outcome.DisableErr, "bus %d disable", outcome.Bus.Number))
		}
		if outcome.EnableErr != nil {
			combined = multierr.Append(combined,
				errors.Wrapf(outcome.EnableErr, "bus %d enable", outcome.Bus.Number))
		}
	}
	return combined
}
