// Package busreset toggles the sysfs authorized attribute of USB buses
// to force the kernel to re-enumerate every device on them.
//
// A reset is a two-phase barrier: all targeted buses are deauthorized
// concurrently, the coordinator waits for a settle delay, then all
// buses are re-authorized concurrently. No enable write is issued
// until every disable attempt has resolved, and one bus's failure
// never blocks another bus's writes. The enable phase always runs for
// every bus so a transient disable failure cannot leave a bus
// deauthorized.
package busreset

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/cmyster/work-tools/pkg/usb"
)

// Values written to the authorized attribute.
const (
	authorizedOff = "0\n"
	authorizedOn  = "1\n"
)

// Phase names used in log events.
const (
	phaseDisable = "disable"
	phaseEnable  = "enable"
)

const privilegeHint = "re-run with elevated privileges (sudo)"

// Coordinator performs two-phase resets over a set of buses.
type Coordinator struct {
	config Config
	clock  clock.Clock
	logger golog.Logger

	// write is swapped by tests to inject failures and slowness.
	write func(path, value string) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock substitutes the clock used for the inter-phase delay.
func WithClock(c clock.Clock) Option {
	return func(coordinator *Coordinator) {
		coordinator.clock = c
	}
}

// New returns a Coordinator using the given timing. A zero
// WriteTimeout falls back to DefaultWriteTimeout; a zero Delay means
// no wait between phases.
func New(config Config, logger golog.Logger, opts ...Option) *Coordinator {
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	coordinator := &Coordinator{
		config: config,
		clock:  clock.New(),
		logger: logger,
		write:  writeSysfs,
	}
	for _, opt := range opts {
		opt(coordinator)
	}
	return coordinator
}

func writeSysfs(path, value string) error {
	return os.WriteFile(path, []byte(value), 0644)
}

// ResetAll disables every bus, waits the configured delay, then
// enables every bus. Each phase runs one worker per bus; failures are
// recorded per bus and never abort the pass. The returned error is
// non-nil only when ctx was cancelled, in which case the Summary holds
// whatever outcomes had resolved by then.
func (c *Coordinator) ResetAll(ctx context.Context, buses []usb.Bus) (Summary, error) {
	if len(buses) == 0 {
		c.logger.Warnw("no buses to reset")
		return Summary{}, nil
	}

	outcomes := make([]Outcome, len(buses))
	for i, bus := range buses {
		outcomes[i].Bus = bus
	}

	c.logger.Infow("disabling buses", "buses", usb.BusNumbers(buses))
	disableErrs, err := c.runPhase(ctx, buses, authorizedOff, phaseDisable)
	for i, disableErr := range disableErrs {
		if disableErr == nil {
			outcomes[i].Disabled = true
		} else {
			outcomes[i].DisableErr = disableErr
		}
	}
	if err != nil {
		return newSummary(outcomes), err
	}

	c.logger.Debugw("waiting before re-enable", "delay", c.config.Delay)
	if err := c.waitBetweenPhases(ctx); err != nil {
		return newSummary(outcomes), err
	}

	c.logger.Infow("enabling buses", "buses", usb.BusNumbers(buses))
	enableErrs, err := c.runPhase(ctx, buses, authorizedOn, phaseEnable)
	for i, enableErr := range enableErrs {
		if enableErr == nil {
			outcomes[i].Enabled = true
		} else {
			outcomes[i].EnableErr = enableErr
		}
	}
	return newSummary(outcomes), err
}

// ResetBus resets a single bus: disable, wait, enable. The enable
// write is attempted even when the disable failed. The returned error
// is non-nil only when ctx was cancelled, including a cancellation
// that surfaced inside the enable write.
func (c *Coordinator) ResetBus(ctx context.Context, bus usb.Bus) (Outcome, error) {
	outcome := Outcome{Bus: bus}

	err := c.writeControl(ctx, bus.ControlPath, authorizedOff)
	c.logWriteResult(phaseDisable, bus, err)
	if err == nil {
		outcome.Disabled = true
	} else {
		outcome.DisableErr = err
	}

	if err := c.waitBetweenPhases(ctx); err != nil {
		return outcome, err
	}

	err = c.writeControl(ctx, bus.ControlPath, authorizedOn)
	c.logWriteResult(phaseEnable, bus, err)
	if err == nil {
		outcome.Enabled = true
	} else {
		outcome.EnableErr = err
	}
	return outcome, ctx.Err()
}

type phaseResult struct {
	index int
	err   error
}

// runPhase issues one control write per bus concurrently and waits for
// every attempt to resolve before returning. On cancellation it stops
// waiting: in-flight writes finish in the background, the buses whose
// results were not collected are marked with the context error, and the
// phase reports the context error even when every result was drained
// before the cancellation was noticed.
func (c *Coordinator) runPhase(ctx context.Context, buses []usb.Bus, value, phase string) ([]error, error) {
	results := make(chan phaseResult, len(buses))
	for i, bus := range buses {
		utils.PanicCapturingGo(func() {
			results <- phaseResult{index: i, err: c.writeControl(ctx, bus.ControlPath, value)}
		})
	}

	writeErrs := make([]error, len(buses))
	collected := make([]bool, len(buses))
	for received := 0; received < len(buses); received++ {
		select {
		case result := <-results:
			writeErrs[result.index] = result.err
			collected[result.index] = true
			c.logWriteResult(phase, buses[result.index], result.err)
		case <-ctx.Done():
			c.logger.Warnw("reset interrupted, abandoning in-flight writes", "phase", phase)
			for i := range writeErrs {
				if !collected[i] {
					writeErrs[i] = ctx.Err()
				}
			}
			return writeErrs, ctx.Err()
		}
	}
	// ctx.Err() rather than nil: a cancellation can land while a worker
	// result is being drained from the channel, leaving the context
	// error recorded only in a per-bus slot. The pass itself must still
	// report cancelled.
	return writeErrs, ctx.Err()
}

// waitBetweenPhases blocks for the configured delay or until ctx is
// cancelled, whichever comes first.
func (c *Coordinator) waitBetweenPhases(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.config.Delay <= 0 {
		return nil
	}
	timer := c.clock.Timer(c.config.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeControl performs one bounded write against a control path. A
// stuck write cannot stall the caller: after WriteTimeout the attempt
// is reported as ErrWriteTimeout and the write is left to finish on
// its own.
func (c *Coordinator) writeControl(ctx context.Context, path, value string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	defer cancel()

	done := make(chan error, 1)
	utils.PanicCapturingGo(func() {
		done <- c.write(path, value)
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %s", ErrWriteTimeout, c.config.WriteTimeout, path)
		}
		return ctx.Err()
	}
}

func (c *Coordinator) logWriteResult(phase string, bus usb.Bus, err error) {
	if err == nil {
		c.logger.Debugw("bus write succeeded", "phase", phase, "bus", bus.Number)
		return
	}
	keysAndValues := []interface{}{
		"phase", phase,
		"bus", bus.Number,
		"path", bus.ControlPath,
		"error", err,
	}
	if errors.Is(err, fs.ErrPermission) {
		keysAndValues = append(keysAndValues, "hint", privilegeHint)
	}
	c.logger.Errorw("bus write failed", keysAndValues...)
}
