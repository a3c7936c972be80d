// elo-reset: force re-enumeration of every USB bus hosting Elo
// touchscreen devices.
//
// Touch displays that were recabled while powered sometimes come back
// as the wrong device class until their bus is re-probed. This tool
// finds the buses hosting matching devices and toggles each bus's
// sysfs authorized attribute in lockstep: disable all, wait, enable
// all. Writing sysfs requires root.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.viam.com/utils"

	"github.com/cmyster/work-tools/pkg/busreset"
	"github.com/cmyster/work-tools/pkg/config"
	"github.com/cmyster/work-tools/pkg/usb"
)

// Exit codes
const (
	exitSuccess   = 0
	exitFailure   = 1
	exitPartial   = 2
	exitCancelled = 130
)

// Swapped by tests to run against fakes instead of real hardware.
var (
	newEnumerator = usb.NewEnumerator
	sysfsPath     = usb.DefaultSysfsPath
	geteuid       = os.Geteuid
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("elo-reset", pflag.ContinueOnError)
	delaySeconds := flags.Float64P("delay", "d", busreset.DefaultDelay.Seconds(),
		"seconds buses stay disabled before being re-enabled")
	vendor := flags.StringP("vendor", "v", fmt.Sprintf("0x%04X", usb.EloVendorID),
		"vendor ID of the devices to look for (0xHEX or decimal)")
	writeTimeoutSeconds := flags.Float64("write-timeout", busreset.DefaultWriteTimeout.Seconds(),
		"seconds allowed for each sysfs write")
	configPath := flags.StringP("config", "c", "", "optional YAML configuration file")
	debug := flags.Bool("debug", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitSuccess
		}
		// pflag already reported the problem.
		return exitFailure
	}
	if rest := flags.Args(); len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument: %s\n", rest[0])
		return exitFailure
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
		cfg = loaded
	}
	// Explicit flags win over config file values.
	if flags.Changed("delay") {
		cfg.DelaySeconds = *delaySeconds
	}
	if flags.Changed("write-timeout") {
		cfg.WriteTimeoutSeconds = *writeTimeoutSeconds
	}
	if flags.Changed("vendor") {
		cfg.VendorID = *vendor
	}
	if flags.Changed("debug") {
		cfg.Debug = *debug
	}

	vendorID, err := cfg.Vendor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	resetConfig := cfg.ResetConfig()
	if err := resetConfig.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}

	logger := golog.NewLogger("elo-reset")
	if cfg.Debug {
		logger = golog.NewDebugLogger("elo-reset")
	}

	if geteuid() != 0 {
		logger.Errorw("writing bus authorization requires root", "hint", "re-run with sudo")
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enumerator := newEnumerator()
	defer utils.UncheckedErrorFunc(enumerator.Close)

	locator := usb.NewLocator(enumerator, logger, usb.WithSysfsPath(sysfsPath))
	buses, err := locator.Locate(vendorID)
	if err != nil {
		logger.Errorw("bus discovery failed", "error", err)
		return exitFailure
	}
	if len(buses) == 0 {
		logger.Infow("no matching devices found", "vendor", fmt.Sprintf("0x%04X", vendorID))
		return exitSuccess
	}

	usb.SortBuses(buses)
	devices := 0
	for _, bus := range buses {
		devices += bus.DeviceCount
	}
	logger.Infow("found matching devices",
		"vendor", fmt.Sprintf("0x%04X", vendorID),
		"devices", devices,
		"buses", usb.BusNumbers(buses))

	summary, err := busreset.New(resetConfig, logger).ResetAll(ctx, buses)
	return report(logger, summary, err)
}

// report logs the aggregate result and maps it to the exit code.
func report(logger golog.Logger, summary busreset.Summary, err error) int {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warnw("reset cancelled")
			return exitCancelled
		}
		logger.Errorw("reset aborted", "error", err)
		return exitFailure
	}
	switch {
	case summary.AllSucceeded():
		logger.Infow("all buses reset", "buses", summary.Targeted())
		return exitSuccess
	case summary.Succeeded > 0:
		logger.Warnw("some buses failed to reset",
			"succeeded", summary.Succeeded,
			"targeted", summary.Targeted(),
			"error", summary.Err())
		return exitPartial
	default:
		logger.Errorw("no buses were reset",
			"targeted", summary.Targeted(),
			"error", summary.Err())
		return exitFailure
	}
}
