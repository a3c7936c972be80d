// cpustat: sample per-CPU load and the busiest processes at 100Hz.
//
// Grafana and top-style tools average load over refresh intervals long
// enough to hide short spikes; this samples fast enough to see them.
// Each tick prints one timestamped row of per-CPU busy percentages
// followed by the most CPU-hungry processes. Redirect stdout to a log
// file for later digging.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/cmyster/work-tools/pkg/cpustat"
)

// Exit codes
const (
	exitSuccess = 0
	exitFailure = 1
)

// Swapped by tests to sample a synthetic proc tree and leave
// scheduler affinity untouched.
var (
	procPath           = cpustat.DefaultProcPath
	pinCPU             = pinToLastCPU
	stdout   io.Writer = os.Stdout
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("cpustat", pflag.ContinueOnError)
	intervalSeconds := flags.Float64P("interval", "i", cpustat.DefaultInterval.Seconds(),
		"seconds between samples")
	top := flags.IntP("top", "n", cpustat.DefaultTopProcesses,
		"busiest processes to list per sample (0 disables the list)")
	count := flags.IntP("count", "c", 0,
		"samples to take before exiting (0 means run until interrupted)")
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

	samplerConfig := cpustat.Config{
		Interval:     time.Duration(*intervalSeconds * float64(time.Second)),
		TopProcesses: *top,
	}
	if err := samplerConfig.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailure
	}
	if *count < 0 {
		fmt.Fprintf(os.Stderr, "error: sample count must not be negative\n")
		return exitFailure
	}

	logger := golog.NewLogger("cpustat")
	if *debug {
		logger = golog.NewDebugLogger("cpustat")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pinCPU(); err != nil {
		logger.Warnw("could not pin the sampler to the last cpu", "error", err)
	}

	sampler, err := cpustat.New(samplerConfig, logger, cpustat.WithProcPath(procPath))
	if err != nil {
		logger.Errorw("sampler setup failed", "error", err)
		return exitFailure
	}

	printHeader(sampler.CPUNames())
	taken := 0
	err = sampler.Monitor(ctx, func(snapshot cpustat.Snapshot) bool {
		printSnapshot(snapshot)
		taken++
		return *count == 0 || taken < *count
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Interruption is the normal way to stop the monitor.
			return exitSuccess
		}
		logger.Errorw("sampling failed", "error", err)
		return exitFailure
	}
	return exitSuccess
}

// pinToLastCPU locks the calling goroutine to its OS thread and moves
// that thread to the highest-numbered CPU, keeping the sampling loop
// off the cores being watched.
func pinToLastCPU() error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(runtime.NumCPU() - 1)
	return unix.SchedSetaffinity(0, &set)
}

func printHeader(names []string) {
	fmt.Fprint(stdout, "HH:MM:SS:UU")
	for _, name := range names {
		fmt.Fprintf(stdout, "\t%s", name)
	}
	fmt.Fprintln(stdout)
}

func printSnapshot(snapshot cpustat.Snapshot) {
	taken := snapshot.Taken
	fmt.Fprintf(stdout, "%02d:%02d:%02d:%02d",
		taken.Hour(), taken.Minute(), taken.Second(), taken.Nanosecond()/10000000)
	for _, cpu := range snapshot.CPUs {
		fmt.Fprintf(stdout, "\t%2.0f%%", cpu.Percent)
	}
	fmt.Fprintln(stdout)
	for _, process := range snapshot.Top {
		fmt.Fprintf(stdout, "    pid=%d %-20s %.1f%%\n", process.PID, process.Comm, process.Percent)
	}
}
