// Package cpustat samples per-CPU and per-process usage from the proc
// filesystem at a high rate.
//
// Usage figures are deltas between consecutive samples: each CPU's
// busy share of its own elapsed time, and each process's utime+stime
// share of the total time elapsed across every CPU. Sampling much
// faster than top-style tools makes short spikes visible instead of
// averaging them away.
package cpustat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// DefaultProcPath is the standard mount point of the proc filesystem.
const DefaultProcPath = procfs.DefaultMountPoint

// CPUUsage is one CPU's busy share of a sampling window.
type CPUUsage struct {
	Name    string
	Percent float64
}

// ProcessUsage is one process's share of the total CPU time spent
// across every CPU during a sampling window.
type ProcessUsage struct {
	PID     int
	Comm    string
	Percent float64
}

// Snapshot is the usage observed between two consecutive samples.
type Snapshot struct {
	Taken time.Time
	CPUs  []CPUUsage
	Top   []ProcessUsage
}

type cpuCounters struct {
	idle  float64
	total float64
}

type procCounters struct {
	comm    string
	seconds float64
}

// Sampler reads the proc filesystem and reports usage deltas between
// consecutive samples.
type Sampler struct {
	config   Config
	procPath string
	fs       procfs.FS
	clock    clock.Clock
	logger   golog.Logger

	names     []string
	prevCPUs  map[int64]cpuCounters
	prevProcs map[int]procCounters
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithClock substitutes the clock used for the interval wait.
func WithClock(c clock.Clock) Option {
	return func(s *Sampler) {
		s.clock = c
	}
}

// WithProcPath points the sampler at an alternate proc filesystem
// root. Tests use it to sample a synthetic tree.
func WithProcPath(path string) Option {
	return func(s *Sampler) {
		s.procPath = path
	}
}

// New returns a Sampler and takes the baseline sample that later
// Sample calls are measured against. A zero Interval takes the
// default; a zero TopProcesses is meaningful (no process ranking) and
// is used as-is.
func New(config Config, logger golog.Logger, opts ...Option) (*Sampler, error) {
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	sampler := &Sampler{
		config:   config,
		procPath: DefaultProcPath,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(sampler)
	}

	fs, err := procfs.NewFS(sampler.procPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening proc filesystem at %s", sampler.procPath)
	}
	sampler.fs = fs
	if err := sampler.prime(); err != nil {
		return nil, err
	}
	sampler.logger.Debugw("sampler primed",
		"cpus", len(sampler.names), "interval", config.Interval)
	return sampler, nil
}

// prime establishes the baseline counters and fixes the CPU column
// set reported by CPUNames.
func (s *Sampler) prime() error {
	cpus, err := s.readCPUs()
	if err != nil {
		return err
	}
	s.prevCPUs = cpus
	s.names = make([]string, 0, len(cpus))
	for _, id := range sortedCPUIDs(cpus) {
		s.names = append(s.names, fmt.Sprintf("cpu%d", id))
	}
	if s.config.TopProcesses > 0 {
		procs, err := s.readProcs()
		if err != nil {
			return err
		}
		s.prevProcs = procs
	}
	return nil
}

// CPUNames returns the CPUs seen in the baseline sample, in column
// order.
func (s *Sampler) CPUNames() []string {
	return append([]string(nil), s.names...)
}

// Sample reads the proc filesystem, returns usage since the previous
// call (or since New for the first call), and advances the baseline.
func (s *Sampler) Sample() (Snapshot, error) {
	cpus, err := s.readCPUs()
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{Taken: s.clock.Now()}
	var totalDelta float64
	ids := sortedCPUIDs(cpus)
	snapshot.CPUs = make([]CPUUsage, 0, len(ids))
	for _, id := range ids {
		current := cpus[id]
		usage := CPUUsage{Name: fmt.Sprintf("cpu%d", id)}
		// A CPU without a baseline (hotplugged mid-run) reports zero
		// until the next sample.
		if prev, ok := s.prevCPUs[id]; ok {
			dTotal := current.total - prev.total
			dIdle := current.idle - prev.idle
			totalDelta += dTotal
			if dTotal > 0 {
				usage.Percent = clampPercent(100 * (dTotal - dIdle) / dTotal)
			}
		}
		snapshot.CPUs = append(snapshot.CPUs, usage)
	}
	s.prevCPUs = cpus

	if s.config.TopProcesses > 0 {
		procs, err := s.readProcs()
		if err != nil {
			return Snapshot{}, err
		}
		snapshot.Top = s.rankProcesses(procs, totalDelta)
		s.prevProcs = procs
	}
	return snapshot, nil
}

// Monitor samples at the configured interval until ctx is cancelled
// or fn returns false, handing each Snapshot to fn as it is taken.
func (s *Sampler) Monitor(ctx context.Context, fn func(Snapshot) bool) error {
	for {
		if err := s.waitInterval(ctx); err != nil {
			return err
		}
		snapshot, err := s.Sample()
		if err != nil {
			return err
		}
		if !fn(snapshot) {
			return nil
		}
	}
}

// waitInterval blocks for one sampling interval or until ctx is
// cancelled, whichever comes first.
func (s *Sampler) waitInterval(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := s.clock.Timer(s.config.Interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sampler) readCPUs() (map[int64]cpuCounters, error) {
	stat, err := s.fs.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "reading proc stat")
	}
	cpus := make(map[int64]cpuCounters, len(stat.CPU))
	for id, c := range stat.CPU {
		total := c.User + c.Nice + c.System + c.Idle + c.Iowait +
			c.IRQ + c.SoftIRQ + c.Steal + c.Guest + c.GuestNice
		cpus[id] = cpuCounters{idle: c.Idle + c.Iowait, total: total}
	}
	return cpus, nil
}

// readProcs walks every process once. Stat reads that fail because
// the process exited mid-walk are skipped.
func (s *Sampler) readProcs() (map[int]procCounters, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, errors.Wrap(err, "listing processes")
	}
	counters := make(map[int]procCounters, len(procs))
	for _, proc := range procs {
		stat, err := proc.Stat()
		if err != nil {
			continue
		}
		counters[proc.PID] = procCounters{comm: stat.Comm, seconds: stat.CPUTime()}
	}
	return counters, nil
}

// rankProcesses scores every process seen in both samples by its
// share of totalDelta, the CPU time elapsed across every core, and
// keeps the busiest TopProcesses of them. New processes have no
// baseline and are skipped until the next sample.
func (s *Sampler) rankProcesses(current map[int]procCounters, totalDelta float64) []ProcessUsage {
	usages := make([]ProcessUsage, 0, len(current))
	for pid, counters := range current {
		prev, ok := s.prevProcs[pid]
		if !ok {
			continue
		}
		delta := counters.seconds - prev.seconds
		if delta < 0 {
			// PID reuse between samples.
			delta = 0
		}
		var percent float64
		if totalDelta > 0 {
			percent = clampPercent(100 * delta / totalDelta)
		}
		usages = append(usages, ProcessUsage{PID: pid, Comm: counters.comm, Percent: percent})
	}
	sort.Slice(usages, func(i, j int) bool {
		if usages[i].Percent != usages[j].Percent {
			return usages[i].Percent > usages[j].Percent
		}
		return usages[i].PID < usages[j].PID
	})
	if len(usages) > s.config.TopProcesses {
		usages = usages[:s.config.TopProcesses]
	}
	return usages
}

// clampPercent keeps a usage figure in [0, 100]. Iowait can tick
// backwards on some kernels, which would otherwise push a quiet CPU
// past either bound.
func clampPercent(percent float64) float64 {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

func sortedCPUIDs(cpus map[int64]cpuCounters) []int64 {
	ids := make([]int64, 0, len(cpus))
	for id := range cpus {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
