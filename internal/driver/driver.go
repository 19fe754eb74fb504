// Package driver walks the experiment catalog set by set.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"interference-bench/internal/accounting"
	"interference-bench/internal/collectors"
	"interference-bench/internal/config"
	"interference-bench/internal/database"
	"interference-bench/internal/host"
	"interference-bench/internal/logging"
	"interference-bench/internal/supervisor"

	"github.com/sirupsen/logrus"
)

// AverageLogName is the log shared by every set of a catalog.
const AverageLogName = "experiment.log"

// SetRunner runs one experiment set.
type SetRunner interface {
	RunSet(ctx context.Context, setIndex int, set config.ExperimentSet, repetitions int) (*accounting.Tracker, error)
}

type Options struct {
	Root        string
	Repetitions int
	// Sets restricts the run to these catalog indices. Nil runs every set.
	Sets []int

	// SpoolDir receives one artifact per finished set. Empty disables spooling.
	SpoolDir      string
	ConfigContent string
	Host          *host.HostConfig
	// Recorder holds the process results reported while a set ran.
	Recorder *database.MemorySink
}

type Driver struct {
	config *config.BenchmarkConfig
	runner SetRunner
	opts   Options
	logger *logrus.Logger
}

func New(cfg *config.BenchmarkConfig, runner SetRunner, opts Options) *Driver {
	if opts.Root == "" {
		opts.Root = cfg.Experiment.Root
	}
	if opts.Repetitions <= 0 {
		opts.Repetitions = cfg.Experiment.Repetitions
	}
	return &Driver{
		config: cfg,
		runner: runner,
		opts:   opts,
		logger: logging.GetLogger(),
	}
}

// NewSupervisorOptions maps the catalog onto supervisor options.
func NewSupervisorOptions(cfg *config.BenchmarkConfig, sink database.ResultSink) supervisor.Options {
	opts := supervisor.Options{
		ExperimentName: cfg.Experiment.Name,
		Root:           cfg.Experiment.Root,
		AverageLogPath: filepath.Join(cfg.Experiment.Root, AverageLogName),
		PollInterval:   cfg.Experiment.PollInterval,
		ShareOverhead:  cfg.Experiment.ShareOverhead,
		Sink:           sink,
		Metrics: supervisor.MetricsPass{
			Enabled:      cfg.Profiling.Metrics.Enabled,
			PollInterval: cfg.Profiling.Metrics.PollInterval,
			Args:         cfg.Profiling.Metrics.Args,
		},
	}
	if cfg.Profiling.Timeline.Enabled {
		program := cfg.Profiling.Program
		opts.Timeline = supervisor.TimelineOptions{
			Command: func(setDir string) []string {
				return append([]string{program}, cfg.TimelineArgs(filepath.Join(setDir, "%p_timeline"))...)
			},
			PollInterval: cfg.Profiling.Timeline.PollInterval,
			KillAfter:    cfg.Profiling.Timeline.KillAfter,
		}
	}
	if cfg.GPUSampler.Enabled {
		opts.GPUSampler = append([]string{cfg.GPUSampler.Program}, cfg.GPUSamplerArgs()...)
	}
	if cfg.SystemTracker.Enabled {
		opts.Tracker = &collectors.CollectorConfig{
			Frequency:  cfg.SystemTracker.Interval,
			EnablePerf: cfg.SystemTracker.Perf,
		}
	}
	return opts
}

func (d *Driver) selected() []int {
	if d.opts.Sets != nil {
		return d.opts.Sets
	}
	all := make([]int, len(d.config.Sets))
	for i := range all {
		all[i] = i
	}
	return all
}

// Run executes the selected sets in catalog order. The first failing set
// stops the run and its error is returned.
func (d *Driver) Run(ctx context.Context) error {
	sets := d.selected()
	start := time.Now()

	d.logger.WithFields(logrus.Fields{
		"experiment":  d.config.Experiment.Name,
		"sets":        len(sets),
		"repetitions": d.opts.Repetitions,
		"root":        d.opts.Root,
	}).Info("Starting experiment")

	for n, idx := range sets {
		if idx < 0 || idx >= len(d.config.Sets) {
			return fmt.Errorf("set index %d out of range (catalog has %d sets)", idx, len(d.config.Sets))
		}
		set := d.config.Sets[idx]
		setDir := filepath.Join(d.opts.Root, fmt.Sprint(idx))
		if err := os.MkdirAll(setDir, 0o755); err != nil {
			return fmt.Errorf("failed to create set directory: %w", err)
		}

		d.logger.WithFields(logrus.Fields{
			"set":       idx,
			"progress":  fmt.Sprintf("%d/%d", n+1, len(sets)),
			"workloads": set.Workloads,
		}).Info("Running experiment set")

		setStart := time.Now()
		tracker, err := d.runner.RunSet(ctx, idx, set, d.opts.Repetitions)
		if err != nil {
			d.logger.WithField("set", idx).WithError(err).Error("Experiment set failed")
			return fmt.Errorf("set %d: %w", idx, err)
		}
		d.spool(idx, set, tracker, setStart)
	}

	d.logger.WithFields(logrus.Fields{
		"sets":     len(sets),
		"duration": time.Since(start).Round(time.Second),
	}).Info("Experiment completed")
	return nil
}

func (d *Driver) spool(idx int, set config.ExperimentSet, tracker *accounting.Tracker, start time.Time) {
	if d.opts.SpoolDir == "" {
		return
	}
	summary := &database.SetSummary{
		ExperimentName: d.config.Experiment.Name,
		SetIndex:       idx,
		Label:          set.Label,
		Workloads:      append([]string(nil), set.Workloads...),
		Repetitions:    d.opts.Repetitions,
		Slots:          tracker.Snapshot(),
		StartTime:      start,
		EndTime:        time.Now(),
	}
	var processes []database.ProcessResult
	if d.opts.Recorder != nil {
		processes = d.opts.Recorder.ProcessesForSet(idx)
		for _, s := range d.opts.Recorder.Summaries {
			if s.SetIndex == idx {
				summary.PeakRSSBytes = s.PeakRSSBytes
			}
		}
	}

	artifact := database.BuildSpoolArtifact(d.config, d.opts.ConfigContent, d.opts.Host, summary, processes)
	path, err := database.WriteSpoolArtifact(d.opts.SpoolDir, artifact)
	if err != nil {
		d.logger.WithField("set", idx).WithError(err).Warn("Failed to write spool artifact")
		return
	}
	d.logger.WithFields(logrus.Fields{
		"set":  idx,
		"path": path,
	}).Debug("Wrote spool artifact")
}
