// Package supervisor runs one experiment set: it launches the set's
// workloads side by side, polls them until every one has been reaped, and
// keeps the per-slot running averages across repetitions.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"interference-bench/internal/accounting"
	"interference-bench/internal/collectors"
	"interference-bench/internal/config"
	"interference-bench/internal/database"
	"interference-bench/internal/launcher"
	"interference-bench/internal/logging"
	"interference-bench/internal/logparser"
	"interference-bench/internal/results"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// ErrInterrupted is returned when the context is cancelled while a set runs.
var ErrInterrupted = errors.New("experiment interrupted")

const (
	GPUSamplerLogName = "smi_out.log"
	TimelineLogName   = "timeline_err.log"
)

// MetricsPass wraps a single-workload set once in the profiler before the
// measured repetitions.
type MetricsPass struct {
	Enabled      bool
	PollInterval time.Duration
	Args         []string
}

type TimelineOptions struct {
	// Command builds the timeline profiler argv for a set directory. Nil
	// disables the timeline.
	Command      func(setDir string) []string
	PollInterval time.Duration
	KillAfter    time.Duration
}

type Options struct {
	ExperimentName string
	// Root is the experiment root; set s runs under {Root}/{s}.
	Root string
	// AverageLogPath is the shared experiment.log.
	AverageLogPath string
	PollInterval   time.Duration
	ShareOverhead  float64

	Metrics  MetricsPass
	Timeline TimelineOptions
	// GPUSampler is the sampler argv. Empty disables it.
	GPUSampler []string
	// Tracker enables the system tracker when non-nil.
	Tracker *collectors.CollectorConfig

	Sink database.ResultSink

	// DoneWhen decides when monitoring ends given the processes still
	// tracked. The default ends once every process has been reaped.
	DoneWhen func(tracked []*launcher.LaunchedProcess) bool
}

func allReaped(tracked []*launcher.LaunchedProcess) bool {
	return len(tracked) == 0
}

type Supervisor struct {
	launcher *launcher.Launcher
	opts     Options
	logger   *logrus.Logger
	pollLog  *logrus.Logger
}

func New(l *launcher.Launcher, opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = config.DefaultPollInterval
	}
	if opts.Metrics.PollInterval <= 0 {
		opts.Metrics.PollInterval = config.DefaultMetricsPoll
	}
	if opts.Timeline.PollInterval <= 0 {
		opts.Timeline.PollInterval = config.DefaultTimelinePoll
	}
	if opts.Root == "" {
		opts.Root = config.DefaultRoot
	}
	if opts.AverageLogPath == "" {
		opts.AverageLogPath = filepath.Join(opts.Root, "experiment.log")
	}
	if opts.Sink == nil {
		opts.Sink = database.NopSink{}
	}
	if opts.DoneWhen == nil {
		opts.DoneWhen = allReaped
	}
	return &Supervisor{
		launcher: l,
		opts:     opts,
		logger:   logging.GetLogger(),
		pollLog:  logging.GetSupervisorLogger(),
	}
}

// SetDir returns the output directory of a set.
func (s *Supervisor) SetDir(setIndex int) string {
	return filepath.Join(s.opts.Root, strconv.Itoa(setIndex))
}

// Share is the GPU share hint handed to each workload of a set of size n.
func (s *Supervisor) Share(n int) float64 {
	if n <= 0 {
		return 0
	}
	return 1/float64(n) - s.opts.ShareOverhead
}

// repetition holds everything one repetition owns between launch and done.
type repetition struct {
	setIndex int
	number   int
	setDir   string

	tracked  []*launcher.LaunchedProcess
	avg      *results.AverageLog
	sampler  *collectors.SystemTracker
	gpu      *launcher.Companion
	timeline *launcher.Companion

	gpuWarned bool
}

// RunSet runs every repetition of a set and returns the per-slot averages.
// On interruption the returned error matches ErrInterrupted and the
// context's error; result lines written so far stay on disk.
func (s *Supervisor) RunSet(ctx context.Context, setIndex int, set config.ExperimentSet, repetitions int) (*accounting.Tracker, error) {
	if len(set.Workloads) == 0 {
		return nil, fmt.Errorf("set %d has no workloads", setIndex)
	}
	if repetitions <= 0 {
		repetitions = config.DefaultRepetitions
	}

	tracker := accounting.NewTracker(len(set.Workloads))
	setDir := s.SetDir(setIndex)
	start := time.Now()
	peakRSS := make(map[int]uint64)

	s.logger.WithFields(logrus.Fields{
		"set":         setIndex,
		"label":       set.Label,
		"workloads":   set.Workloads,
		"repetitions": repetitions,
		"dir":         setDir,
	}).Info("Starting experiment set")

	if len(set.Workloads) == 1 && s.opts.Metrics.Enabled {
		if err := s.metricsPass(ctx, setIndex, setDir, set.Workloads[0]); err != nil {
			return tracker, err
		}
	}

	for r := 1; r <= repetitions; r++ {
		if err := ctx.Err(); err != nil {
			return tracker, fmt.Errorf("%w: set %d before repetition %d: %w", ErrInterrupted, setIndex, r, err)
		}
		rss, err := s.runRepetition(ctx, setIndex, r, setDir, set, tracker)
		for slot, v := range rss {
			if v > peakRSS[slot] {
				peakRSS[slot] = v
			}
		}
		if err != nil {
			return tracker, err
		}
		s.logger.WithFields(logrus.Fields{
			"total_experiments": repetitions,
			"experiment_run":    r,
			"finished":          r,
		}).Info("Repetition finished")
	}

	if err := results.AppendTotals(s.opts.AverageLogPath, setIndex, tracker); err != nil {
		return tracker, fmt.Errorf("failed to write totals for set %d: %w", setIndex, err)
	}

	summary := database.SetSummary{
		ExperimentName: s.opts.ExperimentName,
		SetIndex:       setIndex,
		Label:          set.Label,
		Workloads:      append([]string(nil), set.Workloads...),
		Repetitions:    repetitions,
		Slots:          tracker.Snapshot(),
		StartTime:      start,
		EndTime:        time.Now(),
	}
	if len(peakRSS) > 0 {
		summary.PeakRSSBytes = peakRSS
	}
	if err := s.opts.Sink.WriteSetSummary(ctx, summary); err != nil {
		s.logger.WithField("set", setIndex).WithError(err).Warn("Failed to report set summary")
	}

	for slot, ra := range tracker.Snapshot() {
		s.logger.WithFields(logrus.Fields{
			"set":               setIndex,
			"slot":              slot,
			"workload":          set.Workloads[slot],
			"mean_step_seconds": fmt.Sprintf("%.4f", ra.MeanStepSeconds),
			"mean_steps":        int(ra.MeanSteps),
		}).Info("Set total")
	}
	return tracker, nil
}

// metricsPass runs the only workload of a set once under the profiler in
// metrics mode. Its output is not recorded.
func (s *Supervisor) metricsPass(ctx context.Context, setIndex int, setDir, name string) error {
	lp, err := s.launcher.Launch(launcher.Request{
		Workload:     name,
		Slot:         0,
		Root:         setDir,
		Share:        s.Share(1),
		Profile:      true,
		ProfilerArgs: s.opts.Metrics.Args,
	})
	if err != nil {
		return fmt.Errorf("set %d metrics pass: %w", setIndex, err)
	}
	defer lp.Close()

	s.logger.WithFields(logrus.Fields{
		"set":       setIndex,
		"workload":  name,
		"pid":       lp.PID(),
		"launch_id": lp.LaunchID,
	}).Info("Running profiler metrics pass")

	ticker := time.NewTicker(s.opts.Metrics.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lp.Done():
			s.logger.WithFields(logrus.Fields{
				"set":       setIndex,
				"exit_code": lp.ExitCode(),
			}).Info("Profiler metrics pass finished")
			return nil
		case <-ticker.C:
			s.pollLog.WithField("pid", lp.PID()).Debug("Metrics pass still running")
		case <-ctx.Done():
			err := multierr.Append(lp.KillAndWait(launcher.ReapTimeout), lp.Close())
			if err != nil {
				s.logger.WithError(err).Warn("Teardown of metrics pass was incomplete")
			}
			return fmt.Errorf("%w: set %d metrics pass: %w", ErrInterrupted, setIndex, ctx.Err())
		}
	}
}

func (s *Supervisor) runRepetition(ctx context.Context, setIndex, number int, setDir string, set config.ExperimentSet, tracker *accounting.Tracker) (map[int]uint64, error) {
	rep := &repetition{setIndex: setIndex, number: number, setDir: setDir}

	avg, err := results.OpenAverageLog(s.opts.AverageLogPath)
	if err != nil {
		return nil, err
	}
	rep.avg = avg

	// LAUNCHING
	share := s.Share(len(set.Workloads))
	for slot, name := range set.Workloads {
		lp, err := s.launcher.Launch(launcher.Request{
			Workload: name,
			Slot:     slot,
			Root:     setDir,
			Share:    share,
		})
		if err != nil {
			if terr := s.teardown(rep); terr != nil {
				s.logger.WithError(terr).Warn("Teardown after launch failure was incomplete")
			}
			return nil, fmt.Errorf("set %d repetition %d: %w", setIndex, number, err)
		}
		rep.tracked = append(rep.tracked, lp)
	}

	if s.opts.Tracker != nil {
		st := collectors.NewSystemTracker(setDir, *s.opts.Tracker)
		for _, lp := range rep.tracked {
			st.Track(lp.Slot, lp.PID())
		}
		if err := st.Start(ctx); err != nil {
			s.logger.WithError(err).Warn("Failed to start system tracker, continuing without it")
		} else {
			rep.sampler = st
		}
	}

	if len(s.opts.GPUSampler) > 0 {
		gpu, err := launcher.StartCompanion("gpu_sampler", s.opts.GPUSampler, filepath.Join(setDir, GPUSamplerLogName))
		if err != nil {
			s.logger.WithError(err).Warn("Failed to start GPU sampler, continuing without it")
		} else {
			rep.gpu = gpu
		}
	}

	if number == 1 && s.opts.Timeline.Command != nil {
		argv := s.opts.Timeline.Command(setDir)
		tl, err := launcher.StartCompanion("timeline", argv, filepath.Join(setDir, TimelineLogName))
		if err != nil {
			s.logger.WithError(err).Warn("Failed to start timeline profiler, continuing without it")
		} else {
			rep.timeline = tl
		}
	}

	// MONITORING
	if err := s.monitor(ctx, rep, tracker); err != nil {
		return rep.peakRSS(), err
	}

	// DRAINING
	if err := s.drain(ctx, rep); err != nil {
		return rep.peakRSS(), err
	}

	// DONE
	if err := rep.avg.Close(); err != nil {
		return rep.peakRSS(), fmt.Errorf("failed to close average log: %w", err)
	}
	return rep.peakRSS(), nil
}

func (rep *repetition) peakRSS() map[int]uint64 {
	if rep.sampler == nil {
		return nil
	}
	return rep.sampler.DataFrame().PeakRSS()
}

func (s *Supervisor) monitor(ctx context.Context, rep *repetition, tracker *accounting.Tracker) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if s.opts.DoneWhen(rep.tracked) {
			return nil
		}
		s.poll(ctx, rep, tracker)
		if s.opts.DoneWhen(rep.tracked) {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.WithFields(logrus.Fields{
				"set":        rep.setIndex,
				"repetition": rep.number,
				"live":       len(rep.tracked),
			}).Warn("Interrupted, killing workloads")
			if err := s.teardown(rep); err != nil {
				return multierr.Append(
					fmt.Errorf("%w: set %d repetition %d: %w", ErrInterrupted, rep.setIndex, rep.number, ctx.Err()),
					err)
			}
			return fmt.Errorf("%w: set %d repetition %d: %w", ErrInterrupted, rep.setIndex, rep.number, ctx.Err())
		}
	}
}

// poll reaps every exited process in slot order and rebuilds the tracked
// list from the ones still running.
func (s *Supervisor) poll(ctx context.Context, rep *repetition, tracker *accounting.Tracker) {
	live := make([]*launcher.LaunchedProcess, 0, len(rep.tracked))
	for _, lp := range rep.tracked {
		if !lp.Exited() {
			s.pollLog.WithFields(logrus.Fields{
				"slot":     lp.Slot,
				"workload": lp.Workload,
				"pid":      lp.PID(),
				"elapsed":  time.Since(lp.StartTime).Round(time.Second),
			}).Debug("Workload still running")
			live = append(live, lp)
			continue
		}
		s.reap(ctx, rep, lp, tracker)
	}
	rep.tracked = live

	if rep.gpu != nil && !rep.gpuWarned && !rep.gpu.Running() {
		rep.gpuWarned = true
		fields := logrus.Fields{"pid": rep.gpu.PID(), "log": rep.gpu.LogPath}
		if err := rep.gpu.ExitErr(); err != nil {
			fields["error"] = err.Error()
		}
		s.pollLog.WithFields(fields).Warn("GPU sampler exited unexpectedly")
	}
}

func (s *Supervisor) reap(ctx context.Context, rep *repetition, lp *launcher.LaunchedProcess, tracker *accounting.Tracker) {
	finished := time.Now()
	logger := s.pollLog.WithFields(logrus.Fields{
		"slot":      lp.Slot,
		"workload":  lp.Workload,
		"pid":       lp.PID(),
		"exit_code": lp.ExitCode(),
	})

	if err := lp.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close workload logs")
	}

	stats, err := logparser.AverageStepTime(lp.OutputPath)
	if err != nil {
		logger.WithError(err).Warn("Failed to parse workload output")
	}
	if err := tracker.Record(lp.Slot, stats.Count, stats.MeanSeconds); err != nil {
		logger.WithError(err).Error("Failed to record result")
	}
	if err := rep.avg.WriteProcess(rep.setIndex, rep.number, lp.PID(), stats.MeanSeconds, stats.Count); err != nil {
		logger.WithError(err).Warn("Failed to append to average log")
	}

	logger.WithFields(logrus.Fields{
		"steps":             stats.Count,
		"mean_step_seconds": fmt.Sprintf("%.4f", stats.MeanSeconds),
		"runtime":           finished.Sub(lp.StartTime).Round(time.Millisecond),
	}).Info("Workload finished")

	result := database.ProcessResult{
		ExperimentName:  s.opts.ExperimentName,
		SetIndex:        rep.setIndex,
		Repetition:      rep.number,
		Slot:            lp.Slot,
		Workload:        lp.Workload,
		PID:             lp.PID(),
		LaunchID:        lp.LaunchID,
		Steps:           stats.Count,
		MeanStepSeconds: stats.MeanSeconds,
		Runtime:         finished.Sub(lp.StartTime),
		ExitCode:        lp.ExitCode(),
		Finished:        finished,
	}
	if err := s.opts.Sink.WriteProcessResult(ctx, result); err != nil {
		logger.WithError(err).Warn("Failed to report process result")
	}
}

func (s *Supervisor) drain(ctx context.Context, rep *repetition) error {
	if rep.sampler != nil {
		if err := rep.sampler.Stop(); err != nil {
			s.logger.WithError(err).Warn("Error stopping system tracker")
		}
	}
	if rep.gpu != nil {
		if err := rep.gpu.Stop(launcher.ReapTimeout); err != nil {
			s.logger.WithError(err).Warn("Error stopping GPU sampler")
		}
	}
	if rep.timeline != nil {
		s.logger.WithField("pid", rep.timeline.PID()).Info("Waiting for timeline profiler to finish")
		killed, err := rep.timeline.Wait(ctx, s.opts.Timeline.PollInterval, s.opts.Timeline.KillAfter)
		cerr := rep.timeline.Close()
		if err != nil {
			if ctx.Err() != nil {
				return multierr.Append(
					fmt.Errorf("%w: set %d repetition %d draining: %w", ErrInterrupted, rep.setIndex, rep.number, ctx.Err()),
					multierr.Append(rep.avg.Close(), cerr))
			}
			s.logger.WithError(err).Warn("Error waiting for timeline profiler")
		}
		if killed {
			s.logger.Warn("Timeline profiler was force-killed")
		}
	}
	return nil
}

// teardown kills everything the repetition still owns and closes every
// handle. All errors are combined.
func (s *Supervisor) teardown(rep *repetition) error {
	var err error
	if rep.gpu != nil {
		err = multierr.Append(err, rep.gpu.Stop(launcher.ReapTimeout))
	}
	for _, lp := range rep.tracked {
		if !lp.Exited() {
			err = multierr.Append(err, lp.KillAndWait(launcher.ReapTimeout))
		}
		err = multierr.Append(err, lp.Close())
	}
	if rep.sampler != nil {
		err = multierr.Append(err, rep.sampler.Stop())
	}
	if rep.timeline != nil {
		err = multierr.Append(err, rep.timeline.Stop(launcher.ReapTimeout))
	}
	if rep.avg != nil {
		err = multierr.Append(err, rep.avg.Close())
	}
	return err
}
