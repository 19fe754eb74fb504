package database

import (
	"context"
	"time"

	"interference-bench/internal/accounting"

	"go.uber.org/multierr"
)

// ProcessResult is one reaped workload of one repetition.
type ProcessResult struct {
	ExperimentName  string        `json:"experiment_name"`
	SetIndex        int           `json:"set_index"`
	Repetition      int           `json:"repetition"`
	Slot            int           `json:"slot"`
	Workload        string        `json:"workload"`
	PID             int           `json:"pid"`
	LaunchID        string        `json:"launch_id"`
	Steps           int           `json:"steps"`
	MeanStepSeconds float64       `json:"mean_step_seconds"`
	Runtime         time.Duration `json:"runtime_ns"`
	ExitCode        int           `json:"exit_code"`
	Finished        time.Time     `json:"finished"`
}

// SetSummary is the cumulative result of one experiment set.
type SetSummary struct {
	ExperimentName string                      `json:"experiment_name"`
	SetIndex       int                         `json:"set_index"`
	Label          string                      `json:"label,omitempty"`
	Workloads      []string                    `json:"workloads"`
	Repetitions    int                         `json:"repetitions"`
	Slots          []accounting.RunningAverage `json:"slots"`
	PeakRSSBytes   map[int]uint64              `json:"peak_rss_bytes,omitempty"`
	StartTime      time.Time                   `json:"start_time"`
	EndTime        time.Time                   `json:"end_time"`
}

// ApplicationTime is one row of the finish-time aggregation.
type ApplicationTime struct {
	SetID          string  `json:"set_id"`
	Model          string  `json:"model"`
	RuntimeSeconds float64 `json:"runtime_seconds"`
}

// ResultSink receives results as the experiment progresses.
type ResultSink interface {
	WriteProcessResult(ctx context.Context, r ProcessResult) error
	WriteSetSummary(ctx context.Context, s SetSummary) error
	Close()
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) WriteProcessResult(context.Context, ProcessResult) error { return nil }
func (NopSink) WriteSetSummary(context.Context, SetSummary) error       { return nil }
func (NopSink) Close()                                                  {}

// MemorySink keeps results in memory, for spooling and tests.
type MemorySink struct {
	Processes []ProcessResult
	Summaries []SetSummary
}

func (m *MemorySink) WriteProcessResult(_ context.Context, r ProcessResult) error {
	m.Processes = append(m.Processes, r)
	return nil
}

func (m *MemorySink) WriteSetSummary(_ context.Context, s SetSummary) error {
	m.Summaries = append(m.Summaries, s)
	return nil
}

func (m *MemorySink) Close() {}

// ProcessesForSet returns the recorded process results of one set.
func (m *MemorySink) ProcessesForSet(setIndex int) []ProcessResult {
	var out []ProcessResult
	for _, p := range m.Processes {
		if p.SetIndex == setIndex {
			out = append(out, p)
		}
	}
	return out
}

// MultiSink fans results out to several sinks. Every sink is written even
// when an earlier one fails.
type MultiSink []ResultSink

func (ms MultiSink) WriteProcessResult(ctx context.Context, r ProcessResult) error {
	var err error
	for _, s := range ms {
		err = multierr.Append(err, s.WriteProcessResult(ctx, r))
	}
	return err
}

func (ms MultiSink) WriteSetSummary(ctx context.Context, s SetSummary) error {
	var err error
	for _, sink := range ms {
		err = multierr.Append(err, sink.WriteSetSummary(ctx, s))
	}
	return err
}

func (ms MultiSink) Close() {
	for _, s := range ms {
		s.Close()
	}
}
