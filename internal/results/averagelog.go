// Package results writes the shared, append-only experiment log that
// accumulates per-process and per-set throughput lines.
package results

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"interference-bench/internal/accounting"
)

// AverageLog is an append-only handle on experiment.log. One handle is
// opened per repetition and closed when the repetition is done.
type AverageLog struct {
	path string
	file *os.File
	once sync.Once
	err  error
}

func OpenAverageLog(path string) (*AverageLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open average log: %w", err)
	}
	return &AverageLog{path: path, file: f}, nil
}

func (a *AverageLog) Path() string {
	return a.path
}

// ProcessLine formats the per-process result written when a workload is reaped.
func ProcessLine(setIndex, repetition, pid int, meanStepSeconds float64, steps int) string {
	return fmt.Sprintf("experiment set %d, experiment_run %d: %d process average num p step is %.4f and total number of step is: %d \n",
		setIndex, repetition, pid, meanStepSeconds, steps)
}

// TotalLine formats the cumulative result of one slot after all repetitions.
func TotalLine(setIndex, slot int, ra accounting.RunningAverage) string {
	return fmt.Sprintf("TOTAL: In experiment %d average mean sec/step and average number for model %d are %.4f , %d \n",
		setIndex, slot, ra.MeanStepSeconds, int(ra.MeanSteps))
}

func (a *AverageLog) WriteProcess(setIndex, repetition, pid int, meanStepSeconds float64, steps int) error {
	_, err := a.file.WriteString(ProcessLine(setIndex, repetition, pid, meanStepSeconds, steps))
	return err
}

func (a *AverageLog) WriteTotals(setIndex int, tracker *accounting.Tracker) error {
	for slot, ra := range tracker.Snapshot() {
		if _, err := a.file.WriteString(TotalLine(setIndex, slot, ra)); err != nil {
			return err
		}
	}
	return nil
}

// Close syncs and closes the log. Safe to call more than once.
func (a *AverageLog) Close() error {
	a.once.Do(func() {
		if err := a.file.Sync(); err != nil {
			a.err = err
		}
		if err := a.file.Close(); err != nil && a.err == nil {
			a.err = err
		}
	})
	return a.err
}

// AppendTotals opens path, appends the TOTAL lines for a set and closes it.
func AppendTotals(path string, setIndex int, tracker *accounting.Tracker) error {
	log, err := OpenAverageLog(path)
	if err != nil {
		return err
	}
	if err := log.WriteTotals(setIndex, tracker); err != nil {
		log.Close()
		return err
	}
	return log.Close()
}
