// Package logparser extracts throughput and run-time measurements from the
// human-readable logs written by workload programs.
//
// Workloads are expected to emit periodic lines such as
//
//	Epoch 1: 20/100 [Loss: 2.3012] (0.1532 sec/step)
//
// and a terminal line
//
//	Finished: ran for 42 secs
//
// Parsing is best effort: lines that do not carry a marker are skipped.
package logparser

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	StepMarker     = "sec/step"
	FinishMarker   = "Finished"
	epochMarker    = "training"
	ranForMarker   = "ran for"
	secondsMarker  = "secs"
	maxLineBytes   = 1024 * 1024
	initialBufSize = 64 * 1024
)

var ErrNoFinishLine = errors.New("no finish line found")

// StepStats is the result of scanning one output log.
type StepStats struct {
	Count       int
	MeanSeconds float64
}

// ParseStepTime returns the value enclosed as "(<v> sec/step)". The boolean
// is false when the line has no marker or the number does not parse, so a
// real 0.0 measurement is distinguishable from a miss.
func ParseStepTime(line string) (float64, bool) {
	if !strings.Contains(line, StepMarker) {
		return 0, false
	}
	open := strings.Index(line, "(")
	if open < 0 {
		return 0, false
	}
	rest := line[open+1:]
	end := strings.Index(rest, "sec")
	if end < 0 {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(rest[:end]), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ProcessLine is the lenient form of ParseStepTime: misses yield 0.0.
func ProcessLine(line string) float64 {
	v, _ := ParseStepTime(line)
	return v
}

// AverageStepTime scans the log at path and returns the number of step lines
// and their running mean.
func AverageStepTime(path string) (StepStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return StepStats{}, err
	}
	defer f.Close()

	var stats StepStats
	scanner := newScanner(f)
	for scanner.Scan() {
		v, ok := ParseStepTime(scanner.Text())
		if !ok {
			continue
		}
		stats.MeanSeconds = (stats.MeanSeconds*float64(stats.Count) + v) / float64(stats.Count+1)
		stats.Count++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("reading %s: %w", path, err)
	}
	return stats, nil
}

// ParseFinishTime returns N from a "Finished ... ran for N secs" line.
// Per-epoch lines mentioning "training" are rejected.
func ParseFinishTime(line string) (float64, bool) {
	if !strings.Contains(line, FinishMarker) || strings.Contains(line, epochMarker) {
		return 0, false
	}
	_, after, found := strings.Cut(line, ranForMarker)
	if !found {
		return 0, false
	}
	raw, _, found := strings.Cut(after, secondsMarker)
	if !found {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// FinishTime returns the run time reported by the first finish line in path.
func FinishTime(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := newScanner(f)
	for scanner.Scan() {
		if v, ok := ParseFinishTime(scanner.Text()); ok {
			return v, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return 0, fmt.Errorf("%s: %w", path, ErrNoFinishLine)
}

func newScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, initialBufSize), maxLineBytes)
	return scanner
}
