package collectors

import (
	"fmt"
	"sync"
	"time"

	"interference-bench/internal/dataframe"
	"interference-bench/internal/logging"

	"github.com/elastic/go-perf"
	"github.com/sirupsen/logrus"
)

type eventState struct {
	value   uint64
	enabled time.Duration
	running time.Duration
}

// PerfCollector counts events for one workload process and the threads it
// spawns.
type PerfCollector struct {
	pid    int
	events []*perf.Event

	lastState map[int]*eventState
	mutex     sync.Mutex
}

type perfConfigurer interface {
	Configure(attr *perf.Attr) error
	String() string
}

func NewPerfCollector(pid int) (*PerfCollector, error) {
	logger := logging.GetLogger()

	collector := &PerfCollector{
		pid:       pid,
		lastState: make(map[int]*eventState),
	}

	// Software counters work without a PMU, hardware ones are optional.
	required := []perfConfigurer{
		perf.TaskClock,
		perf.ContextSwitches,
		perf.CPUMigrations,
		perf.PageFaults,
	}
	optional := []perfConfigurer{
		perf.Instructions,
		perf.CPUCycles,
	}

	open := func(counter perfConfigurer) (*perf.Event, error) {
		attr := &perf.Attr{}
		if err := counter.Configure(attr); err != nil {
			return nil, err
		}
		attr.Options.Inherit = true
		attr.Options.Disabled = true
		// Enable time tracking for multiplexing correction
		attr.CountFormat.Enabled = true
		attr.CountFormat.Running = true
		return perf.Open(attr, pid, perf.AnyCPU, nil)
	}

	for _, counter := range required {
		event, err := open(counter)
		if err != nil {
			collector.Close()
			logger.WithFields(logrus.Fields{
				"counter": counter.String(),
				"pid":     pid,
			}).WithError(err).Debug("Failed to open perf event")
			return nil, fmt.Errorf("open perf event %s: %w", counter.String(), err)
		}
		collector.events = append(collector.events, event)
	}

	for _, counter := range optional {
		event, err := open(counter)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"counter": counter.String(),
				"pid":     pid,
			}).WithError(err).Debug("Hardware perf event unavailable, continuing without it")
			continue
		}
		collector.events = append(collector.events, event)
	}

	// Enable all events
	for _, event := range collector.events {
		if err := event.Enable(); err != nil {
			collector.Close()
			return nil, fmt.Errorf("failed to enable perf event: %w", err)
		}
	}

	return collector, nil
}

// Collect returns the counter deltas since the previous call. The first call
// only primes the baseline and returns nil.
func (pc *PerfCollector) Collect() *dataframe.PerfMetrics {
	if len(pc.events) == 0 {
		return nil
	}

	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	counterSums := make(map[string]uint64)
	hasDelta := false

	for i, event := range pc.events {
		count, err := event.ReadCount()
		if err != nil {
			continue
		}

		currentValue := count.Value
		currentEnabled := count.Enabled
		currentRunning := count.Running

		if lastState, exists := pc.lastState[i]; exists {
			deltaValue := currentValue - lastState.value
			deltaEnabled := currentEnabled - lastState.enabled
			deltaRunning := currentRunning - lastState.running

			// Scale by enabled/running when the counter was multiplexed
			// during this interval.
			scaledDelta := deltaValue
			if deltaRunning > 0 && deltaEnabled > 0 && deltaRunning != deltaEnabled {
				scaleFactor := float64(deltaEnabled) / float64(deltaRunning)
				scaledDelta = uint64(float64(deltaValue) * scaleFactor)
			}

			counterSums[count.Label] += scaledDelta
			hasDelta = true
		}

		pc.lastState[i] = &eventState{
			value:   currentValue,
			enabled: currentEnabled,
			running: currentRunning,
		}
	}

	if !hasDelta {
		return nil
	}

	setValue := func(label string) *uint64 {
		if val, ok := counterSums[label]; ok {
			v := val
			return &v
		}
		return nil
	}

	metrics := &dataframe.PerfMetrics{
		TaskClockNS:     setValue(perf.TaskClock.String()),
		ContextSwitches: setValue(perf.ContextSwitches.String()),
		CPUMigrations:   setValue(perf.CPUMigrations.String()),
		PageFaults:      setValue(perf.PageFaults.String()),
		Instructions:    setValue(perf.Instructions.String()),
		Cycles:          setValue(perf.CPUCycles.String()),
	}

	if metrics.Instructions != nil && metrics.Cycles != nil && *metrics.Cycles > 0 {
		ipc := float64(*metrics.Instructions) / float64(*metrics.Cycles)
		metrics.InstructionsPerCycle = &ipc
	}

	return metrics
}

func (pc *PerfCollector) Close() {
	for _, event := range pc.events {
		if event != nil {
			event.Close()
		}
	}
	pc.events = nil
}
