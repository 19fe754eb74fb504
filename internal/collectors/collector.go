package collectors

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"interference-bench/internal/dataframe"
	"interference-bench/internal/logging"

	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"
)

const TrackerFileName = "system_tracker.csv"

// Collector is a background sampler started and stopped around a repetition.
type Collector interface {
	Start(ctx context.Context) error
	Stop() error
}

type CollectorConfig struct {
	Frequency  time.Duration
	EnablePerf bool
}

type trackedProcess struct {
	slot    int
	pid     int
	proc    *ProcessCollector
	perf    *PerfCollector
	stopped bool
}

// SystemTracker samples host telemetry plus per-workload process statistics
// at a fixed frequency and appends them to {dir}/system_tracker.csv.
type SystemTracker struct {
	dir       string
	config    CollectorConfig
	dataFrame *dataframe.DataFrame
	logger    *logrus.Logger

	fs        procfs.FS
	host      *HostCollector
	processes []*trackedProcess
	mutex     sync.Mutex

	file   *os.File
	writer *csv.Writer

	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
	stopped  bool
}

func NewSystemTracker(dir string, config CollectorConfig) *SystemTracker {
	if config.Frequency <= 0 {
		config.Frequency = time.Second
	}
	return &SystemTracker{
		dir:       dir,
		config:    config,
		dataFrame: dataframe.NewDataFrame(),
		logger:    logging.GetLogger(),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Track registers a workload process for sampling. It may be called before
// or after Start.
func (st *SystemTracker) Track(slot, pid int) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	tp := &trackedProcess{slot: slot, pid: pid}
	if st.host != nil {
		tp.proc = NewProcessCollector(st.fs, pid)
	}
	if st.config.EnablePerf {
		pc, err := NewPerfCollector(pid)
		if err != nil {
			st.logger.WithFields(logrus.Fields{
				"slot": slot,
				"pid":  pid,
			}).WithError(err).Warn("Failed to enable perf monitoring, continuing without perf metrics")
		} else {
			tp.perf = pc
		}
	}
	st.processes = append(st.processes, tp)
}

func (st *SystemTracker) Start(ctx context.Context) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()
	if st.started {
		return fmt.Errorf("system tracker already started")
	}

	if host, err := NewHostCollector(); err != nil {
		st.logger.WithError(err).Warn("Host metrics unavailable, sampling workload processes only")
	} else {
		st.host = host
		st.fs = host.fs
		for _, tp := range st.processes {
			if tp.proc == nil {
				tp.proc = NewProcessCollector(st.fs, tp.pid)
			}
		}
	}

	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(st.dir, TrackerFileName)
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open tracker file: %w", err)
	}
	st.file = f
	st.writer = csv.NewWriter(f)
	if os.IsNotExist(statErr) {
		st.writer.Write([]string{"timestamp", "scope", "slot", "pid", "metric", "value"})
		st.writer.Flush()
	}

	st.started = true
	go st.collect(ctx)
	return nil
}

func (st *SystemTracker) collect(ctx context.Context) {
	defer close(st.doneChan)

	ticker := time.NewTicker(st.config.Frequency)
	defer ticker.Stop()

	// Prime CPU and perf baselines so the first tick has deltas.
	st.sample(false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-st.stopChan:
			return
		case <-ticker.C:
			st.sample(true)
		}
	}
}

func (st *SystemTracker) sample(record bool) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	step := &dataframe.SamplingStep{
		Timestamp: time.Now(),
		Processes: make(map[int]*dataframe.ProcessMetrics),
	}
	if st.host != nil {
		step.Host = st.host.Collect()
	}
	for _, tp := range st.processes {
		if tp.stopped {
			continue
		}
		var pm *dataframe.ProcessMetrics
		if tp.proc != nil {
			pm = tp.proc.Collect()
			if pm == nil {
				// Process is gone; stop sampling it.
				tp.stopped = true
				if tp.perf != nil {
					tp.perf.Close()
					tp.perf = nil
				}
				continue
			}
		}
		if tp.perf != nil {
			if pm == nil {
				pm = &dataframe.ProcessMetrics{PID: tp.pid}
			}
			pm.Perf = tp.perf.Collect()
		}
		if pm != nil {
			step.Processes[tp.slot] = pm
		}
	}

	if !record {
		return
	}
	st.dataFrame.AddStep(step)
	st.writeStep(step)
}

func (st *SystemTracker) writeStep(step *dataframe.SamplingStep) {
	if st.writer == nil {
		return
	}
	ts := step.Timestamp.Format(time.RFC3339Nano)
	row := func(scope, slot, pid, metric, value string) {
		st.writer.Write([]string{ts, scope, slot, pid, metric, value})
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }

	if h := step.Host; h != nil {
		if h.CPUUsagePercent != nil {
			row("host", "", "", "cpu_usage_percent", f(*h.CPUUsagePercent))
		}
		if h.CPUIowaitPercent != nil {
			row("host", "", "", "cpu_iowait_percent", f(*h.CPUIowaitPercent))
		}
		if h.MemoryAvailBytes != nil {
			row("host", "", "", "memory_available_bytes", u(*h.MemoryAvailBytes))
		}
		if h.MemoryUsedPercent != nil {
			row("host", "", "", "memory_used_percent", f(*h.MemoryUsedPercent))
		}
	}

	slots := make([]int, 0, len(step.Processes))
	for slot := range step.Processes {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	for _, slot := range slots {
		p := step.Processes[slot]
		s, pid := strconv.Itoa(slot), strconv.Itoa(p.PID)
		if p.CPUSeconds != nil {
			row("process", s, pid, "cpu_seconds", f(*p.CPUSeconds))
		}
		if p.RSSBytes != nil {
			row("process", s, pid, "rss_bytes", u(*p.RSSBytes))
		}
		if p.Threads != nil {
			row("process", s, pid, "threads", strconv.Itoa(*p.Threads))
		}
		if perf := p.Perf; perf != nil {
			counters := []struct {
				name  string
				value *uint64
			}{
				{"task_clock_ns", perf.TaskClockNS},
				{"context_switches", perf.ContextSwitches},
				{"cpu_migrations", perf.CPUMigrations},
				{"page_faults", perf.PageFaults},
				{"instructions", perf.Instructions},
				{"cycles", perf.Cycles},
			}
			for _, c := range counters {
				if c.value != nil {
					row("perf", s, pid, c.name, u(*c.value))
				}
			}
			if perf.InstructionsPerCycle != nil {
				row("perf", s, pid, "instructions_per_cycle", f(*perf.InstructionsPerCycle))
			}
		}
	}
	st.writer.Flush()
}

// Stop ends sampling, releases perf events and closes the tracker file.
func (st *SystemTracker) Stop() error {
	st.mutex.Lock()
	if st.stopped {
		st.mutex.Unlock()
		return nil
	}
	st.stopped = true
	started := st.started
	close(st.stopChan)
	st.mutex.Unlock()

	if started {
		<-st.doneChan
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()
	for _, tp := range st.processes {
		if tp.perf != nil {
			tp.perf.Close()
			tp.perf = nil
		}
	}

	var err error
	if st.writer != nil {
		st.writer.Flush()
		err = st.writer.Error()
	}
	if st.file != nil {
		if cerr := st.file.Close(); err == nil {
			err = cerr
		}
		st.file = nil
	}

	st.logger.WithFields(logrus.Fields{
		"dir":     st.dir,
		"samples": st.dataFrame.Len(),
	}).Debug("System tracker stopped")
	return err
}

func (st *SystemTracker) DataFrame() *dataframe.DataFrame {
	return st.dataFrame
}
