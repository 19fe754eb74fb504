package dataframe

import (
	"sort"
	"sync"
	"time"
)

// DataFrame holds the samples taken by the system tracker during one
// repetition.
type DataFrame struct {
	steps []*SamplingStep
	mutex sync.RWMutex
}

type SamplingStep struct {
	Timestamp time.Time               `json:"timestamp"`
	Host      *HostMetrics            `json:"host,omitempty"`
	Processes map[int]*ProcessMetrics `json:"processes,omitempty"` // keyed by slot
}

type HostMetrics struct {
	CPUUsagePercent   *float64 `json:"cpu_usage_percent,omitempty"`
	CPUIowaitPercent  *float64 `json:"cpu_iowait_percent,omitempty"`
	MemoryTotalBytes  *uint64  `json:"memory_total_bytes,omitempty"`
	MemoryAvailBytes  *uint64  `json:"memory_available_bytes,omitempty"`
	MemoryUsedPercent *float64 `json:"memory_used_percent,omitempty"`
}

type ProcessMetrics struct {
	PID        int          `json:"pid"`
	CPUSeconds *float64     `json:"cpu_seconds,omitempty"`
	RSSBytes   *uint64      `json:"rss_bytes,omitempty"`
	Threads    *int         `json:"threads,omitempty"`
	Perf       *PerfMetrics `json:"perf,omitempty"`
}

type PerfMetrics struct {
	TaskClockNS     *uint64 `json:"task_clock_ns,omitempty"`
	ContextSwitches *uint64 `json:"context_switches,omitempty"`
	CPUMigrations   *uint64 `json:"cpu_migrations,omitempty"`
	PageFaults      *uint64 `json:"page_faults,omitempty"`
	Instructions    *uint64 `json:"instructions,omitempty"`
	Cycles          *uint64 `json:"cycles,omitempty"`

	// Derived Metrics
	InstructionsPerCycle *float64 `json:"instructions_per_cycle,omitempty"`
}

func NewDataFrame() *DataFrame {
	return &DataFrame{}
}

func (df *DataFrame) AddStep(step *SamplingStep) {
	df.mutex.Lock()
	defer df.mutex.Unlock()
	df.steps = append(df.steps, step)
}

// Steps returns the samples in timestamp order.
func (df *DataFrame) Steps() []*SamplingStep {
	df.mutex.RLock()
	defer df.mutex.RUnlock()
	out := make([]*SamplingStep, len(df.steps))
	copy(out, df.steps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (df *DataFrame) Len() int {
	df.mutex.RLock()
	defer df.mutex.RUnlock()
	return len(df.steps)
}

// PeakRSS returns the largest RSS seen per slot.
func (df *DataFrame) PeakRSS() map[int]uint64 {
	df.mutex.RLock()
	defer df.mutex.RUnlock()
	peaks := make(map[int]uint64)
	for _, step := range df.steps {
		for slot, p := range step.Processes {
			if p == nil || p.RSSBytes == nil {
				continue
			}
			if *p.RSSBytes > peaks[slot] {
				peaks[slot] = *p.RSSBytes
			}
		}
	}
	return peaks
}
