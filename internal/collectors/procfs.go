package collectors

import (
	"fmt"

	"interference-bench/internal/dataframe"

	"github.com/prometheus/procfs"
)

// HostCollector samples machine-wide CPU and memory usage from /proc.
type HostCollector struct {
	fs      procfs.FS
	lastCPU *procfs.CPUStat
}

func NewHostCollector() (*HostCollector, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &HostCollector{fs: fs}, nil
}

func cpuBusy(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
}

func cpuTotal(c procfs.CPUStat) float64 {
	return cpuBusy(c) + c.Idle + c.Iowait
}

// Collect returns host metrics. CPU percentages are relative to the previous
// call and absent on the first one.
func (hc *HostCollector) Collect() *dataframe.HostMetrics {
	metrics := &dataframe.HostMetrics{}
	hasData := false

	if stat, err := hc.fs.Stat(); err == nil {
		cur := stat.CPUTotal
		if hc.lastCPU != nil {
			dTotal := cpuTotal(cur) - cpuTotal(*hc.lastCPU)
			if dTotal > 0 {
				usage := (cpuBusy(cur) - cpuBusy(*hc.lastCPU)) / dTotal * 100.0
				iowait := (cur.Iowait - hc.lastCPU.Iowait) / dTotal * 100.0
				metrics.CPUUsagePercent = &usage
				metrics.CPUIowaitPercent = &iowait
				hasData = true
			}
		}
		hc.lastCPU = &cur
	}

	if mem, err := hc.fs.Meminfo(); err == nil && mem.MemTotal != nil {
		total := *mem.MemTotal * 1024
		metrics.MemoryTotalBytes = &total
		hasData = true
		if mem.MemAvailable != nil {
			avail := *mem.MemAvailable * 1024
			metrics.MemoryAvailBytes = &avail
			if total > 0 {
				used := float64(total-avail) / float64(total) * 100.0
				metrics.MemoryUsedPercent = &used
			}
		}
	}

	if !hasData {
		return nil
	}
	return metrics
}

// ProcessCollector samples CPU time, RSS and thread count of one pid.
type ProcessCollector struct {
	fs  procfs.FS
	pid int
}

func NewProcessCollector(fs procfs.FS, pid int) *ProcessCollector {
	return &ProcessCollector{fs: fs, pid: pid}
}

// Collect returns nil once the process is gone.
func (pc *ProcessCollector) Collect() *dataframe.ProcessMetrics {
	proc, err := pc.fs.Proc(pc.pid)
	if err != nil {
		return nil
	}
	stat, err := proc.Stat()
	if err != nil {
		return nil
	}
	cpu := stat.CPUTime()
	rss := uint64(stat.ResidentMemory())
	threads := stat.NumThreads
	return &dataframe.ProcessMetrics{
		PID:        pc.pid,
		CPUSeconds: &cpu,
		RSSBytes:   &rss,
		Threads:    &threads,
	}
}
