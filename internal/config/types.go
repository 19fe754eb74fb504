package config

import (
	"sort"
	"strconv"
	"time"

	"interference-bench/internal/workload"
)

const (
	DefaultRepetitions     = 2
	DefaultPollInterval    = 5 * time.Second
	DefaultShareOverhead   = 0.075
	DefaultRoot            = "experiment"
	DefaultProfiler        = "nvprof"
	DefaultGPUSampler      = "nvidia-smi"
	DefaultGPUSamplerMS    = 200
	DefaultTimelineTimeout = 30
	DefaultTimelinePoll    = 30 * time.Second
	DefaultMetricsPoll     = 2 * time.Second
	DefaultTrackerInterval = time.Second
	DefaultAggregateWorker = 6
)

const (
	WorkdirLaunch  = "launch"
	WorkdirInherit = "inherit"
)

type BenchmarkConfig struct {
	Experiment    ExperimentInfo            `yaml:"experiment"`
	Workloads     map[string]WorkloadConfig `yaml:"workloads"`
	Sets          []ExperimentSet           `yaml:"sets"`
	Profiling     ProfilingConfig           `yaml:"profiling"`
	GPUSampler    GPUSamplerConfig          `yaml:"gpu_sampler"`
	SystemTracker SystemTrackerConfig       `yaml:"system_tracker"`
	Data          DataConfig                `yaml:"data"`

	// workloadOrder keeps the order in which workloads were declared.
	workloadOrder []string
}

type ExperimentInfo struct {
	Name          string        `yaml:"name"`
	Description   string        `yaml:"description"`
	Root          string        `yaml:"root"`
	DatasetDir    string        `yaml:"dataset_dir"`
	Repetitions   int           `yaml:"repetitions"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ShareOverhead float64       `yaml:"share_overhead"`
	Workdir       string        `yaml:"workdir"`
	LogLevel      string        `yaml:"log_level"`
	PollLogLevel  string        `yaml:"poll_log_level"` // defaults to log_level
}

type WorkloadConfig struct {
	Program string   `yaml:"program"`
	Args    []string `yaml:"args"`
}

// ExperimentSet is an ordered list of workload names run side by side.
// It accepts either a plain YAML sequence or a mapping with a label.
type ExperimentSet struct {
	Label     string   `yaml:"label,omitempty"`
	Workloads []string `yaml:"workloads"`
}

type ProfilingConfig struct {
	Program  string         `yaml:"program"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Timeline TimelineConfig `yaml:"timeline"`
}

// MetricsConfig controls the one-off profiler-wrapped pass for sets with a
// single workload.
type MetricsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Args         []string      `yaml:"args"`
}

type TimelineConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Timeout      int           `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// KillAfter bounds the drain wait; zero waits until the profiler exits.
	KillAfter time.Duration `yaml:"kill_after"`
	// Args replaces the default timeline invocation when set.
	Args []string `yaml:"args,omitempty"`
}

type GPUSamplerConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Program    string   `yaml:"program"`
	IntervalMS int      `yaml:"interval_ms"`
	Args       []string `yaml:"args,omitempty"`
}

type SystemTrackerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Perf     bool          `yaml:"perf"`
}

type DataConfig struct {
	DB       DatabaseConfig `yaml:"db"`
	SpoolDir string         `yaml:"spool_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// Enabled reports whether enough of the database section is filled in to
// attempt a connection.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != "" && d.Name != "" && d.Org != ""
}

// WorkloadNames returns the declared workload names in file order.
func (c *BenchmarkConfig) WorkloadNames() []string {
	if len(c.workloadOrder) == len(c.Workloads) {
		return append([]string(nil), c.workloadOrder...)
	}
	names := make([]string, 0, len(c.Workloads))
	for name := range c.Workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry builds the immutable workload registry from the catalog.
func (c *BenchmarkConfig) Registry() (*workload.Registry, error) {
	var specs []workload.Spec
	for _, name := range c.WorkloadNames() {
		w := c.Workloads[name]
		specs = append(specs, workload.Spec{
			Name:    name,
			Command: workload.NewCommandTemplate(w.Program, w.Args...),
		})
	}
	return workload.NewRegistry(specs...)
}

func (c *BenchmarkConfig) TimelineArgs(outputPattern string) []string {
	if len(c.Profiling.Timeline.Args) > 0 {
		return append([]string(nil), c.Profiling.Timeline.Args...)
	}
	return []string{
		"--profile-all-processes",
		"--trace", "gpu",
		"--timeout", strconv.Itoa(c.Profiling.Timeline.Timeout),
		"-o", outputPattern,
	}
}

func (c *BenchmarkConfig) GPUSamplerArgs() []string {
	if len(c.GPUSampler.Args) > 0 {
		return append([]string(nil), c.GPUSampler.Args...)
	}
	return []string{
		"--query-gpu=memory.used,memory.total,utilization.gpu,utilization.memory,power.draw",
		"--format=csv,noheader",
		"-lms", strconv.Itoa(c.GPUSampler.IntervalMS),
	}
}
