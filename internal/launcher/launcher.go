// Package launcher turns workload templates into running OS processes with
// isolated log directories, and runs the companion profiling tools.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"interference-bench/internal/logging"
	"interference-bench/internal/workload"

	"github.com/sirupsen/logrus"
)

const (
	OutputLogName   = "output.log"
	ErrorLogName    = "err.log"
	ArtifactDirName = "experiment"
	ProfilerLogName = "nvprof_log.log"

	// ProfiledPrefix marks launch directories of profiler-wrapped runs.
	ProfiledPrefix = "nvprof"

	launchIDLayout = "2006-01-02-15-04-05.000000"
)

// ProfilerMetricsArgs put the profiler in metrics collection mode.
var ProfilerMetricsArgs = []string{"--profile-from-start", "off", "--csv"}

type Options struct {
	// DatasetDir is passed to every workload as --dataset_dir.
	DatasetDir string
	// Profiler is the program used when a launch asks for wrapping.
	Profiler string
	// UseLaunchDir runs workloads inside their experiment/ directory.
	UseLaunchDir bool
	// Now overrides the clock used for launch ids.
	Now func() time.Time
}

type Request struct {
	Workload string
	Slot     int
	Root     string
	// Share is the GPU share hint. It is informational only.
	Share        float64
	Profile      bool
	ProfilerArgs []string
}

// LaunchedProcess is one running workload and the files it owns.
type LaunchedProcess struct {
	*process

	Workload   string
	Slot       int
	LaunchID   string
	Dir        string
	OutputPath string
	ErrorPath  string
	StartTime  time.Time
	Argv       []string

	files *closer
}

// Close closes the stdout and stderr handles. Safe to call more than once.
func (lp *LaunchedProcess) Close() error {
	return lp.files.Close()
}

type Launcher struct {
	registry *workload.Registry
	opts     Options
	logger   *logrus.Logger

	mu        sync.Mutex
	lastStamp time.Time
}

func New(registry *workload.Registry, opts Options) *Launcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Profiler == "" {
		opts.Profiler = "nvprof"
	}
	if opts.DatasetDir == "" {
		opts.DatasetDir = "."
	}
	if abs, err := filepath.Abs(opts.DatasetDir); err == nil {
		opts.DatasetDir = abs
	}
	return &Launcher{
		registry: registry,
		opts:     opts,
		logger:   logging.GetLogger(),
	}
}

// nextStamp returns a microsecond timestamp strictly greater than any
// previously issued by this launcher.
func (l *Launcher) nextStamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.opts.Now().Truncate(time.Microsecond)
	if !now.After(l.lastStamp) {
		now = l.lastStamp.Add(time.Microsecond)
	}
	l.lastStamp = now
	return now
}

// LaunchID builds "<timestamp><workload><slot>", prefixed for profiled runs.
func LaunchID(stamp time.Time, name string, slot int, profiled bool) string {
	ts := strings.ReplaceAll(stamp.Format(launchIDLayout), ".", "-")
	id := fmt.Sprintf("%s%s%d", ts, name, slot)
	if profiled {
		id = ProfiledPrefix + id
	}
	return id
}

// Command returns the argv for a launch without starting anything.
func (l *Launcher) Command(spec workload.Spec, launchID, artifactDir string, profile bool, profilerArgs []string) []string {
	argv := spec.Command.Argv()
	argv = append(argv, "--dataset_dir", l.opts.DatasetDir, "--run_name", launchID)
	if !profile {
		return argv
	}
	prefix := []string{l.opts.Profiler}
	prefix = append(prefix, ProfilerMetricsArgs...)
	prefix = append(prefix, "--log-file", filepath.Join(artifactDir, ProfilerLogName))
	prefix = append(prefix, profilerArgs...)
	return append(prefix, argv...)
}

// Launch creates {root}/{launch_id}/{output.log,err.log,experiment/} and
// starts the workload with its output redirected there. Ownership of the
// returned process, including its open log files, passes to the caller.
func (l *Launcher) Launch(req Request) (*LaunchedProcess, error) {
	spec, err := l.registry.Lookup(req.Workload)
	if err != nil {
		return nil, err
	}

	launchID := LaunchID(l.nextStamp(), req.Workload, req.Slot, req.Profile)
	dir := filepath.Join(req.Root, launchID)
	artifactDir := filepath.Join(dir, ArtifactDirName)
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create launch directory: %w", err)
	}

	outputPath := filepath.Join(dir, OutputLogName)
	errorPath := filepath.Join(dir, ErrorLogName)

	stdout, err := openLog(outputPath)
	if err != nil {
		return nil, err
	}
	stderr, err := openLog(errorPath)
	if err != nil {
		stdout.Close()
		return nil, err
	}
	files := &closer{files: []*os.File{stdout, stderr}}

	argv := l.Command(spec, launchID, artifactDir, req.Profile, req.ProfilerArgs)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if l.opts.UseLaunchDir {
		cmd.Dir = artifactDir
	}

	l.logger.WithFields(logrus.Fields{
		"workload":  req.Workload,
		"slot":      req.Slot,
		"launch_id": launchID,
		"share":     fmt.Sprintf("%.3f", req.Share),
		"profiled":  req.Profile,
	}).Debug("Launching workload")

	startTime := time.Now()
	proc, err := startProcess(cmd)
	if err != nil {
		files.Close()
		return nil, fmt.Errorf("failed to start workload %s: %w", req.Workload, err)
	}

	l.logger.WithFields(logrus.Fields{
		"workload": req.Workload,
		"slot":     req.Slot,
		"pid":      proc.PID(),
		"command":  strings.Join(argv, " "),
	}).Info("Workload started")

	return &LaunchedProcess{
		process:    proc,
		Workload:   req.Workload,
		Slot:       req.Slot,
		LaunchID:   launchID,
		Dir:        dir,
		OutputPath: outputPath,
		ErrorPath:  errorPath,
		StartTime:  startTime,
		Argv:       argv,
		files:      files,
	}, nil
}

func openLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", path, err)
	}
	return f, nil
}
