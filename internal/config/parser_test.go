package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const catalogYAML = `
experiment:
  name: pair-test
  root: ${BENCH_TEST_ROOT}
  poll_interval: 250ms
workloads:
  vgg19_cmd:
    program: python
    args: [image_classifier.py, --model, vgg19]
  googlenet_cmd:
    program: python
    args: [image_classifier.py, --model, googlenet]
sets:
  - [googlenet_cmd]
  - label: self-pair
    workloads: [googlenet_cmd, googlenet_cmd]
  - [googlenet_cmd, vgg19_cmd]
profiling:
  timeline:
    enabled: true
    kill_after: 2m
gpu_sampler:
  enabled: true
  interval_ms: 500
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("BENCH_TEST_ROOT", "/tmp/bench-root")
	path := writeCatalog(t, catalogYAML)

	cfg, content, err := LoadConfigWithContent(path)
	if err != nil {
		t.Fatalf("LoadConfigWithContent: %v", err)
	}
	if !strings.Contains(content, "${BENCH_TEST_ROOT}") {
		t.Fatal("original content should be returned unexpanded")
	}
	if cfg.Experiment.Root != "/tmp/bench-root" {
		t.Fatalf("root = %q, want env expansion", cfg.Experiment.Root)
	}
	if cfg.Experiment.PollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.Experiment.PollInterval)
	}
	if cfg.Experiment.Repetitions != DefaultRepetitions {
		t.Fatalf("repetitions = %d, want default %d", cfg.Experiment.Repetitions, DefaultRepetitions)
	}
	if len(cfg.Sets) != 3 {
		t.Fatalf("sets = %d, want 3", len(cfg.Sets))
	}
	if cfg.Sets[1].Label != "self-pair" || len(cfg.Sets[1].Workloads) != 2 {
		t.Fatalf("labelled set decoded as %+v", cfg.Sets[1])
	}
	if cfg.Profiling.Timeline.KillAfter != 2*time.Minute {
		t.Fatalf("kill_after = %v", cfg.Profiling.Timeline.KillAfter)
	}
	if cfg.Profiling.Program != DefaultProfiler {
		t.Fatalf("profiler = %q", cfg.Profiling.Program)
	}

	names := cfg.WorkloadNames()
	if len(names) != 2 || names[0] != "vgg19_cmd" || names[1] != "googlenet_cmd" {
		t.Fatalf("WorkloadNames = %v, want file order", names)
	}

	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if !reg.Has("googlenet_cmd") || reg.Len() != 2 {
		t.Fatalf("registry missing workloads: %v", reg.Names())
	}

	args := cfg.GPUSamplerArgs()
	if args[len(args)-1] != "500" {
		t.Fatalf("gpu sampler args = %v", args)
	}
	tl := cfg.TimelineArgs("/x/%p_timeline")
	if tl[len(tl)-1] != "/x/%p_timeline" || tl[len(tl)-3] != "30" {
		t.Fatalf("timeline args = %v", tl)
	}
}

func TestValidateConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "workloads: {a: {program: p}}\nsets: [[a]]\n",
			want: "experiment name",
		},
		{
			name: "unknown workload",
			yaml: "experiment: {name: x}\nworkloads: {a: {program: p}}\nsets: [[a, b]]\n",
			want: `unknown workload "b"`,
		},
		{
			name: "no sets",
			yaml: "experiment: {name: x}\nworkloads: {a: {program: p}}\n",
			want: "at least one experiment set",
		},
		{
			name: "missing program",
			yaml: "experiment: {name: x}\nworkloads: {a: {args: [x]}}\nsets: [[a]]\n",
			want: "program is required",
		},
		{
			name: "too many workloads for share",
			yaml: "experiment: {name: x, share_overhead: 0.6}\nworkloads: {a: {program: p}}\nsets: [[a, a]]\n",
			want: "no GPU share",
		},
		{
			name: "bad workdir",
			yaml: "experiment: {name: x, workdir: tmp}\nworkloads: {a: {program: p}}\nsets: [[a]]\n",
			want: "workdir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Sets) != 19 {
		t.Fatalf("default sets = %d, want 19", len(cfg.Sets))
	}
	if cfg.WorkloadNames()[0] != "googlenet_cmd" {
		t.Fatalf("default workload order = %v", cfg.WorkloadNames())
	}
}

func TestParseSetSelection(t *testing.T) {
	got, err := ParseSetSelection("3, 0,5-7,6", 10)
	if err != nil {
		t.Fatalf("ParseSetSelection: %v", err)
	}
	want := []int{0, 3, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	for _, bad := range []string{"", "10", "4-2", "a", "1-2-3"} {
		if _, err := ParseSetSelection(bad, 10); err == nil {
			t.Fatalf("ParseSetSelection(%q) should fail", bad)
		}
	}
}
