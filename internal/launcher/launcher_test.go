package launcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"interference-bench/internal/workload"
)

func shellRegistry(t *testing.T, scripts map[string]string) *workload.Registry {
	t.Helper()
	var specs []workload.Spec
	for name, script := range scripts {
		specs = append(specs, workload.Spec{Name: name, Command: workload.NewCommandTemplate("/bin/sh", "-c", script, name)})
	}
	reg, err := workload.NewRegistry(specs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func waitExit(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestLaunchCreatesLayoutAndRedirectsOutput(t *testing.T) {
	root := t.TempDir()
	reg := shellRegistry(t, map[string]string{
		// $@ holds the appended --dataset_dir/--run_name flags.
		"fake": `echo "args: $@"; echo "oops" >&2`,
	})
	l := New(reg, Options{DatasetDir: "/data"})

	lp, err := l.Launch(Request{Workload: "fake", Slot: 1, Root: root, Share: 0.925})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	waitExit(t, lp.Done())
	if err := lp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := lp.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if !strings.HasSuffix(lp.LaunchID, "fake1") {
		t.Fatalf("launch id %q should end with workload and slot", lp.LaunchID)
	}
	if lp.Dir != filepath.Join(root, lp.LaunchID) {
		t.Fatalf("dir = %q", lp.Dir)
	}
	if st, err := os.Stat(filepath.Join(lp.Dir, ArtifactDirName)); err != nil || !st.IsDir() {
		t.Fatalf("experiment dir missing: %v", err)
	}

	out, err := os.ReadFile(lp.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "args: --dataset_dir /data --run_name " + lp.LaunchID
	if !strings.Contains(string(out), want) {
		t.Fatalf("output %q does not contain %q", out, want)
	}
	errOut, err := os.ReadFile(lp.ErrorPath)
	if err != nil {
		t.Fatalf("read err log: %v", err)
	}
	if strings.TrimSpace(string(errOut)) != "oops" {
		t.Fatalf("err log = %q", errOut)
	}
	if lp.ExitCode() != 0 {
		t.Fatalf("exit code = %d", lp.ExitCode())
	}
}

func TestLaunchIDsAreUniqueWithinSameInstant(t *testing.T) {
	root := t.TempDir()
	reg := shellRegistry(t, map[string]string{"fake": "true"})
	frozen := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	l := New(reg, Options{Now: func() time.Time { return frozen }})

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		lp, err := l.Launch(Request{Workload: "fake", Slot: 0, Root: root})
		if err != nil {
			t.Fatalf("Launch #%d: %v", i, err)
		}
		waitExit(t, lp.Done())
		lp.Close()
		if seen[lp.Dir] {
			t.Fatalf("duplicate launch dir %s", lp.Dir)
		}
		seen[lp.Dir] = true
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 launch dirs, got %d", len(entries))
	}
}

func TestLaunchIDFormat(t *testing.T) {
	stamp := time.Date(2019, 6, 7, 8, 9, 10, 123456000, time.UTC)
	if got := LaunchID(stamp, "vgg19_cmd", 1, false); got != "2019-06-07-08-09-10-123456vgg19_cmd1" {
		t.Fatalf("LaunchID = %q", got)
	}
	if got := LaunchID(stamp, "vgg19_cmd", 0, true); !strings.HasPrefix(got, ProfiledPrefix+"2019-06-07") {
		t.Fatalf("profiled LaunchID = %q", got)
	}
}

func TestCommandWithProfiler(t *testing.T) {
	reg := workload.MustRegistry(workload.Spec{Name: "m", Command: workload.NewCommandTemplate("python", "train.py")})
	l := New(reg, Options{DatasetDir: "/repo", Profiler: "nvprof"})
	spec, _ := reg.Lookup("m")

	argv := l.Command(spec, "id0", "/x/id0/experiment", true, []string{"--timeout", "180"})
	want := []string{
		"nvprof", "--profile-from-start", "off", "--csv",
		"--log-file", "/x/id0/experiment/nvprof_log.log",
		"--timeout", "180",
		"python", "train.py", "--dataset_dir", "/repo", "--run_name", "id0",
	}
	if strings.Join(argv, " ") != strings.Join(want, " ") {
		t.Fatalf("argv = %v\nwant  %v", argv, want)
	}

	plain := l.Command(spec, "id1", "/x/id1/experiment", false, nil)
	if plain[0] != "python" || plain[len(plain)-1] != "id1" {
		t.Fatalf("plain argv = %v", plain)
	}
}

func TestLaunchUnknownWorkload(t *testing.T) {
	l := New(workload.MustRegistry(), Options{})
	if _, err := l.Launch(Request{Workload: "nope", Root: t.TempDir()}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLaunchSpawnFailurePropagates(t *testing.T) {
	reg := workload.MustRegistry(workload.Spec{Name: "bad", Command: workload.NewCommandTemplate("/nonexistent/program")})
	l := New(reg, Options{})
	if _, err := l.Launch(Request{Workload: "bad", Root: t.TempDir()}); err == nil {
		t.Fatal("expected spawn error")
	}
}

func TestKillStopsProcessTree(t *testing.T) {
	reg := shellRegistry(t, map[string]string{"sleeper": "sleep 30 & wait"})
	l := New(reg, Options{})
	lp, err := l.Launch(Request{Workload: "sleeper", Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer lp.Close()
	if lp.Exited() {
		t.Fatal("sleeper exited immediately")
	}
	if err := lp.KillAndWait(5 * time.Second); err != nil {
		t.Fatalf("KillAndWait: %v", err)
	}
	if !lp.Exited() {
		t.Fatal("process still running after kill")
	}
	if err := lp.Kill(); err != nil {
		t.Fatalf("Kill after exit: %v", err)
	}
}

func TestCompanionWait(t *testing.T) {
	dir := t.TempDir()

	quick, err := StartCompanion("quick", []string{"/bin/sh", "-c", "echo sampled"}, filepath.Join(dir, "quick.log"))
	if err != nil {
		t.Fatalf("StartCompanion: %v", err)
	}
	killed, err := quick.Wait(context.Background(), 10*time.Millisecond, 0)
	if err != nil || killed {
		t.Fatalf("Wait = (%v, %v), want clean exit", killed, err)
	}
	quick.Close()
	data, _ := os.ReadFile(quick.LogPath)
	if strings.TrimSpace(string(data)) != "sampled" {
		t.Fatalf("companion log = %q", data)
	}

	slow, err := StartCompanion("slow", []string{"/bin/sh", "-c", "sleep 30"}, filepath.Join(dir, "slow.log"))
	if err != nil {
		t.Fatalf("StartCompanion: %v", err)
	}
	defer slow.Close()
	killed, err = slow.Wait(context.Background(), 10*time.Millisecond, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !killed || slow.Running() {
		t.Fatalf("slow companion should have been killed (killed=%v running=%v)", killed, slow.Running())
	}
}

func TestCompanionStop(t *testing.T) {
	c, err := StartCompanion("sampler", []string{"/bin/sh", "-c", "while true; do echo x; sleep 0.05; done"}, filepath.Join(t.TempDir(), "smi.log"))
	if err != nil {
		t.Fatalf("StartCompanion: %v", err)
	}
	if !c.Running() {
		t.Fatal("sampler should be running")
	}
	if err := c.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.Running() {
		t.Fatal("sampler still running after Stop")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close after Stop: %v", err)
	}
}
