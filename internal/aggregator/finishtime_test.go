package aggregator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"interference-bench/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestAggregateGooglenet(t *testing.T) {
	root := t.TempDir()
	launch := filepath.Join(root, "3", "2024-05-01-10-00-00-000001googlenet0")
	writeFile(t, filepath.Join(launch, "err.log"), "warning: something\n")
	writeFile(t, filepath.Join(launch, "output.log"), "epoch 1 Finished training ran for 10 secs\nFinished: ran for 42 secs\n")

	rows, err := Aggregate(context.Background(), root, config.LegacyModelNames, 2)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows: %+v", len(rows), rows)
	}
	if rows[0].SetID != "3" || rows[0].Model != "googlenet" || FormatRuntime(rows[0].Runtime) != "42" {
		t.Fatalf("row = %+v", rows[0])
	}

	out := filepath.Join(root, CSVName)
	if err := WriteCSV(out, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if string(data) != "model_runs,model,application_runtime(s)\n3,googlenet,42\n" {
		t.Fatalf("csv = %q", data)
	}
}

func TestAggregateSkipsAndSorts(t *testing.T) {
	root := t.TempDir()
	finished := "Finished: ran for %s secs\n"
	// Finish line in err.log itself.
	writeFile(t, filepath.Join(root, "10", "a-vgg19_cmd0", "err.log"), strings.Replace(finished, "%s", "7.5", 1))
	writeFile(t, filepath.Join(root, "2", "b-mt1_cmd1", "err.log"), strings.Replace(finished, "%s", "30", 1))
	writeFile(t, filepath.Join(root, "2", "c-googlenet_cmd0", "err.log"), strings.Replace(finished, "%s", "31", 1))
	// Profiled launch and timeline log are ignored.
	writeFile(t, filepath.Join(root, "2", "nvprof-d-googlenet_cmd0", "err.log"), strings.Replace(finished, "%s", "99", 1))
	writeFile(t, filepath.Join(root, "2", "e-googlenet_cmd0", "err.log-timeline"), strings.Replace(finished, "%s", "98", 1))
	// No finish line anywhere, and no known model: skipped.
	writeFile(t, filepath.Join(root, "2", "f-googlenet_cmd0", "err.log"), "still running\n")
	writeFile(t, filepath.Join(root, "2", "g-unknown0", "err.log"), strings.Replace(finished, "%s", "5", 1))

	cfg := config.DefaultConfig()
	rows, err := Aggregate(context.Background(), root, ModelNames(cfg), 0)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	want := []Row{
		{SetID: "2", Model: "googlenet_cmd", Runtime: 31},
		{SetID: "2", Model: "mt1_cmd", Runtime: 30},
		{SetID: "10", Model: "vgg19_cmd", Runtime: 7.5},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v", rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestMatchModelPrefersLast(t *testing.T) {
	model, ok := MatchModel("/x/1/stamp-mobilenetv2_cmd0", config.LegacyModelNames)
	if !ok || model != "mobilenetv2" {
		t.Fatalf("MatchModel = %q, %v", model, ok)
	}
	if _, ok := MatchModel("/x/1/stamp-bert0", config.LegacyModelNames); ok {
		t.Fatal("unexpected match")
	}
}

func TestModelNamesWithoutConfig(t *testing.T) {
	if got := ModelNames(nil); len(got) != len(config.LegacyModelNames) {
		t.Fatalf("ModelNames(nil) = %v", got)
	}
}

func TestAggregateCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "0", "x-googlenet0", "err.log"), "Finished: ran for 1 secs\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Aggregate(ctx, root, config.LegacyModelNames, 1); err == nil {
		t.Fatal("expected context error")
	}
}
