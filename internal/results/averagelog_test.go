package results

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"interference-bench/internal/accounting"
)

func TestAverageLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "experiment.log")

	for rep := 1; rep <= 2; rep++ {
		log, err := OpenAverageLog(path)
		if err != nil {
			t.Fatalf("OpenAverageLog: %v", err)
		}
		if err := log.WriteProcess(3, rep, 4242, 0.1234567, 5); err != nil {
			t.Fatalf("WriteProcess: %v", err)
		}
		if err := log.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := log.Close(); err != nil {
			t.Fatalf("second Close: %v", err)
		}
	}

	tr := accounting.NewTracker(2)
	_ = tr.Record(0, 5, 0.3)
	_ = tr.Record(1, 7, 0.25)
	if err := AppendTotals(path, 3, tr); err != nil {
		t.Fatalf("AppendTotals: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	want := []string{
		"experiment set 3, experiment_run 1: 4242 process average num p step is 0.1235 and total number of step is: 5 ",
		"experiment set 3, experiment_run 2: 4242 process average num p step is 0.1235 and total number of step is: 5 ",
		"TOTAL: In experiment 3 average mean sec/step and average number for model 0 are 0.3000 , 5 ",
		"TOTAL: In experiment 3 average mean sec/step and average number for model 1 are 0.2500 , 7 ",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), data)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q\nwant     %q", i, lines[i], want[i])
		}
	}
}
