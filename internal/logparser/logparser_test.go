package logparser

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "output.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestParseStepTime(t *testing.T) {
	tests := []struct {
		line   string
		want   float64
		wantOK bool
	}{
		{"Epoch 1: 20/100 [Loss: 2.3012] (0.1532 sec/step)", 0.1532, true},
		{"(12 sec/step)", 12, true},
		{"step (0 sec/step)", 0, true},
		{"prefix (1.5e-2 sec/step) suffix (9 sec/step)", 0.015, true},
		{"Epoch 1: 20/100 [Loss: 2.3012]", 0, false},
		{"no paren 0.5 sec/step", 0, false},
		{"(abc sec/step)", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseStepTime(tt.line)
		if ok != tt.wantOK {
			t.Fatalf("ParseStepTime(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
		}
		if got != tt.want {
			t.Fatalf("ParseStepTime(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestProcessLineMissIsZero(t *testing.T) {
	if v := ProcessLine("loss went down"); v != 0.0 {
		t.Fatalf("ProcessLine miss = %v, want 0", v)
	}
	if v := ProcessLine("x (0.25 sec/step)"); v != 0.25 {
		t.Fatalf("ProcessLine = %v, want 0.25", v)
	}
}

func TestAverageStepTime(t *testing.T) {
	values := []float64{0.1, 0.2, 0.3, 0.4, 0.5}
	lines := []string{"starting"}
	for i, v := range values {
		lines = append(lines, "Epoch 0: "+strings.Repeat("#", i)+" ("+fmt.Sprintf("%.1f", v)+" sec/step)")
		lines = append(lines, "loss line without marker")
	}
	path := writeLog(t, lines...)

	stats, err := AverageStepTime(path)
	if err != nil {
		t.Fatalf("AverageStepTime: %v", err)
	}
	if stats.Count != len(values) {
		t.Fatalf("count = %d, want %d", stats.Count, len(values))
	}
	if math.Abs(stats.MeanSeconds-0.3) > 1e-9 {
		t.Fatalf("mean = %v, want 0.3", stats.MeanSeconds)
	}
}

func TestAverageStepTimeNoMatches(t *testing.T) {
	path := writeLog(t, "hello", "world")
	stats, err := AverageStepTime(path)
	if err != nil {
		t.Fatalf("AverageStepTime: %v", err)
	}
	if stats.Count != 0 || stats.MeanSeconds != 0 {
		t.Fatalf("stats = %+v, want zero", stats)
	}
}

func TestAverageStepTimeMissingFile(t *testing.T) {
	if _, err := AverageStepTime(filepath.Join(t.TempDir(), "missing.log")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseFinishTime(t *testing.T) {
	tests := []struct {
		line   string
		want   float64
		wantOK bool
	}{
		{"Finished: ran for 42 secs", 42, true},
		{"INFO 2020-01-01 Finished: ran for 12 secs", 12, true},
		{"Finished training epoch 3, ran for 10 secs", 0, false},
		{"Finished", 0, false},
		{"ran for 42 secs", 0, false},
		{"Finished: ran for soon secs", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseFinishTime(tt.line)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("ParseFinishTime(%q) = (%v, %v), want (%v, %v)", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFinishTime(t *testing.T) {
	path := writeLog(t,
		"Finished training epoch 1, ran for 5 secs",
		"Finished: ran for 42 secs",
		"Finished: ran for 43 secs",
	)
	v, err := FinishTime(path)
	if err != nil {
		t.Fatalf("FinishTime: %v", err)
	}
	if v != 42 {
		t.Fatalf("FinishTime = %v, want 42", v)
	}

	empty := writeLog(t, "nothing here")
	if _, err := FinishTime(empty); !errors.Is(err, ErrNoFinishLine) {
		t.Fatalf("FinishTime on empty log err = %v, want ErrNoFinishLine", err)
	}
}
