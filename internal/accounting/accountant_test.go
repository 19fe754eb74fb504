package accounting

import (
	"math"
	"testing"
)

const eps = 1e-12

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func TestNewTrackerIsZeroed(t *testing.T) {
	tr := NewTracker(3)
	if tr.Len() != 3 {
		t.Fatalf("Len = %d, want 3", tr.Len())
	}
	for i := 0; i < 3; i++ {
		if got := tr.Slot(i); got != (RunningAverage{}) {
			t.Fatalf("slot %d = %+v, want zero", i, got)
		}
	}
}

func TestRecordTrace(t *testing.T) {
	tr := NewTracker(1)
	samples := []struct {
		steps int
		mean  float64
	}{
		{5, 0.3},
		{7, 0.6},
		{3, 0.9},
	}
	// Expected values computed step by step with the weighted update.
	want := []RunningAverage{
		{Accumulated: 1, MeanSteps: 5, MeanStepSeconds: 0.3},
		{Accumulated: 2, MeanSteps: (1*5 + 7) / 2.0, MeanStepSeconds: (1*0.3 + 0.6) / 2.0},
		{Accumulated: 3, MeanSteps: (2*6.0 + 3) / 3.0, MeanStepSeconds: (2*0.45 + 0.9) / 3.0},
	}

	for i, s := range samples {
		if err := tr.Record(0, s.steps, s.mean); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
		got := tr.Slot(0)
		if got.Accumulated != want[i].Accumulated ||
			!almostEqual(got.MeanSteps, want[i].MeanSteps) ||
			!almostEqual(got.MeanStepSeconds, want[i].MeanStepSeconds) {
			t.Fatalf("after #%d got %+v, want %+v", i, got, want[i])
		}
	}
}

func TestRecordSlotsAreIndependent(t *testing.T) {
	tr := NewTracker(2)
	if err := tr.Record(1, 10, 0.5); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got := tr.Slot(0); got != (RunningAverage{}) {
		t.Fatalf("slot 0 touched: %+v", got)
	}
	if got := tr.Slot(1); got.MeanSteps != 10 || got.MeanStepSeconds != 0.5 || got.Accumulated != 1 {
		t.Fatalf("slot 1 = %+v", got)
	}
}

func TestRecordOutOfRange(t *testing.T) {
	tr := NewTracker(1)
	if err := tr.Record(1, 1, 1); err == nil {
		t.Fatal("expected error for slot 1")
	}
	if err := tr.Record(-1, 1, 1); err == nil {
		t.Fatal("expected error for slot -1")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(1)
	_ = tr.Record(0, 4, 0.2)
	snap := tr.Snapshot()
	snap[0].MeanSteps = 100
	if tr.Slot(0).MeanSteps != 4 {
		t.Fatal("snapshot aliases tracker state")
	}
	tr.Reset()
	if tr.Slot(0) != (RunningAverage{}) || tr.Len() != 1 {
		t.Fatalf("Reset left %+v", tr.Slot(0))
	}
}
