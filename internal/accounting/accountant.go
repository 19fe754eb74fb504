package accounting

import (
	"fmt"
)

// RunningAverage holds the accumulated measurements of one slot across
// repetitions of an experiment set.
type RunningAverage struct {
	Accumulated     float64 `json:"accumulated"`
	MeanSteps       float64 `json:"mean_steps"`
	MeanStepSeconds float64 `json:"mean_step_seconds"`
}

// Tracker accumulates per-slot throughput across repetitions. It is not safe
// for concurrent use; the supervisor loop is its only writer.
type Tracker struct {
	slots []RunningAverage
}

// NewTracker returns a zeroed tracker with one slot per workload in the set.
func NewTracker(slots int) *Tracker {
	if slots < 0 {
		slots = 0
	}
	return &Tracker{slots: make([]RunningAverage, slots)}
}

func (t *Tracker) Len() int {
	return len(t.slots)
}

// Record folds one reaped process into its slot:
//
//	new = (accumulated*old + sample) / (accumulated + 1)
//
// using the accumulated count from before the update.
func (t *Tracker) Record(slot int, steps int, meanStepSeconds float64) error {
	if slot < 0 || slot >= len(t.slots) {
		return fmt.Errorf("slot %d out of range [0, %d)", slot, len(t.slots))
	}
	ra := &t.slots[slot]
	ra.MeanSteps = (ra.Accumulated*ra.MeanSteps + float64(steps)) / (ra.Accumulated + 1.0)
	ra.MeanStepSeconds = (ra.Accumulated*ra.MeanStepSeconds + meanStepSeconds) / (ra.Accumulated + 1.0)
	ra.Accumulated += 1.0
	return nil
}

func (t *Tracker) Slot(slot int) RunningAverage {
	if slot < 0 || slot >= len(t.slots) {
		return RunningAverage{}
	}
	return t.slots[slot]
}

// Snapshot returns a copy of all slots.
func (t *Tracker) Snapshot() []RunningAverage {
	out := make([]RunningAverage, len(t.slots))
	copy(out, t.slots)
	return out
}

// Reset zeroes every slot, keeping the slot count.
func (t *Tracker) Reset() {
	for i := range t.slots {
		t.slots[i] = RunningAverage{}
	}
}
