package slowdown

import (
	"math"
	"strings"
	"testing"
	"time"

	"interference-bench/internal/accounting"
	"interference-bench/internal/database"
	"interference-bench/internal/logging"
)

func artifact(set int, created time.Time, label string, workloads []string, means ...float64) *database.SpoolArtifact {
	slots := make([]accounting.RunningAverage, len(means))
	for i, m := range means {
		slots[i] = accounting.RunningAverage{MeanStepSeconds: m}
	}
	return &database.SpoolArtifact{
		ExperimentName: "pairs",
		SetIndex:       set,
		CreatedAt:      created,
		Summary: &database.SetSummary{
			ExperimentName: "pairs",
			SetIndex:       set,
			Label:          label,
			Workloads:      workloads,
			Slots:          slots,
		},
	}
}

func sample() []*database.SpoolArtifact {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []*database.SpoolArtifact{
		artifact(0, t0, "", []string{"resnet_cmd"}, 0.25),
		artifact(1, t0, "", []string{"googlenet_cmd"}, 0.125),
		artifact(2, t0, "", []string{"resnet_cmd", "googlenet_cmd"}, 0.375, 0.3125),
		artifact(3, t0, "twin_googlenet", []string{"googlenet_cmd", "googlenet_cmd"}, 0.25, 0.5),
		// stale rerun of set 2, superseded by the one above
		artifact(2, t0.Add(-time.Hour), "", []string{"resnet_cmd", "googlenet_cmd"}, 9, 9),
	}
}

func TestLatestPerSet(t *testing.T) {
	latest := LatestPerSet(append(sample(), nil))
	if len(latest) != 4 {
		t.Fatalf("expected 4 sets, got %d", len(latest))
	}
	for i, a := range latest {
		if a.SetIndex != i {
			t.Fatalf("set order %d at %d", a.SetIndex, i)
		}
	}
	if latest[2].Summary.Slots[0].MeanStepSeconds != 0.375 {
		t.Fatalf("stale artifact kept for set 2")
	}
}

func TestSlowdowns(t *testing.T) {
	latest := LatestPerSet(sample())
	baselines := Baselines(latest)
	if baselines["resnet_cmd"] != 0.25 || baselines["googlenet_cmd"] != 0.125 {
		t.Fatalf("baselines = %v", baselines)
	}

	points := Slowdowns(latest, baselines)
	want := []Point{
		{SetIndex: 2, Label: "resnet_cmd+googlenet_cmd", Workload: "resnet_cmd", Slowdown: 1.5},
		{SetIndex: 2, Label: "resnet_cmd+googlenet_cmd", Workload: "googlenet_cmd", Slowdown: 2.5},
		{SetIndex: 3, Label: "twin_googlenet", Workload: "googlenet_cmd", Slowdown: 3},
	}
	if len(points) != len(want) {
		t.Fatalf("points = %+v", points)
	}
	for i := range want {
		got := points[i]
		if got.SetIndex != want[i].SetIndex || got.Label != want[i].Label || got.Workload != want[i].Workload ||
			math.Abs(got.Slowdown-want[i].Slowdown) > 1e-9 {
			t.Fatalf("point %d = %+v, want %+v", i, got, want[i])
		}
	}
}

func TestSlowdownsWithoutBaseline(t *testing.T) {
	latest := LatestPerSet(sample()[2:4])
	if points := Slowdowns(latest, Baselines(latest)); len(points) != 0 {
		t.Fatalf("expected no points without solo sets, got %+v", points)
	}
}

func TestGenerate(t *testing.T) {
	g := NewSlowdownPlotGenerator(logging.GetLogger())
	plot, wrapper, err := g.Generate(sample(), PlotOptions{PlotFileName: "pairs-slowdown.tikz"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, want := range []string{
		`\begin{tikzpicture}`,
		"xticklabels={ {resnet\\_cmd+googlenet\\_cmd},{twin\\_googlenet} }",
		"(0, 1.5)",
		"(0, 2.5)",
		"(1, 3)",
		`\addlegendentry{ googlenet\_cmd }`,
		"ymax=3.5,",
	} {
		if !strings.Contains(plot, want) {
			t.Errorf("plot missing %q", want)
		}
	}
	if !strings.Contains(wrapper, `\input{./pairs-slowdown.tikz }`) || !strings.Contains(wrapper, "fig:slowdown-pairs") {
		t.Errorf("wrapper = %s", wrapper)
	}
}

func TestGenerateMaxOverride(t *testing.T) {
	g := NewSlowdownPlotGenerator(logging.GetLogger())
	max := 5.0
	plot, _, err := g.Generate(sample(), PlotOptions{MaxOverride: &max})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(plot, "ymax=5,") {
		t.Errorf("override not applied")
	}
}

func TestGenerateNothingToPlot(t *testing.T) {
	g := NewSlowdownPlotGenerator(logging.GetLogger())
	if _, _, err := g.Generate(nil, PlotOptions{}); err == nil {
		t.Fatal("expected error for no artifacts")
	}
	if _, _, err := g.Generate(sample()[:2], PlotOptions{}); err == nil {
		t.Fatal("expected error when only solo sets exist")
	}
}
