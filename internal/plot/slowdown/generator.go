package slowdown

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"interference-bench/internal/database"
	"interference-bench/internal/plot/slowdown/mappings"
	plotTemplate "interference-bench/internal/plot/slowdown/templates/plot"
	wrapperTemplate "interference-bench/internal/plot/slowdown/templates/wrapper"

	"github.com/sirupsen/logrus"
)

type SlowdownPlotGenerator struct {
	logger *logrus.Logger
}

func NewSlowdownPlotGenerator(logger *logrus.Logger) *SlowdownPlotGenerator {
	return &SlowdownPlotGenerator{logger: logger}
}

type PlotOptions struct {
	PlotFileName string
	MaxOverride  *float64
}

// Point is the slowdown of one workload in one co-located set: its mean
// seconds per step there divided by its mean when it ran alone.
type Point struct {
	SetIndex int
	Label    string
	Workload string
	Slowdown float64
}

// Generate renders the slowdown plot and its figure wrapper.
func (g *SlowdownPlotGenerator) Generate(artifacts []*database.SpoolArtifact, opts PlotOptions) (string, string, error) {
	if len(artifacts) == 0 {
		return "", "", fmt.Errorf("no spooled sets to plot")
	}

	latest := LatestPerSet(artifacts)
	baselines := Baselines(latest)
	points := Slowdowns(latest, baselines)
	if len(points) == 0 {
		return "", "", fmt.Errorf("no co-located set has a solo baseline for its workloads")
	}

	g.logger.WithFields(logrus.Fields{
		"sets":      len(latest),
		"baselines": len(baselines),
		"points":    len(points),
	}).Info("Generating slowdown plot")

	plotData := g.preparePlotData(latest, baselines, points, opts)
	wrapperData := g.prepareWrapperData(latest[0], opts)

	plotOutput, err := g.renderPlot(plotData)
	if err != nil {
		return "", "", fmt.Errorf("failed to render plot: %w", err)
	}
	wrapperOutput, err := g.renderWrapper(wrapperData)
	if err != nil {
		return "", "", fmt.Errorf("failed to render wrapper: %w", err)
	}
	return plotOutput, wrapperOutput, nil
}

// LatestPerSet keeps the most recent artifact of every set index, ordered by
// set index.
func LatestPerSet(artifacts []*database.SpoolArtifact) []*database.SpoolArtifact {
	bySet := make(map[int]*database.SpoolArtifact)
	for _, a := range artifacts {
		if a == nil || a.Summary == nil {
			continue
		}
		if cur, ok := bySet[a.SetIndex]; !ok || a.CreatedAt.After(cur.CreatedAt) {
			bySet[a.SetIndex] = a
		}
	}
	out := make([]*database.SpoolArtifact, 0, len(bySet))
	for _, a := range bySet {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SetIndex < out[j].SetIndex })
	return out
}

// Baselines maps each workload to its mean seconds per step in a set where it
// ran alone. A later solo set overrides an earlier one.
func Baselines(artifacts []*database.SpoolArtifact) map[string]float64 {
	baselines := make(map[string]float64)
	for _, a := range artifacts {
		s := a.Summary
		if len(s.Workloads) != 1 || len(s.Slots) == 0 || s.Slots[0].MeanStepSeconds <= 0 {
			continue
		}
		baselines[s.Workloads[0]] = s.Slots[0].MeanStepSeconds
	}
	return baselines
}

// Slowdowns computes one point per workload and co-located set. Copies of the
// same workload in one set are averaged.
func Slowdowns(artifacts []*database.SpoolArtifact, baselines map[string]float64) []Point {
	var points []Point
	for _, a := range artifacts {
		s := a.Summary
		if len(s.Workloads) < 2 {
			continue
		}
		sums := make(map[string]float64)
		counts := make(map[string]int)
		var order []string
		for slot, name := range s.Workloads {
			base, ok := baselines[name]
			if !ok || slot >= len(s.Slots) || s.Slots[slot].MeanStepSeconds <= 0 {
				continue
			}
			if counts[name] == 0 {
				order = append(order, name)
			}
			sums[name] += s.Slots[slot].MeanStepSeconds / base
			counts[name]++
		}
		for _, name := range order {
			points = append(points, Point{
				SetIndex: s.SetIndex,
				Label:    setLabel(s),
				Workload: name,
				Slowdown: sums[name] / float64(counts[name]),
			})
		}
	}
	return points
}

func setLabel(s *database.SetSummary) string {
	if s.Label != "" {
		return s.Label
	}
	return strings.Join(s.Workloads, "+")
}

func (g *SlowdownPlotGenerator) preparePlotData(
	artifacts []*database.SpoolArtifact,
	baselines map[string]float64,
	points []Point,
	opts PlotOptions,
) *plotTemplate.PlotData {
	// Co-located sets become evenly spaced categories on the x axis.
	position := make(map[int]int)
	var sets []int
	var labels []string
	for _, p := range points {
		if _, ok := position[p.SetIndex]; ok {
			continue
		}
		position[p.SetIndex] = len(sets)
		sets = append(sets, p.SetIndex)
		labels = append(labels, "{"+escapeTeX(p.Label)+"}")
	}

	byWorkload := make(map[string][]Point)
	var workloads []string
	yMax := 1.0
	for _, p := range points {
		if _, ok := byWorkload[p.Workload]; !ok {
			workloads = append(workloads, p.Workload)
		}
		byWorkload[p.Workload] = append(byWorkload[p.Workload], p)
		yMax = math.Max(yMax, p.Slowdown)
	}
	sort.Strings(workloads)

	var plotSeries []plotTemplate.PlotSeries
	for i, name := range workloads {
		var coords []string
		for _, p := range byWorkload[name] {
			coords = append(coords, fmt.Sprintf("(%d, %s)", position[p.SetIndex], formatFloat(p.Slowdown)))
		}
		plotSeries = append(plotSeries, plotTemplate.PlotSeries{
			Workload:        name,
			BaselineSeconds: formatFloat(baselines[name]),
			Style:           mappings.GetWorkloadStyle(i).ToTikzOptions(),
			LegendEntry:     escapeTeX(name),
			Coordinates:     coords,
		})
	}

	ticks := make([]string, len(sets))
	for i := range sets {
		ticks[i] = strconv.Itoa(i)
	}

	// Headroom above the worst slowdown, rounded to a quarter.
	yMaxValue := math.Ceil(yMax*1.1*4) / 4
	if opts.MaxOverride != nil {
		yMaxValue = *opts.MaxOverride
	}

	first := artifacts[0]
	last := artifacts[len(artifacts)-1]
	data := &plotTemplate.PlotData{
		GeneratedDate:   time.Now().Format("2006-01-02 15:04:05"),
		ExperimentName:  first.ExperimentName,
		CatalogChecksum: first.CatalogChecksum,
		Started:         first.StartTime.Format(time.RFC3339),
		Finished:        last.EndTime.Format(time.RFC3339),
		Baselines:       len(baselines),
		XLabel:          "Co-located set",
		YLabel:          "Slowdown vs. solo run",
		XMax:            formatFloat(float64(len(sets)) - 0.5),
		YMax:            formatFloat(yMaxValue),
		XTicks:          strings.Join(ticks, ","),
		XTickLabels:     strings.Join(labels, ","),
		BaselineStyle:   mappings.GetWorkloadStyle(6).ToLineOptions(),
		Sets:            sets,
		Plots:           plotSeries,
	}
	if h := first.Host; h != nil {
		data.Hostname = h.Hostname
		data.CPUModel = h.CPUModel
		data.KernelVersion = h.KernelVersion
		var gpus []string
		for _, gpu := range h.GPUs {
			gpus = append(gpus, gpu.Name)
		}
		data.GPUs = strings.Join(gpus, ", ")
	}
	return data
}

func (g *SlowdownPlotGenerator) prepareWrapperData(first *database.SpoolArtifact, opts PlotOptions) *wrapperTemplate.WrapperData {
	label := strings.ToLower(strings.ReplaceAll(first.ExperimentName, " ", "-"))
	return &wrapperTemplate.WrapperData{
		GeneratedDate:  time.Now().Format("2006-01-02 15:04:05"),
		ExperimentName: first.ExperimentName,
		Label:          label,
		PlotFileName:   opts.PlotFileName,
		ShortCaption:   "Co-location slowdown",
		Caption:        fmt.Sprintf("Mean seconds per step of each workload in experiment %s, relative to its solo run", escapeTeX(first.ExperimentName)),
	}
}

func (g *SlowdownPlotGenerator) renderPlot(data *plotTemplate.PlotData) (string, error) {
	tmpl, err := template.New("plot").Parse(plotTemplate.PlotTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse plot template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute plot template: %w", err)
	}
	return buf.String(), nil
}

func (g *SlowdownPlotGenerator) renderWrapper(data *wrapperTemplate.WrapperData) (string, error) {
	tmpl, err := template.New("wrapper").Parse(wrapperTemplate.WrapperTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse wrapper template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute wrapper template: %w", err)
	}
	return buf.String(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var texEscaper = strings.NewReplacer(`_`, `\_`, `%`, `\%`, `&`, `\&`, `#`, `\#`)

func escapeTeX(s string) string {
	return texEscaper.Replace(s)
}
