package templates

const PlotTemplate = `% Generated on {{.GeneratedDate}}
%
% Experiment: {{.ExperimentName}}
% Catalog checksum: {{.CatalogChecksum}}
% Started: {{.Started}}
% Finished: {{.Finished}}
% Sets plotted: {{len .Sets}} (solo baselines: {{.Baselines}})
%
% Host Information:
% Hostname: {{.Hostname}}
% CPU: {{.CPUModel}}
% GPUs: {{.GPUs}}
% Kernel: {{.KernelVersion}}
%
\begin{tikzpicture}
	\begin{axis}[
		xlabel={ {{.XLabel}} },
		ylabel={ {{.YLabel}} },
		width=\textwidth,
		height=0.6\textwidth,
		xmin=-0.5, xmax={{.XMax}},
		ymin=0, ymax={{.YMax}},
		xtick={ {{.XTicks}} },
		xticklabels={ {{.XTickLabels}} },
		x tick label style={rotate=45, anchor=east},
		ymajorgrids,
		grid style=dashed,
		legend columns=2,
		legend pos=north west,
	]

\addplot[{{.BaselineStyle}}, domain=-0.5:{{.XMax}}] {1};

{{range .Plots}}
% Workload: {{.Workload}} (solo mean: {{.BaselineSeconds}} sec/step)
\addplot+[{{.Style}}]
  coordinates {
{{range .Coordinates}}    {{.}}
{{end}}  };
\addlegendentry{ {{.LegendEntry}} }

{{end}}
	\end{axis}
\end{tikzpicture}
`

type PlotData struct {
	GeneratedDate   string
	ExperimentName  string
	CatalogChecksum string
	Started         string
	Finished        string
	Baselines       int
	Hostname        string
	CPUModel        string
	GPUs            string
	KernelVersion   string
	XLabel          string
	YLabel          string
	XMax            string
	YMax            string
	XTicks          string
	XTickLabels     string
	BaselineStyle   string
	Sets            []int
	Plots           []PlotSeries
}

type PlotSeries struct {
	Workload        string
	BaselineSeconds string
	Style           string
	LegendEntry     string
	Coordinates     []string
}
