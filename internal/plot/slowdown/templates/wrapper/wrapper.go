package templates

const WrapperTemplate = `% Generated on {{.GeneratedDate}}
% Experiment: {{.ExperimentName}}
\begin{center}
    \begin{figure}[H]
    \centering
    \resizebox{1\linewidth}{!}{\input{./{{.PlotFileName}} }}
    \caption[{{.ShortCaption}}]{ {{.Caption}} }
    \label{fig:slowdown-{{.Label}}}
    \end{figure}
\end{center}
`

type WrapperData struct {
	GeneratedDate  string
	ExperimentName string
	Label          string
	PlotFileName   string
	ShortCaption   string
	Caption        string
}
