package mappings

type PlotStyle struct {
	Color       string
	LineStyle   string
	LineWidth   string
	Mark        string
	MarkOptions string
}

var WorkloadStyles = []PlotStyle{
	{Color: "red", LineStyle: "dotted", LineWidth: "thick", Mark: "triangle*", MarkOptions: "scale=0.8,fill=red"},
	{Color: "blue", LineStyle: "densely dashed", LineWidth: "thick", Mark: "square*", MarkOptions: "scale=0.6,fill=blue"},
	{Color: "green!70!black", LineStyle: "densely dotted", LineWidth: "thick", Mark: "*", MarkOptions: "scale=0.6,fill=green!70!black"},
	{Color: "orange", LineStyle: "dashdotted", LineWidth: "thick", Mark: "diamond*", MarkOptions: "scale=0.8,fill=orange"},
	{Color: "purple", LineStyle: "loosely dotted", LineWidth: "thick", Mark: "pentagon*", MarkOptions: "scale=0.8,fill=purple"},
	{Color: "brown", LineStyle: "densely dashed", LineWidth: "thick", Mark: "x", MarkOptions: "scale=0.8"},
	{Color: "black", LineStyle: "densely dotted", LineWidth: "thick", Mark: "o", MarkOptions: "scale=0.6"},
	{Color: "cyan", LineStyle: "solid", LineWidth: "thick", Mark: "pentagon", MarkOptions: "scale=0.8"},
}

// Workloads are plotted as marks only; the x axis is categorical.
func GetWorkloadStyle(index int) PlotStyle {
	if index < 0 {
		index = 0
	}
	return WorkloadStyles[index%len(WorkloadStyles)]
}

func (ps PlotStyle) ToTikzOptions() string {
	options := ps.Color + ",only marks"
	if ps.Mark != "none" && ps.Mark != "" {
		options += ",mark=" + ps.Mark
		if ps.MarkOptions != "" {
			options += ",mark options={" + ps.MarkOptions + "}"
		}
	}
	return options
}

// ToLineOptions draws the style with its line, used for the baseline.
func (ps PlotStyle) ToLineOptions() string {
	options := ps.Color
	if ps.LineStyle != "" {
		options += "," + ps.LineStyle
	}
	if ps.LineWidth != "" {
		options += "," + ps.LineWidth
	}
	return options
}
