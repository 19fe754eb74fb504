package config

// DefaultMetricsArgs are appended to the profiler prefix in the metrics pass.
var DefaultMetricsArgs = []string{
	"--timeout", "180",
	"--metrics", "achieved_occupancy,ipc,sm_efficiency,dram_write_transactions,dram_write_throughput,dram_read_transactions,dram_read_throughput,dram_utilization,flop_count_dp",
}

// LegacyModelNames are the substrings the finish-time aggregator looks for in
// log directory names when no catalog is supplied.
var LegacyModelNames = []string{
	"pos_cmd",
	"mt1",
	"mt2",
	"lm_cmd",
	"resnet",
	"googlenet",
	"mobilenetv2",
	"vgg19",
	"lm_large",
}

func imageClassifier(model string) WorkloadConfig {
	return WorkloadConfig{
		Program: "python",
		Args:    []string{"image_classifier.py", "--model", model, "--use_cuda", "True"},
	}
}

// DefaultConfig returns the built-in catalog: three vision models, three
// language models, each alone, each paired with itself, and a set of
// cross-model pairs.
func DefaultConfig() *BenchmarkConfig {
	cfg := &BenchmarkConfig{
		Experiment: ExperimentInfo{
			Name:        "gpu-interference",
			Description: "Co-located training throughput on a shared GPU",
		},
		Workloads: map[string]WorkloadConfig{
			"googlenet_cmd":   imageClassifier("googlenet"),
			"mobilenetv2_cmd": imageClassifier("mobilenet"),
			"vgg19_cmd":       imageClassifier("vgg19"),
			"pos_cmd": {
				Program: "python",
				Args:    []string{"languages.py", "--model", "lstm", "--dataset", "ud-eng", "--task", "pos", "--use_cuda", "True"},
			},
			"mt1_cmd": {
				Program: "python",
				Args:    []string{"languages.py", "--model", "lstm", "--dataset", "nc_zhen", "--task", "mt", "--batch_size", "32", "--use_cuda", "True"},
			},
			"mt2_cmd": {
				Program: "python",
				Args:    []string{"languages.py", "--model", "transformer", "--dataset", "nc_zhen", "--task", "mt", "--batch_size", "16", "--use_cuda", "True"},
			},
		},
		Sets: []ExperimentSet{
			{Workloads: []string{"googlenet_cmd"}},
			{Workloads: []string{"mobilenetv2_cmd"}},
			{Workloads: []string{"vgg19_cmd"}},
			{Workloads: []string{"pos_cmd"}},
			{Workloads: []string{"mt1_cmd"}},
			{Workloads: []string{"mt2_cmd"}},
			{Workloads: []string{"googlenet_cmd", "googlenet_cmd"}},
			{Workloads: []string{"mobilenetv2_cmd", "mobilenetv2_cmd"}},
			{Workloads: []string{"vgg19_cmd", "vgg19_cmd"}},
			{Workloads: []string{"pos_cmd", "pos_cmd"}},
			{Workloads: []string{"mt1_cmd", "mt1_cmd"}},
			{Workloads: []string{"googlenet_cmd", "mobilenetv2_cmd"}},
			{Workloads: []string{"googlenet_cmd", "vgg19_cmd"}},
			{Workloads: []string{"googlenet_cmd", "pos_cmd"}},
			{Workloads: []string{"googlenet_cmd", "mt1_cmd"}},
			{Workloads: []string{"mobilenetv2_cmd", "vgg19_cmd"}},
			{Workloads: []string{"mobilenetv2_cmd", "pos_cmd"}},
			{Workloads: []string{"mobilenetv2_cmd", "mt1_cmd"}},
			{Workloads: []string{"mobilenetv2_cmd", "mt2_cmd"}},
		},
		Profiling: ProfilingConfig{
			Metrics:  MetricsConfig{Enabled: true, Args: append([]string(nil), DefaultMetricsArgs...)},
			Timeline: TimelineConfig{Enabled: true},
		},
		GPUSampler:    GPUSamplerConfig{Enabled: true},
		SystemTracker: SystemTrackerConfig{Enabled: true},
		workloadOrder: []string{"googlenet_cmd", "mobilenetv2_cmd", "vgg19_cmd", "pos_cmd", "mt1_cmd", "mt2_cmd"},
	}
	applyDefaults(cfg)
	return cfg
}
