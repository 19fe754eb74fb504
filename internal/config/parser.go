package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"interference-bench/internal/logging"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*BenchmarkConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*BenchmarkConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	config, err := ParseConfig([]byte(expandEnvVars(originalContent)))
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	return config, originalContent, nil
}

// ParseConfig decodes an already expanded catalog, fills defaults and
// validates it.
func ParseConfig(data []byte) (*BenchmarkConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	var config BenchmarkConfig
	if err := root.Decode(&config); err != nil {
		return nil, err
	}
	config.workloadOrder = mappingKeys(&root, "workloads")

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// UnmarshalYAML accepts both `- [a, b]` and `- {label: x, workloads: [a, b]}`.
func (s *ExperimentSet) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		s.Workloads = names
		return nil
	}
	type plain ExperimentSet
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = ExperimentSet(p)
	return nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// mappingKeys returns the keys of the top-level mapping `key`, in document order.
func mappingKeys(root *yaml.Node, key string) []string {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != key {
			continue
		}
		m := doc.Content[i+1]
		if m.Kind != yaml.MappingNode {
			return nil
		}
		keys := make([]string, 0, len(m.Content)/2)
		for j := 0; j+1 < len(m.Content); j += 2 {
			keys = append(keys, m.Content[j].Value)
		}
		return keys
	}
	return nil
}

func applyDefaults(config *BenchmarkConfig) {
	e := &config.Experiment
	if e.Root == "" {
		e.Root = DefaultRoot
	}
	if e.DatasetDir == "" {
		e.DatasetDir = "."
	}
	if e.Repetitions == 0 {
		e.Repetitions = DefaultRepetitions
	}
	if e.PollInterval == 0 {
		e.PollInterval = DefaultPollInterval
	}
	if e.ShareOverhead == 0 {
		e.ShareOverhead = DefaultShareOverhead
	}
	if e.Workdir == "" {
		e.Workdir = WorkdirInherit
	}
	if e.LogLevel == "" {
		e.LogLevel = "info"
	}

	p := &config.Profiling
	if p.Program == "" {
		p.Program = DefaultProfiler
	}
	if p.Metrics.PollInterval == 0 {
		p.Metrics.PollInterval = DefaultMetricsPoll
	}
	if p.Timeline.Timeout == 0 {
		p.Timeline.Timeout = DefaultTimelineTimeout
	}
	if p.Timeline.PollInterval == 0 {
		p.Timeline.PollInterval = DefaultTimelinePoll
	}

	if config.GPUSampler.Program == "" {
		config.GPUSampler.Program = DefaultGPUSampler
	}
	if config.GPUSampler.IntervalMS == 0 {
		config.GPUSampler.IntervalMS = DefaultGPUSamplerMS
	}

	if config.SystemTracker.Interval == 0 {
		config.SystemTracker.Interval = DefaultTrackerInterval
	}
}

func validateConfig(config *BenchmarkConfig) error {
	e := config.Experiment
	if e.Name == "" {
		return fmt.Errorf("experiment name is required")
	}
	if e.Repetitions < 0 {
		return fmt.Errorf("repetitions must not be negative")
	}
	if e.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if e.Workdir != WorkdirLaunch && e.Workdir != WorkdirInherit {
		return fmt.Errorf("workdir must be %q or %q, got %q", WorkdirLaunch, WorkdirInherit, e.Workdir)
	}

	if len(config.Workloads) == 0 {
		return fmt.Errorf("at least one workload must be defined")
	}
	for name, w := range config.Workloads {
		if w.Program == "" {
			return fmt.Errorf("workload %s: program is required", name)
		}
	}

	if len(config.Sets) == 0 {
		return fmt.Errorf("at least one experiment set must be defined")
	}
	for i, set := range config.Sets {
		if len(set.Workloads) == 0 {
			return fmt.Errorf("set %d: no workloads", i)
		}
		// 1/n - overhead must stay positive for the share hint to make sense.
		if share := 1.0/float64(len(set.Workloads)) - e.ShareOverhead; share <= 0 {
			return fmt.Errorf("set %d: %d workloads leave no GPU share after %.3f overhead", i, len(set.Workloads), e.ShareOverhead)
		}
		for _, name := range set.Workloads {
			if _, ok := config.Workloads[name]; !ok {
				return fmt.Errorf("set %d: unknown workload %q", i, name)
			}
		}
	}

	if config.Profiling.Timeline.KillAfter < 0 {
		return fmt.Errorf("timeline kill_after must not be negative")
	}
	if config.GPUSampler.IntervalMS < 0 {
		return fmt.Errorf("gpu_sampler interval_ms must not be negative")
	}

	return nil
}

// ParseSetSelection parses a selection like "0,3,5-7" into set indices.
func ParseSetSelection(spec string, numSets int) ([]int, error) {
	var sets []int
	seen := make(map[int]bool)

	add := func(i int) error {
		if i < 0 || i >= numSets {
			return fmt.Errorf("set index %d out of range [0, %d)", i, numSets)
		}
		if !seen[i] {
			sets = append(sets, i)
			seen[i] = true
		}
		return nil
	}

	parts := strings.Split(spec, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid set range: %s", part)
			}

			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid set range start: %s", rangeParts[0])
			}

			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid set range end: %s", rangeParts[1])
			}

			if start > end {
				return nil, fmt.Errorf("invalid set range: start > end (%d > %d)", start, end)
			}

			for i := start; i <= end; i++ {
				if err := add(i); err != nil {
					return nil, err
				}
			}
		} else {
			i, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid set index: %s", part)
			}
			if err := add(i); err != nil {
				return nil, err
			}
		}
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("no sets selected")
	}
	sort.Ints(sets)
	return sets, nil
}
