package config

import "testing"

func TestCatalogChecksum_DeterministicAcrossMapOrder(t *testing.T) {
	cfg1 := &BenchmarkConfig{Experiment: ExperimentInfo{Name: "t", Repetitions: 2}}
	cfg1.Workloads = map[string]WorkloadConfig{
		"b": {Program: "python", Args: []string{"b.py"}},
		"a": {Program: "python", Args: []string{"a.py"}},
	}
	cfg1.Sets = []ExperimentSet{{Workloads: []string{"a"}}, {Workloads: []string{"a", "b"}}}

	cfg2 := &BenchmarkConfig{Experiment: ExperimentInfo{Name: "other-name", Root: "/elsewhere", Repetitions: 2}}
	// Same workloads but inserted in opposite order.
	cfg2.Workloads = map[string]WorkloadConfig{
		"a": cfg1.Workloads["a"],
		"b": cfg1.Workloads["b"],
	}
	cfg2.Sets = cfg1.Sets

	s1, err := CatalogChecksum(cfg1)
	if err != nil {
		t.Fatalf("CatalogChecksum(cfg1): %v", err)
	}
	s2, err := CatalogChecksum(cfg2)
	if err != nil {
		t.Fatalf("CatalogChecksum(cfg2): %v", err)
	}
	if s1 != s2 {
		t.Fatalf("checksum differs: %s vs %s", s1, s2)
	}
	if len(s1) != 6 {
		t.Fatalf("checksum length = %d, want 6", len(s1))
	}
}

func TestCatalogChecksum_ChangesWithSets(t *testing.T) {
	cfg := &BenchmarkConfig{Experiment: ExperimentInfo{Repetitions: 2}}
	cfg.Workloads = map[string]WorkloadConfig{"a": {Program: "p"}}
	cfg.Sets = []ExperimentSet{{Workloads: []string{"a"}}}
	s1, _ := CatalogChecksum(cfg)

	cfg.Sets = append(cfg.Sets, ExperimentSet{Workloads: []string{"a", "a"}})
	s2, _ := CatalogChecksum(cfg)
	if s1 == s2 {
		t.Fatalf("checksum did not change after adding a set: %s", s1)
	}
}
