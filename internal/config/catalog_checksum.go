package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type catalogChecksumWorkload struct {
	Name    string   `json:"name"`
	Program string   `json:"program"`
	Args    []string `json:"args"`
}

type catalogChecksumPayload struct {
	Workloads   []catalogChecksumWorkload `json:"workloads"`
	Sets        [][]string                `json:"sets"`
	Repetitions int                       `json:"repetitions"`
}

// CatalogChecksum returns a short, stable checksum that identifies the
// workload catalog and the experiment sets that were run, independent of map
// order and of output paths.
//
// It computes MD5 over a canonical JSON representation and returns the first 6 hex
// characters (equivalent to `md5sum | cut -c1-6`).
func CatalogChecksum(cfg *BenchmarkConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	workloads := make([]catalogChecksumWorkload, 0, len(cfg.Workloads))
	for name, w := range cfg.Workloads {
		workloads = append(workloads, catalogChecksumWorkload{
			Name:    name,
			Program: w.Program,
			Args:    w.Args,
		})
	}
	sort.Slice(workloads, func(i, j int) bool {
		return workloads[i].Name < workloads[j].Name
	})

	sets := make([][]string, 0, len(cfg.Sets))
	for _, s := range cfg.Sets {
		sets = append(sets, s.Workloads)
	}

	payload := catalogChecksumPayload{
		Workloads:   workloads,
		Sets:        sets,
		Repetitions: cfg.Experiment.Repetitions,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
