package database

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"interference-bench/internal/config"
	"interference-bench/internal/host"
)

const spoolVersion = 1

// SpoolArtifact is the on-disk record of one finished experiment set. It is
// written whether or not a database is configured.
type SpoolArtifact struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	ExperimentName  string `json:"experiment_name"`
	SetIndex        int    `json:"set_index"`
	CatalogChecksum string `json:"catalog_checksum"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Host          *host.HostConfig `json:"host,omitempty"`
	ConfigContent string           `json:"config_content,omitempty"`

	Summary   *SetSummary     `json:"summary"`
	Processes []ProcessResult `json:"processes"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("INTERFERENCE_BENCH_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.CatalogChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf("set_%03d_%s_%s.json.gz",
		artifact.SetIndex,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadSpoolArtifact loads an artifact written by WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("decode spool artifact %s: %w", path, err)
	}
	return &artifact, nil
}

// BuildSpoolArtifact assembles the artifact for one set from its summary and
// the process results recorded while it ran.
func BuildSpoolArtifact(cfg *config.BenchmarkConfig, configContent string, hostCfg *host.HostConfig, summary *SetSummary, processes []ProcessResult) *SpoolArtifact {
	artifact := &SpoolArtifact{
		Version:       spoolVersion,
		CreatedAt:     time.Now(),
		Host:          hostCfg,
		ConfigContent: configContent,
		Summary:       summary,
		Processes:     processes,
	}
	if cfg != nil {
		artifact.ExperimentName = cfg.Experiment.Name
		if cs, err := config.CatalogChecksum(cfg); err == nil {
			artifact.CatalogChecksum = cs
		}
	}
	if summary != nil {
		artifact.SetIndex = summary.SetIndex
		artifact.StartTime = summary.StartTime
		artifact.EndTime = summary.EndTime
		if artifact.ExperimentName == "" {
			artifact.ExperimentName = summary.ExperimentName
		}
	}
	return artifact
}
