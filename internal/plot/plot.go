package plot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"interference-bench/internal/database"
	"interference-bench/internal/logging"
	"interference-bench/internal/plot/slowdown"

	"github.com/sirupsen/logrus"
)

type PlotManager struct {
	spoolDir          string
	slowdownGenerator *slowdown.SlowdownPlotGenerator
	logger            *logrus.Logger
}

// NewPlotManager plots from the artifacts under spoolDir.
func NewPlotManager(spoolDir string) (*PlotManager, error) {
	if spoolDir == "" {
		spoolDir = database.DefaultSpoolDir()
	}
	if _, err := os.Stat(spoolDir); err != nil {
		return nil, fmt.Errorf("spool directory: %w", err)
	}
	logger := logging.GetLogger()
	return &PlotManager{
		spoolDir:          spoolDir,
		slowdownGenerator: slowdown.NewSlowdownPlotGenerator(logger),
		logger:            logger,
	}, nil
}

// LoadArtifacts reads every spooled set, keeping only those of experiment
// when it is not empty. Unreadable files are skipped with a warning.
func (pm *PlotManager) LoadArtifacts(experiment string) ([]*database.SpoolArtifact, error) {
	entries, err := os.ReadDir(pm.spoolDir)
	if err != nil {
		return nil, err
	}
	var artifacts []*database.SpoolArtifact
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json.gz") {
			continue
		}
		path := filepath.Join(pm.spoolDir, entry.Name())
		artifact, err := database.ReadSpoolArtifact(path)
		if err != nil {
			pm.logger.WithField("file", path).WithError(err).Warn("Skipping unreadable spool artifact")
			continue
		}
		if experiment != "" && artifact.ExperimentName != experiment {
			continue
		}
		artifacts = append(artifacts, artifact)
	}
	pm.logger.WithFields(logrus.Fields{
		"spool_dir":  pm.spoolDir,
		"experiment": experiment,
		"artifacts":  len(artifacts),
	}).Debug("Loaded spool artifacts")
	return artifacts, nil
}

func (pm *PlotManager) GenerateSlowdownPlot(experiment, plotFileName string, maxOverride *float64) (plotTikz, wrapperTex string, err error) {
	artifacts, err := pm.LoadArtifacts(experiment)
	if err != nil {
		return "", "", err
	}
	return pm.slowdownGenerator.Generate(artifacts, slowdown.PlotOptions{
		PlotFileName: plotFileName,
		MaxOverride:  maxOverride,
	})
}
