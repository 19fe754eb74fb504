package cmd

import (
	"fmt"

	"interference-bench/internal/logging"
	"interference-bench/internal/plot"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func generateSlowdownPlot(cmd *cobra.Command, opts plotOptions, maxOverride *float64) error {
	logger := logging.GetLogger()
	logger.WithFields(logrus.Fields{
		"spool_dir":  opts.spoolDir,
		"experiment": opts.experiment,
	}).Debug("Generating slowdown plot")

	plotMgr, err := plot.NewPlotManager(opts.spoolDir)
	if err != nil {
		logger.WithError(err).Error("Failed to create plot manager")
		return fmt.Errorf("failed to create plot manager: %w", err)
	}

	plotTikz, wrapperTex, err := plotMgr.GenerateSlowdownPlot(opts.experiment, opts.plotFile, maxOverride)
	if err != nil {
		logger.WithError(err).Error("Failed to generate plot")
		return fmt.Errorf("failed to generate plot: %w", err)
	}

	out := cmd.OutOrStdout()
	showPlot := !opts.onlyWrapper
	showWrapper := !opts.onlyPlot

	if showPlot {
		fmt.Fprintln(out, plotTikz)
		if showWrapper {
			fmt.Fprintln(out)
		}
	}
	if showWrapper {
		fmt.Fprintln(out, wrapperTex)
	}
	return nil
}
