package cmd

import (
	"fmt"
	"time"

	"interference-bench/internal/aggregator"
	"interference-bench/internal/config"
	"interference-bench/internal/logging"

	"github.com/spf13/cobra"
)

const Version = "1.0.0"

type runOptions struct {
	configFile   string
	sets         string
	pollInterval time.Duration
	repetitions  int
	root         string
	logLevelSet  bool
}

type plotOptions struct {
	spoolDir    string
	experiment  string
	plotFile    string
	max         float64
	onlyPlot    bool
	onlyWrapper bool
}

type aggregateOptions struct {
	configFile string
	root       string
	out        string
	workers    int
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var logLevel string
	var run runOptions
	var agg aggregateOptions
	var plt plotOptions
	var validateFile string

	rootCmd := &cobra.Command{
		Use:           "interference-bench",
		Short:         "GPU co-location interference benchmark",
		Long:          "Runs sets of training workloads side by side on a shared GPU and records how their throughput interferes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			loadEnvironment()
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the experiment catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			run.logLevelSet = cmd.Flags().Changed("log-level")
			return runExperiment(cmd.Context(), run)
		},
	}
	runCmd.Flags().StringVarP(&run.configFile, "config", "c", "", "Path to catalog file (built-in catalog when omitted)")
	runCmd.Flags().StringVar(&run.sets, "sets", "", "Comma-separated set indices or ranges to run, e.g. 0,3,5-7")
	runCmd.Flags().DurationVar(&run.pollInterval, "poll-interval", 0, "Override the workload poll interval")
	runCmd.Flags().IntVar(&run.repetitions, "repetitions", 0, "Override the number of repetitions per set")
	runCmd.Flags().StringVar(&run.root, "root", "", "Override the experiment output root")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateCatalog(cmd, validateFile)
		},
	}
	validateCmd.Flags().StringVarP(&validateFile, "config", "c", "", "Path to catalog file")
	validateCmd.MarkFlagRequired("config")

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Collect workload run times into " + aggregator.CSVName,
		RunE: func(cmd *cobra.Command, args []string) error {
			return aggregateRuntimes(cmd.Context(), agg)
		},
	}
	aggregateCmd.Flags().StringVarP(&agg.configFile, "config", "c", "", "Catalog whose workload names are matched (legacy names when omitted)")
	aggregateCmd.Flags().StringVar(&agg.root, "root", "", "Experiment tree to scan (catalog root, or "+config.DefaultRoot+")")
	aggregateCmd.Flags().StringVar(&agg.out, "out", aggregator.CSVName, "Output CSV path")
	aggregateCmd.Flags().IntVar(&agg.workers, "workers", config.DefaultAggregateWorker, "Number of logs parsed in parallel")

	plotCmd := &cobra.Command{
		Use:   "plot",
		Short: "Generate a TikZ slowdown plot from spooled sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			var maxOverride *float64
			if cmd.Flags().Changed("max") {
				maxOverride = &plt.max
			}
			return generateSlowdownPlot(cmd, plt, maxOverride)
		},
	}
	plotCmd.Flags().StringVar(&plt.spoolDir, "spool", "", "Spool directory to read (INTERFERENCE_BENCH_SPOOL_DIR or ./spool when omitted)")
	plotCmd.Flags().StringVarP(&plt.experiment, "experiment", "e", "", "Only plot sets of this experiment")
	plotCmd.Flags().StringVar(&plt.plotFile, "plot-file", "slowdown.tikz", "Plot file name referenced by the wrapper")
	plotCmd.Flags().Float64Var(&plt.max, "max", 0, "Override the y axis maximum")
	plotCmd.Flags().BoolVar(&plt.onlyPlot, "only-plot", false, "Print only the plot")
	plotCmd.Flags().BoolVar(&plt.onlyWrapper, "only-wrapper", false, "Print only the wrapper")
	plotCmd.MarkFlagsMutuallyExclusive("only-plot", "only-wrapper")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "interference-bench "+Version)
		},
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(plotCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}

func Execute() error {
	return NewRootCommand().Execute()
}

func validateCatalog(cmd *cobra.Command, configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	checksum, _ := config.CatalogChecksum(cfg)
	logger.WithField("config_file", configFile).Info("Configuration is valid")
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d workloads, %d sets, checksum %s\n",
		cfg.Experiment.Name, len(cfg.Workloads), len(cfg.Sets), checksum)
	return nil
}
