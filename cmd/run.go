package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"interference-bench/internal/aggregator"
	"interference-bench/internal/config"
	"interference-bench/internal/database"
	"interference-bench/internal/driver"
	"interference-bench/internal/host"
	"interference-bench/internal/launcher"
	"interference-bench/internal/logging"
	"interference-bench/internal/supervisor"

	"github.com/sirupsen/logrus"
)

// loadCatalog loads the catalog file, or the built-in catalog when no file
// is given.
func loadCatalog(configFile string) (*config.BenchmarkConfig, string, error) {
	if configFile == "" {
		logging.GetLogger().Info("No catalog given, using the built-in catalog")
		return config.DefaultConfig(), "", nil
	}
	cfg, content, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, content, nil
}

func applyRunOverrides(cfg *config.BenchmarkConfig, opts runOptions) ([]int, error) {
	if opts.pollInterval < 0 || opts.repetitions < 0 {
		return nil, fmt.Errorf("poll interval and repetitions must not be negative")
	}
	if opts.pollInterval > 0 {
		cfg.Experiment.PollInterval = opts.pollInterval
	}
	if opts.repetitions > 0 {
		cfg.Experiment.Repetitions = opts.repetitions
	}
	if opts.root != "" {
		cfg.Experiment.Root = opts.root
	}
	if opts.sets == "" {
		return nil, nil
	}
	return config.ParseSetSelection(opts.sets, len(cfg.Sets))
}

// connectDatabase returns the InfluxDB client when the catalog configures
// one. A failed connection is logged and the run continues on the spool.
func connectDatabase(cfg *config.BenchmarkConfig) *database.InfluxDBClient {
	if !cfg.Data.DB.Enabled() {
		logging.GetLogger().Debug("No database configured, results go to the spool only")
		return nil
	}
	client, err := database.NewInfluxDBClient(cfg.Data.DB)
	if err != nil {
		logging.GetLogger().WithError(err).Warn("Database unavailable, results go to the spool only")
		return nil
	}
	return client
}

func runExperiment(ctx context.Context, opts runOptions) error {
	logger := logging.GetLogger()

	cfg, content, err := loadCatalog(opts.configFile)
	if err != nil {
		logger.WithField("config_file", opts.configFile).WithError(err).Error("Failed to load configuration")
		return err
	}

	if !opts.logLevelSet {
		if err := logging.SetLogLevel(cfg.Experiment.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Experiment.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		}
	}
	if cfg.Experiment.PollLogLevel != "" {
		if err := logging.SetSupervisorLogLevel(cfg.Experiment.PollLogLevel); err != nil {
			logger.WithField("poll_log_level", cfg.Experiment.PollLogLevel).WithError(err).Warn("Invalid poll log level in config, ignoring")
		}
	}

	sets, err := applyRunOverrides(cfg, opts)
	if err != nil {
		return err
	}

	registry, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("failed to build workload registry: %w", err)
	}

	hostConfig, err := host.GetHostConfig()
	if err != nil {
		logger.WithError(err).Warn("Failed to read host configuration")
	}

	recorder := &database.MemorySink{}
	sinks := database.MultiSink{recorder}
	influx := connectDatabase(cfg)
	if influx != nil {
		defer influx.Close()
		sinks = append(sinks, influx)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l := launcher.New(registry, launcher.Options{
		DatasetDir:   cfg.Experiment.DatasetDir,
		Profiler:     cfg.Profiling.Program,
		UseLaunchDir: cfg.Experiment.Workdir == config.WorkdirLaunch,
	})
	sup := supervisor.New(l, driver.NewSupervisorOptions(cfg, sinks))

	spoolDir := cfg.Data.SpoolDir
	if spoolDir == "" {
		spoolDir = database.DefaultSpoolDir()
	}
	d := driver.New(cfg, sup, driver.Options{
		Sets:          sets,
		SpoolDir:      spoolDir,
		ConfigContent: content,
		Host:          hostConfig,
		Recorder:      recorder,
	})

	start := time.Now()
	runErr := d.Run(ctx)
	end := time.Now()

	if influx != nil {
		metadata := database.CollectBenchmarkMetadata(cfg, opts.configFile, hostConfig, start, end, Version)
		if err := influx.WriteMetadata(context.Background(), metadata); err != nil {
			logger.WithError(err).Warn("Failed to export metadata")
		}
	}

	if errors.Is(runErr, supervisor.ErrInterrupted) {
		logger.Warn("Experiment interrupted, partial results remain on disk")
	}
	if runErr != nil {
		return runErr
	}

	logger.WithFields(logrus.Fields{
		"root":     cfg.Experiment.Root,
		"duration": end.Sub(start).Round(time.Second),
	}).Info("Experiment finished")
	return nil
}

func aggregateRuntimes(ctx context.Context, opts aggregateOptions) error {
	logger := logging.GetLogger()

	var cfg *config.BenchmarkConfig
	if opts.configFile != "" {
		var err error
		cfg, err = config.LoadConfig(opts.configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	root := opts.root
	if root == "" {
		root = config.DefaultRoot
		if cfg != nil {
			root = cfg.Experiment.Root
		}
	}
	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("experiment root: %w", err)
	}

	rows, err := aggregator.Aggregate(ctx, root, aggregator.ModelNames(cfg), opts.workers)
	if err != nil {
		return err
	}
	if err := aggregator.WriteCSV(opts.out, rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.out, err)
	}
	logger.WithFields(logrus.Fields{
		"rows": len(rows),
		"out":  opts.out,
	}).Info("Wrote application run times")

	if cfg != nil {
		if influx := connectDatabase(cfg); influx != nil {
			defer influx.Close()
			times := make([]database.ApplicationTime, 0, len(rows))
			for _, r := range rows {
				times = append(times, r.ApplicationTime())
			}
			if err := influx.WriteApplicationTimes(ctx, cfg.Experiment.Name, times); err != nil {
				logger.WithError(err).Warn("Failed to export application times")
			}
		}
	}
	return nil
}
