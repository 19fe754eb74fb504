package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"interference-bench/internal/config"
	"interference-bench/internal/host"
	"interference-bench/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	measurementProcess = "repetition_result"
	measurementSummary = "set_summary"
	measurementAppTime = "application_time"
	measurementMeta    = "benchmark_meta"
)

// BenchmarkMetadata describes one invocation of the experiment driver.
type BenchmarkMetadata struct {
	ExperimentName  string `json:"experiment_name"`
	Description     string `json:"description"`
	CatalogChecksum string `json:"catalog_checksum"`
	TotalSets       int    `json:"total_sets"`
	Repetitions     int    `json:"repetitions"`
	DriverVersion   string `json:"driver_version"`
	Started         string `json:"started"`  // RFC3339 timestamp
	Finished        string `json:"finished"` // RFC3339 timestamp
	DurationSeconds int64  `json:"duration_seconds"`
	Hostname        string `json:"hostname"`
	OSInfo          string `json:"os_info"`
	KernelVersion   string `json:"kernel_version"`
	CPUModel        string `json:"cpu_model"`
	TotalCPUCores   int    `json:"total_cpu_cores"`
	GPUs            string `json:"gpus"`
	ConfigFile      string `json:"config_file"`
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
	logger   *logrus.Logger
}

func NewInfluxDBClient(config config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(config.Host, config.Password)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", config.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}

	if health.Status != "pass" {
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    config.Host,
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   config.Host,
		"bucket": config.Name,
		"org":    config.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(config.Org, config.Name),
		bucket:   config.Name,
		org:      config.Org,
		logger:   logger,
	}, nil
}

func processPoint(r ProcessResult) *write.Point {
	return influxdb2.NewPoint(measurementProcess,
		map[string]string{
			"experiment": r.ExperimentName,
			"set_index":  strconv.Itoa(r.SetIndex),
			"repetition": strconv.Itoa(r.Repetition),
			"slot":       strconv.Itoa(r.Slot),
			"workload":   r.Workload,
		},
		map[string]interface{}{
			"pid":               r.PID,
			"launch_id":         r.LaunchID,
			"steps":             r.Steps,
			"mean_step_seconds": r.MeanStepSeconds,
			"runtime_seconds":   r.Runtime.Seconds(),
			"exit_code":         r.ExitCode,
		},
		r.Finished)
}

func summaryPoints(s SetSummary) []*write.Point {
	points := make([]*write.Point, 0, len(s.Slots))
	for slot, ra := range s.Slots {
		workload := ""
		if slot < len(s.Workloads) {
			workload = s.Workloads[slot]
		}
		fields := map[string]interface{}{
			"accumulated":       ra.Accumulated,
			"mean_steps":        ra.MeanSteps,
			"mean_step_seconds": ra.MeanStepSeconds,
			"repetitions":       s.Repetitions,
			"duration_seconds":  s.EndTime.Sub(s.StartTime).Seconds(),
		}
		if rss, ok := s.PeakRSSBytes[slot]; ok {
			fields["peak_rss_bytes"] = rss
		}
		points = append(points, influxdb2.NewPoint(measurementSummary,
			map[string]string{
				"experiment": s.ExperimentName,
				"set_index":  strconv.Itoa(s.SetIndex),
				"slot":       strconv.Itoa(slot),
				"workload":   workload,
				"set_size":   strconv.Itoa(len(s.Workloads)),
			},
			fields,
			s.EndTime))
	}
	return points
}

func (idb *InfluxDBClient) WriteProcessResult(ctx context.Context, r ProcessResult) error {
	if err := idb.writeAPI.WritePoint(ctx, processPoint(r)); err != nil {
		return fmt.Errorf("failed to write process result: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) WriteSetSummary(ctx context.Context, s SetSummary) error {
	points := summaryPoints(s)
	if len(points) == 0 {
		return nil
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write set summary: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) WriteApplicationTimes(ctx context.Context, experiment string, rows []ApplicationTime) error {
	now := time.Now()
	points := make([]*write.Point, 0, len(rows))
	for _, row := range rows {
		points = append(points, influxdb2.NewPoint(measurementAppTime,
			map[string]string{
				"experiment": experiment,
				"set_id":     row.SetID,
				"model":      row.Model,
			},
			map[string]interface{}{
				"runtime_seconds": row.RuntimeSeconds,
			},
			now))
	}
	if len(points) == 0 {
		return nil
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write application times: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) WriteMetadata(ctx context.Context, metadata *BenchmarkMetadata) error {
	point := influxdb2.NewPoint(measurementMeta,
		map[string]string{
			"experiment":       metadata.ExperimentName,
			"catalog_checksum": metadata.CatalogChecksum,
		},
		map[string]interface{}{
			"description":      metadata.Description,
			"total_sets":       metadata.TotalSets,
			"repetitions":      metadata.Repetitions,
			"driver_version":   metadata.DriverVersion,
			"started":          metadata.Started,
			"finished":         metadata.Finished,
			"duration_seconds": metadata.DurationSeconds,
			"hostname":         metadata.Hostname,
			"os_info":          metadata.OSInfo,
			"kernel_version":   metadata.KernelVersion,
			"cpu_model":        metadata.CPUModel,
			"total_cpu_cores":  metadata.TotalCPUCores,
			"gpus":             metadata.GPUs,
			"config_file":      metadata.ConfigFile,
		},
		time.Now())

	if err := idb.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// CollectBenchmarkMetadata builds the metadata record for a driver run.
func CollectBenchmarkMetadata(cfg *config.BenchmarkConfig, configFile string, hostCfg *host.HostConfig, startTime, endTime time.Time, driverVersion string) *BenchmarkMetadata {
	checksum, _ := config.CatalogChecksum(cfg)
	meta := &BenchmarkMetadata{
		ExperimentName:  cfg.Experiment.Name,
		Description:     cfg.Experiment.Description,
		CatalogChecksum: checksum,
		TotalSets:       len(cfg.Sets),
		Repetitions:     cfg.Experiment.Repetitions,
		DriverVersion:   driverVersion,
		Started:         startTime.Format(time.RFC3339),
		Finished:        endTime.Format(time.RFC3339),
		DurationSeconds: int64(endTime.Sub(startTime).Seconds()),
		ConfigFile:      configFile,
	}
	if hostCfg != nil {
		meta.Hostname = hostCfg.Hostname
		meta.OSInfo = hostCfg.OSInfo
		meta.KernelVersion = hostCfg.KernelVersion
		meta.CPUModel = hostCfg.CPUModel
		meta.TotalCPUCores = hostCfg.TotalCores
		meta.GPUs = hostCfg.GPUNames()
	}
	return meta
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
