// Package aggregator collects the wall-clock run time of every workload
// launch under an experiment tree into application_time.csv.
package aggregator

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"interference-bench/internal/config"
	"interference-bench/internal/database"
	"interference-bench/internal/launcher"
	"interference-bench/internal/logging"
	"interference-bench/internal/logparser"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	CSVName = "application_time.csv"

	timelineMarker = "-timeline"
)

var CSVHeader = []string{"model_runs", "model", "application_runtime(s)"}

var ErrUnknownModel = errors.New("no known model in log path")

type Row struct {
	SetID   string
	Model   string
	Runtime float64
}

func (r Row) ApplicationTime() database.ApplicationTime {
	return database.ApplicationTime{SetID: r.SetID, Model: r.Model, RuntimeSeconds: r.Runtime}
}

// ModelNames returns the names matched against log paths: the catalog's
// workloads in declaration order, or the legacy list without a catalog.
func ModelNames(cfg *config.BenchmarkConfig) []string {
	if cfg == nil || len(cfg.Workloads) == 0 {
		return append([]string(nil), config.LegacyModelNames...)
	}
	return cfg.WorkloadNames()
}

// FindErrorLogs lists every err.log under root that belongs to an unprofiled
// launch.
func FindErrorLogs(root string) ([]string, error) {
	var logs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.Contains(filepath.Dir(path), launcher.ProfiledPrefix) {
			return nil
		}
		name := d.Name()
		if strings.Contains(name, launcher.ErrorLogName) && !strings.Contains(name, timelineMarker) {
			logs = append(logs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return logs, nil
}

// MatchModel returns the last name in models contained in dir.
func MatchModel(dir string, models []string) (string, bool) {
	model, found := "", false
	for _, m := range models {
		if strings.Contains(dir, m) {
			model, found = m, true
		}
	}
	return model, found
}

// resolve reads one launch. The set id is the name of the directory two
// levels above the log.
func resolve(errLog string, models []string) (Row, error) {
	dir := filepath.Dir(errLog)
	row := Row{SetID: filepath.Base(filepath.Dir(dir))}

	model, ok := MatchModel(dir, models)
	if !ok {
		return row, fmt.Errorf("%s: %w", dir, ErrUnknownModel)
	}
	row.Model = model

	runtime, err := logparser.FinishTime(errLog)
	if err != nil {
		var outErr error
		runtime, outErr = logparser.FinishTime(filepath.Join(dir, launcher.OutputLogName))
		if outErr != nil {
			return row, outErr
		}
	}
	row.Runtime = runtime
	return row, nil
}

// Aggregate resolves every launch under root using a bounded worker pool.
// Launches that cannot be resolved are logged and skipped.
func Aggregate(ctx context.Context, root string, models []string, workers int) ([]Row, error) {
	logger := logging.GetLogger()
	if workers <= 0 {
		workers = config.DefaultAggregateWorker
	}

	logs, err := FindErrorLogs(root)
	if err != nil {
		return nil, err
	}

	found := make([]*Row, len(logs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range logs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, err := resolve(path, models)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"log": path,
				}).WithError(err).Warn("Skipping launch")
				return nil
			}
			found[i] = &row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(found))
	for _, r := range found {
		if r != nil {
			rows = append(rows, *r)
		}
	}
	SortRows(rows)

	logger.WithFields(logrus.Fields{
		"root":    root,
		"logs":    len(logs),
		"rows":    len(rows),
		"skipped": len(logs) - len(rows),
	}).Info("Aggregated application run times")
	return rows, nil
}

// SortRows orders rows by set id (numerically when both ids are numbers),
// then model, then runtime.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.SetID != b.SetID {
			ai, aerr := strconv.Atoi(a.SetID)
			bi, berr := strconv.Atoi(b.SetID)
			if aerr == nil && berr == nil {
				return ai < bi
			}
			return a.SetID < b.SetID
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.Runtime < b.Runtime
	})
}

func FormatRuntime(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes rows with the application_time.csv header.
func WriteCSV(path string, rows []Row) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{r.SetID, r.Model, FormatRuntime(r.Runtime)}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
