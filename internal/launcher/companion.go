package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"interference-bench/internal/logging"

	"github.com/sirupsen/logrus"
)

// Companion is a background tool (GPU sampler, timeline profiler) that runs
// alongside an experiment with stdout and stderr appended to one log.
type Companion struct {
	*process

	Name    string
	LogPath string
	Argv    []string

	files *closer
}

func StartCompanion(name string, argv []string, logPath string) (*Companion, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("companion %s: empty command", name)
	}
	logFile, err := openLog(logPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	proc, err := startProcess(cmd)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"companion": name,
		"pid":       proc.PID(),
		"command":   strings.Join(argv, " "),
		"log":       logPath,
	}).Debug("Companion process started")

	return &Companion{
		process: proc,
		Name:    name,
		LogPath: logPath,
		Argv:    append([]string(nil), argv...),
		files:   &closer{files: []*os.File{logFile}},
	}, nil
}

func (c *Companion) Running() bool {
	return !c.Exited()
}

// Close closes the companion's log file. Safe to call more than once.
func (c *Companion) Close() error {
	return c.files.Close()
}

// Stop kills the companion if it is still running, waits for it to be
// reaped and closes its log.
func (c *Companion) Stop(timeout time.Duration) error {
	var err error
	if c.Running() {
		err = c.KillAndWait(timeout)
	}
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Wait blocks until the companion exits on its own. While waiting it logs a
// line every poll interval. When killAfter is positive and elapses first the
// companion is killed; the returned bool reports whether that happened. A
// cancelled ctx also kills it and returns ctx.Err().
func (c *Companion) Wait(ctx context.Context, poll, killAfter time.Duration) (bool, error) {
	if c.Exited() {
		return false, nil
	}
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if killAfter > 0 {
		timer := time.NewTimer(killAfter)
		defer timer.Stop()
		deadline = timer.C
	}

	logger := logging.GetSupervisorLogger()
	for {
		select {
		case <-c.Done():
			return false, nil
		case <-ticker.C:
			logger.WithFields(logrus.Fields{
				"companion": c.Name,
				"pid":       c.PID(),
			}).Info("Waiting for companion to finish")
		case <-deadline:
			logger.WithFields(logrus.Fields{
				"companion":  c.Name,
				"pid":        c.PID(),
				"kill_after": killAfter,
			}).Warn("Companion did not finish in time, killing it")
			return true, c.KillAndWait(ReapTimeout)
		case <-ctx.Done():
			if err := c.KillAndWait(ReapTimeout); err != nil {
				return true, err
			}
			return true, ctx.Err()
		}
	}
}
