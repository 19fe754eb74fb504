package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogFormatEnv selects "text" (default) or "json" output.
const LogFormatEnv = "INTERFERENCE_BENCH_LOG_FORMAT"

var logger *logrus.Logger

// pollLogger carries the per-poll chatter of the supervisor and its
// companions. It can be set to a different level than the run progress.
var pollLogger *logrus.Logger

func init() {
	// Logs go to stderr; stdout is reserved for command output such as plots.
	logger = newLogger("msg")
	pollLogger = newLogger("poll_msg")
}

func newLogger(msgKey string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: msgKey,
		},
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

func GetLogger() *logrus.Logger {
	return logger
}

func GetSupervisorLogger() *logrus.Logger {
	return pollLogger
}

// SetLogLevel applies the level to both loggers.
func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	pollLogger.SetLevel(logLevel)
	return nil
}

func SetSupervisorLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	pollLogger.SetLevel(logLevel)
	return nil
}

func SetOutput(w io.Writer) {
	logger.SetOutput(w)
	pollLogger.SetOutput(w)
}

// SetFormat switches both loggers between "text" and "json".
func SetFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		pollLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			FieldMap:      logrus.FieldMap{logrus.FieldKeyMsg: "poll_msg"},
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
		pollLogger.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{logrus.FieldKeyMsg: "poll_msg"},
		})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
