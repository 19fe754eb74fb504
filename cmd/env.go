package cmd

import (
	"os"
	"path/filepath"

	"interference-bench/internal/logging"

	"github.com/joho/godotenv"
)

// loadEnvironment reads .env from the working directory, falling back to the
// directory of the executable. Variables already set are kept.
func loadEnvironment() {
	logger := logging.GetLogger()

	candidates := []string{".env"}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), ".env"))
	}

	for _, envFile := range candidates {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		break
	}

	if format := os.Getenv(logging.LogFormatEnv); format != "" {
		if err := logging.SetFormat(format); err != nil {
			logger.WithError(err).Warn("Ignoring log format from environment")
		}
	}
}
