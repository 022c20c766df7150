// Package logging builds the logrus loggers the solver components log to.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// DefaultConfig logs text at info level to stderr.
func DefaultConfig() *LoggingConfig {
	return &LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}
}

// NewLogger builds a logger from config; nil means DefaultConfig.
// Unknown levels fall back to info.
func NewLogger(config *LoggingConfig) (*logrus.Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Format)
	}

	var output io.Writer
	switch config.Output {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
	}
	logger.SetOutput(output)

	return logger, nil
}

// Component returns an entry tagged with the component name. A verbose
// component logs at debug level through its own logger writing to the same
// output; logger itself keeps its level.
func Component(logger *logrus.Logger, name string, verbose bool) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if verbose && logger.GetLevel() < logrus.DebugLevel {
		logger = &logrus.Logger{
			Out:          logger.Out,
			Hooks:        logger.Hooks,
			Formatter:    logger.Formatter,
			ReportCaller: logger.ReportCaller,
			Level:        logrus.DebugLevel,
			ExitFunc:     logger.ExitFunc,
		}
	}
	return logger.WithField("component", name)
}
