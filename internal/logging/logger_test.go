package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.Equal(t, os.Stderr, logger.Out)
}

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger(&LoggingConfig{Level: "DEBUG", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger, err = NewLogger(&LoggingConfig{Level: "chatty"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	_, err = NewLogger(&LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.log")
	logger, err := NewLogger(&LoggingConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.WithField("solutions", 2).Info("search complete")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "search complete", line["msg"])
	assert.Equal(t, float64(2), line["solutions"])

	_, err = NewLogger(&LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestComponent(t *testing.T) {
	logger := logrus.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	entry := Component(logger, "solver", false)
	entry.Debug("hidden")
	assert.Empty(t, buf.String())

	entry = Component(logger, "solver", true)
	entry.Debug("shown")
	assert.Contains(t, buf.String(), `"component":"solver"`)
	assert.Contains(t, buf.String(), "shown")

	// the shared logger keeps its level
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	buf.Reset()
	Component(logger, "other", false).Debug("still hidden")
	assert.Empty(t, buf.String())
}

func TestVerboseComponentLeavesStandardLogger(t *testing.T) {
	std := logrus.StandardLogger()
	level := std.GetLevel()
	std.SetLevel(logrus.InfoLevel)
	defer std.SetLevel(level)

	entry := Component(nil, "solver", true)
	assert.Equal(t, logrus.DebugLevel, entry.Logger.GetLevel())
	assert.Equal(t, logrus.InfoLevel, std.GetLevel())
	assert.NotSame(t, std, entry.Logger)
}
