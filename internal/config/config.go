// Package config loads solver settings from a JSON file, a .env file and
// EQUIHASH_* environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"equihasher/internal/logging"
	"equihasher/pkg/hashing/collide"
	"equihasher/pkg/hashing/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EQUIHASH_"

// SolverConfig is everything needed to open a solver.
type SolverConfig struct {
	PlatformID uint32      `json:"platform_id"`
	DeviceID   uint32      `json:"device_id"`
	Params     core.Params `json:"params"`

	// Workers overrides the backend's parallelism when positive
	Workers int `json:"workers"`

	// CacheSize is the number of headers whose results are kept; 0 disables
	CacheSize int `json:"cache_size"`

	// MemoryBudgetMB caps the device workspace; 0 uses available memory
	MemoryBudgetMB uint64 `json:"memory_budget_mb"`

	Collide collide.Config `json:"collide"`

	// PreferredOrder is the platform order used when picking a backend
	PreferredOrder []uint32 `json:"preferred_order,omitempty"`

	Verbose bool                   `json:"verbose"`
	Logging *logging.LoggingConfig `json:"logging"`
}

// DefaultSolverConfig returns the reference (200,9) solver on platform 0.
func DefaultSolverConfig() *SolverConfig {
	return &SolverConfig{
		PlatformID: 0,
		DeviceID:   0,
		Params:     core.Reference,
		Collide:    collide.DefaultConfig(),
		Logging:    logging.DefaultConfig(),
	}
}

// MemoryBudget returns the workspace cap in bytes.
func (c *SolverConfig) MemoryBudget() uint64 {
	return c.MemoryBudgetMB << 20
}

// Validate checks the settings that can be checked without a device.
func (c *SolverConfig) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", c.CacheSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// LoadConfigFromFile loads solver configuration from a JSON file. A missing
// file yields the defaults; fields absent from the file keep their defaults.
func LoadConfigFromFile(configPath string) (*SolverConfig, error) {
	config := DefaultSolverConfig()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}
	if config.Logging == nil {
		config.Logging = logging.DefaultConfig()
	}

	return config, nil
}

// SaveConfigToFile saves solver configuration to a JSON file
func SaveConfigToFile(config *SolverConfig, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// ConfigPaths returns common configuration file paths
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		"./equihash.json",
		filepath.Join(homeDir, ".equihash", "config.json"),
		"/etc/equihash/config.json",
	}
}

// FindConfigFile returns the first existing path of ConfigPaths.
func FindConfigFile() (string, bool) {
	for _, p := range ConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// Load reads configPath (or the first of ConfigPaths when empty), then
// applies the project .env file and the process environment.
func Load(configPath string) (*SolverConfig, error) {
	if configPath == "" {
		configPath, _ = FindConfigFile()
	}

	config := DefaultSolverConfig()
	if configPath != "" {
		var err error
		if config, err = LoadConfigFromFile(configPath); err != nil {
			return nil, err
		}
	}

	envPath := filepath.Join(findProjectRoot(), ".env")
	if err := ApplyEnv(config, envPath); err != nil {
		return nil, err
	}
	return config, config.Validate()
}

// ApplyEnv overlays EQUIHASH_* variables onto config. Variables from the
// given .env files are used unless the process environment sets them too.
// Missing .env files are skipped.
func ApplyEnv(config *SolverConfig, envFiles ...string) error {
	vars := make(map[string]string)
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		fileVars, err := godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			vars[k] = v
		}
	}

	for key, value := range vars {
		name, ok := strings.CutPrefix(key, EnvPrefix)
		if !ok {
			continue
		}
		if err := applyVar(config, name, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func applyVar(c *SolverConfig, name, value string) error {
	value = strings.TrimSpace(value)

	parseUint32 := func(dst *uint32) error {
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		*dst = uint32(v)
		return nil
	}
	parseInt := func(dst *int) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}

	if c.Logging == nil {
		c.Logging = logging.DefaultConfig()
	}

	switch name {
	case "PLATFORM":
		return parseUint32(&c.PlatformID)
	case "DEVICE":
		return parseUint32(&c.DeviceID)
	case "N":
		return parseUint32(&c.Params.N)
	case "K":
		return parseUint32(&c.Params.K)
	case "WORKERS":
		return parseInt(&c.Workers)
	case "CACHE_SIZE":
		return parseInt(&c.CacheSize)
	case "MEMORY_BUDGET_MB":
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		c.MemoryBudgetMB = v
	case "VERBOSE":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.Verbose = v
	case "LOG_LEVEL":
		c.Logging.Level = value
	case "LOG_FORMAT":
		c.Logging.Format = value
	case "LOG_OUTPUT":
		c.Logging.Output = value
	}
	return nil
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	// First check CWD for .env file
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	// Then walk up looking for go.mod
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
