// Package config resolves the data directory, the optional config.yaml in it and
// the process logger
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// EnvDataDir overrides the data directory
	EnvDataDir = "CAG_DATA_DIR"
	// EnvLogLevel selects debug, info, warn or error
	EnvLogLevel = "CAG_LOG_LEVEL"
	// EnvLogFormat selects text or json
	EnvLogFormat = "CAG_LOG_FORMAT"

	// FileName is looked up inside the data directory
	FileName = "config.yaml"
)

// Config holds process-wide settings
type Config struct {
	DataDir      string `yaml:"data_dir"`
	DefaultGraph string `yaml:"default_graph"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	FitWorkers   int    `yaml:"fit_workers"`
	Embeddings   string `yaml:"embeddings"`
}

// Default returns the settings used when neither env nor config.yaml say otherwise
func Default() Config {
	return Config{
		DefaultGraph: "default",
		LogLevel:     "warn",
		LogFormat:    "text",
		FitWorkers:   runtime.NumCPU(),
		Embeddings:   "local",
	}
}

// DataDir returns $CAG_DATA_DIR or ~/.tributary
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".tributary"), nil
}

// Load builds the configuration: defaults, then config.yaml from the data
// directory if present, then environment variables.
func Load() (Config, error) {
	cfg := Default()
	dir, err := DataDir()
	if err != nil {
		return cfg, err
	}
	cfg.DataDir = dir

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
		// the env var decides where config.yaml lives, so it also wins over data_dir in it
		if os.Getenv(EnvDataDir) != "" || cfg.DataDir == "" {
			cfg.DataDir = dir
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("failed to read %s: %w", FileName, err)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.LogFormat = v
	}
	if cfg.FitWorkers <= 0 {
		cfg.FitWorkers = 1
	}
	return cfg, nil
}

// Save writes cfg to config.yaml in its data directory
func Save(cfg Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(filepath.Join(cfg.DataDir, FileName), data, 0600)
}

// ParseLevel maps a level name to a slog.Level. Unknown names fall back to warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// NewLogger builds the slog logger described by cfg, writing to w
func NewLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
