// Package config loads daemon configuration from environment variables plus
// an optional YAML file for execution tuning and per-controller overrides.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "traject.db"

	envListenAddr = "TRAJECT_LISTEN_ADDR"
	envDBPath     = "TRAJECT_DB_PATH"
	envLogLevel   = "TRAJECT_LOG_LEVEL"
	envConfigFile = "TRAJECT_CONFIG"
)

// Execution tuning defaults, applied when the YAML file omits a knob.
const (
	DefaultDurationScaling = 1.1
	DefaultGoalMarginS     = 0.5
	DefaultStartTolerance  = 0.01
	DefaultInfoMaxAgeS     = 1.0
)

// Config holds application configuration.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	Execution  ExecutionConfig
}

// ExecutionConfig holds the execution-engine knobs, loadable from YAML.
type ExecutionConfig struct {
	ManageControllers     bool                          `yaml:"manage_controllers"`
	DurationMonitoring    bool                          `yaml:"execution_duration_monitoring"`
	DurationScaling       float64                       `yaml:"allowed_execution_duration_scaling"`
	GoalMarginS           float64                       `yaml:"allowed_goal_duration_margin"`
	StartTolerance        float64                       `yaml:"allowed_start_tolerance"`
	WaitForCompletion     bool                          `yaml:"wait_for_trajectory_completion"`
	ControllerInfoMaxAgeS float64                       `yaml:"controller_info_max_age"`
	Controllers           map[string]ControllerOverride `yaml:"controllers"`
}

// ControllerOverride carries per-controller duration-monitoring overrides
// that take precedence over the defaults.
type ControllerOverride struct {
	DurationScaling *float64 `yaml:"allowed_execution_duration_scaling"`
	GoalMarginS     *float64 `yaml:"allowed_goal_duration_margin"`
}

// DefaultExecution returns the execution knobs with their defaults.
func DefaultExecution() ExecutionConfig {
	return ExecutionConfig{
		ManageControllers:     true,
		DurationMonitoring:    true,
		DurationScaling:       DefaultDurationScaling,
		GoalMarginS:           DefaultGoalMarginS,
		StartTolerance:        DefaultStartTolerance,
		WaitForCompletion:     true,
		ControllerInfoMaxAgeS: DefaultInfoMaxAgeS,
	}
}

// Load reads configuration from environment variables with sensible defaults,
// then merges the YAML file named by TRAJECT_CONFIG if set.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		Execution:  DefaultExecution(),
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// LoadFile reads only the execution knobs from a YAML file.
func LoadFile(path string) (ExecutionConfig, error) {
	ec := DefaultExecution()
	data, err := os.ReadFile(path)
	if err != nil {
		return ec, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &ec); err != nil {
		return ec, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return ec, nil
}

func (c *Config) mergeFile(path string) error {
	ec, err := LoadFile(path)
	if err != nil {
		return err
	}
	c.Execution = ec
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
