// Package config loads the daemon configuration from JSON with environment
// variable overrides. The traffic classification policy itself lives in its
// own YAML file handled by the policy package; this covers everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
)

// StatisticsConfig defines settings for the decision statistics backend.
type StatisticsConfig struct {
	Enabled       bool   // Whether statistics collection is enabled
	Backend       string // "sqlite", "postgres" or "dummy"
	SQLitePath    string // Path to SQLite database file
	PostgresDSN   string // PostgreSQL connection string
	FlushInterval int    // Counter flush interval in seconds
}

// Config represents the main configuration structure for the classifier
// daemon.
type Config struct {
	LogLevel      string           // Logging level (TRACE..FATAL)
	PolicyFile    string           // Path to the traffic classification policy YAML
	CaptureFile   string           // Path to a pcap/pcapng file to replay
	FCIPMaxAge    int              // Flow table max age in seconds
	SweepInterval int              // Flow table sweep interval in seconds
	Statistics    StatisticsConfig // Decision statistics settings
}

// LoadConfig loads configuration with defaults, then environment variables,
// then the config file when one is given.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		LogLevel:      "INFO",
		PolicyFile:    "config/tc_policy.yaml",
		FCIPMaxAge:    60,
		SweepInterval: 10,
		Statistics: StatisticsConfig{
			Backend:       "sqlite",
			SQLitePath:    "tcflow_stats.db",
			FlushInterval: 5,
		},
	}

	loadConfigFromEnv(cfg)

	if configPath != "" {
		if err := loadJSONConfig(configPath, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.FCIPMaxAge <= 0 {
		return nil, fmt.Errorf("fcip-max-age-seconds must be positive, got %d", cfg.FCIPMaxAge)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep-interval-seconds must be positive, got %d", cfg.SweepInterval)
	}

	return cfg, nil
}

// loadConfigFromEnv applies TCFLOW_* environment variable overrides.
func loadConfigFromEnv(cfg *Config) {
	if v := os.Getenv("TCFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TCFLOW_POLICY_FILE"); v != "" {
		cfg.PolicyFile = v
	}
	if v := os.Getenv("TCFLOW_CAPTURE_FILE"); v != "" {
		cfg.CaptureFile = v
	}
	if v := os.Getenv("TCFLOW_FCIP_MAX_AGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FCIPMaxAge = n
		}
	}
	if v := os.Getenv("TCFLOW_SWEEP_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepInterval = n
		}
	}
	if v := os.Getenv("TCFLOW_STATS_ENABLED"); v != "" {
		cfg.Statistics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TCFLOW_STATS_BACKEND"); v != "" {
		cfg.Statistics.Backend = v
	}
	if v := os.Getenv("TCFLOW_STATS_SQLITE_PATH"); v != "" {
		cfg.Statistics.SQLitePath = v
	}
	if v := os.Getenv("TCFLOW_STATS_POSTGRES_DSN"); v != "" {
		cfg.Statistics.PostgresDSN = v
	}
}

// loadJSONConfig merges a JSON config file over cfg. Keys are hyphenated to
// match the file format.
func loadJSONConfig(configPath string, cfg *Config) error {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}
	file, err := os.Open(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	// Decode into a map first to handle the hyphenated keys.
	var data map[string]any
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode JSON config: %w", err)
	}

	if v, ok := data["log-level"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("log-level: %w", err)
		}
		cfg.LogLevel = s
	}
	if v, ok := data["policy-file"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("policy-file: %w", err)
		}
		cfg.PolicyFile = s
	}
	if v, ok := data["capture-file"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("capture-file: %w", err)
		}
		cfg.CaptureFile = s
	}
	if v, ok := data["fcip-max-age-seconds"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("fcip-max-age-seconds: %w", err)
		}
		cfg.FCIPMaxAge = n
	}
	if v, ok := data["sweep-interval-seconds"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("sweep-interval-seconds: %w", err)
		}
		cfg.SweepInterval = n
	}

	if v, ok := data["statistics"]; ok {
		statsMap, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("statistics must be an object")
		}
		if err := loadStatisticsConfig(statsMap, &cfg.Statistics); err != nil {
			return err
		}
	}

	return nil
}

// loadStatisticsConfig merges the statistics sub-object.
func loadStatisticsConfig(data map[string]any, cfg *StatisticsConfig) error {
	if v, ok := data["enabled"]; ok {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("statistics.enabled must be a boolean")
		}
		cfg.Enabled = b
	}
	if v, ok := data["backend"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("statistics.backend: %w", err)
		}
		cfg.Backend = s
	}
	if v, ok := data["sqlite-path"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("statistics.sqlite-path: %w", err)
		}
		cfg.SQLitePath = s
	}
	if v, ok := data["postgres-dsn"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("statistics.postgres-dsn: %w", err)
		}
		cfg.PostgresDSN = s
	}
	if v, ok := data["flush-interval-seconds"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("statistics.flush-interval-seconds: %w", err)
		}
		cfg.FlushInterval = n
	}
	return nil
}

// asString extracts a string value from a decoded JSON map.
func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("must be a string, got %T", v)
	}
	return s, nil
}

// asInt extracts an integer value from a decoded JSON map.
func asInt(v any) (int, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
	return int(f), nil
}
