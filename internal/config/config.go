// Package config holds the engine configuration: analysis thresholds,
// retention windows, snapshot cadence, and alerting limits. There is
// no ambient global; a Config is built at startup and passed to
// component constructors explicitly.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// SnapshotInterval is the cadence at which partition snapshots are taken.
type SnapshotInterval string

const (
	// SnapshotDaily takes at most one snapshot per partition per day
	SnapshotDaily SnapshotInterval = "daily"
	// SnapshotWeekly takes at most one snapshot per partition per week
	SnapshotWeekly SnapshotInterval = "weekly"
	// SnapshotMonthly takes at most one snapshot per partition per 30 days
	SnapshotMonthly SnapshotInterval = "monthly"
)

// Config is the full configuration surface of the engine.
// All fields have defaults; see DefaultConfig.
type Config struct {
	// MaxTrendDataPoints caps the number of observations fed to trend fitting
	MaxTrendDataPoints int `yaml:"max_trend_data_points"`

	// FlakinessThreshold is the trailing failure ratio above which a test
	// is flagged flaky. Default: 0.1
	FlakinessThreshold float64 `yaml:"flakiness_threshold"`

	// CoverageChangeThreshold is the minimum |delta coverage.overall| that
	// emits a coverage change event. Default: 0.05
	CoverageChangeThreshold float64 `yaml:"coverage_change_threshold"`

	// PerformanceRegressionThreshold is the duration ratio over the prior
	// execution (or rolling baseline) that flags a regression. Default: 1.5
	PerformanceRegressionThreshold float64 `yaml:"performance_regression_threshold"`

	// TrendAnalysisPeriod labels the default analysis window. Default: weekly
	TrendAnalysisPeriod string `yaml:"trend_analysis_period"`

	// BatchSize bounds batched operations (import, cleanup). Default: 100
	BatchSize int `yaml:"batch_size"`

	// ExecutionRetentionDays is the retention window for raw executions.
	// Default: 90
	ExecutionRetentionDays int `yaml:"execution_retention_days"`

	// SnapshotRetentionDays is the retention window for snapshots.
	// Default: 365
	SnapshotRetentionDays int `yaml:"snapshot_retention_days"`

	// EventRetentionDays is the retention window for evolution events.
	// Default: 180
	EventRetentionDays int `yaml:"event_retention_days"`

	// SnapshotCadence is how often a partition becomes snapshot-due.
	// Default: daily
	SnapshotCadence SnapshotInterval `yaml:"snapshot_cadence"`

	// FlakinessWindow is the trailing execution count used for the
	// flakiness score. Default: 20
	FlakinessWindow int `yaml:"flakiness_window"`

	// BaselineWindow is the trailing execution count used as the rolling
	// baseline for regression detection. Default: 10
	BaselineWindow int `yaml:"baseline_window"`

	// AnomalySensitivity is the z-score threshold for anomaly detection.
	// Default: 2.0
	AnomalySensitivity float64 `yaml:"anomaly_sensitivity"`

	// MaxAlertsPerHour caps dispatched alerts per rolling hour. Default: 10
	MaxAlertsPerHour int `yaml:"max_alerts_per_hour"`

	// FailureRateAlertThreshold is the 24h failure rate that raises an
	// alert. Default: 0.2
	FailureRateAlertThreshold float64 `yaml:"failure_rate_alert_threshold"`

	// FlakinessAlertThreshold is the 24h flaky-test ratio that raises an
	// alert. Default: 0.1
	FlakinessAlertThreshold float64 `yaml:"flakiness_alert_threshold"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxTrendDataPoints:             100,
		FlakinessThreshold:             0.1,
		CoverageChangeThreshold:        0.05,
		PerformanceRegressionThreshold: 1.5,
		TrendAnalysisPeriod:            "weekly",
		BatchSize:                      100,
		ExecutionRetentionDays:         90,
		SnapshotRetentionDays:          365,
		EventRetentionDays:             180,
		SnapshotCadence:                SnapshotDaily,
		FlakinessWindow:                20,
		BaselineWindow:                 10,
		AnomalySensitivity:             2.0,
		MaxAlertsPerHour:               10,
		FailureRateAlertThreshold:      0.2,
		FlakinessAlertThreshold:        0.1,
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.MaxTrendDataPoints < 3 {
		return fmt.Errorf("max_trend_data_points must be at least 3 (got %d)", c.MaxTrendDataPoints)
	}
	if c.FlakinessThreshold < 0 || c.FlakinessThreshold > 1 {
		return fmt.Errorf("flakiness_threshold must be in [0, 1] (got %g)", c.FlakinessThreshold)
	}
	if c.CoverageChangeThreshold < 0 || c.CoverageChangeThreshold > 1 {
		return fmt.Errorf("coverage_change_threshold must be in [0, 1] (got %g)", c.CoverageChangeThreshold)
	}
	if c.PerformanceRegressionThreshold <= 1 {
		return fmt.Errorf("performance_regression_threshold must be greater than 1 (got %g)", c.PerformanceRegressionThreshold)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1 (got %d)", c.BatchSize)
	}
	if c.ExecutionRetentionDays < 1 {
		return fmt.Errorf("execution_retention_days must be at least 1 (got %d)", c.ExecutionRetentionDays)
	}
	if c.SnapshotRetentionDays < 1 {
		return fmt.Errorf("snapshot_retention_days must be at least 1 (got %d)", c.SnapshotRetentionDays)
	}
	if c.EventRetentionDays < 1 {
		return fmt.Errorf("event_retention_days must be at least 1 (got %d)", c.EventRetentionDays)
	}
	switch c.SnapshotCadence {
	case SnapshotDaily, SnapshotWeekly, SnapshotMonthly:
	default:
		return fmt.Errorf("snapshot_cadence must be daily, weekly, or monthly (got %q)", c.SnapshotCadence)
	}
	if c.FlakinessWindow < 1 {
		return fmt.Errorf("flakiness_window must be at least 1 (got %d)", c.FlakinessWindow)
	}
	if c.BaselineWindow < 1 {
		return fmt.Errorf("baseline_window must be at least 1 (got %d)", c.BaselineWindow)
	}
	if c.AnomalySensitivity <= 0 {
		return fmt.Errorf("anomaly_sensitivity must be positive (got %g)", c.AnomalySensitivity)
	}
	if c.MaxAlertsPerHour < 0 {
		return fmt.Errorf("max_alerts_per_hour cannot be negative (got %d)", c.MaxAlertsPerHour)
	}
	if c.FailureRateAlertThreshold < 0 || c.FailureRateAlertThreshold > 1 {
		return fmt.Errorf("failure_rate_alert_threshold must be in [0, 1] (got %g)", c.FailureRateAlertThreshold)
	}
	if c.FlakinessAlertThreshold < 0 || c.FlakinessAlertThreshold > 1 {
		return fmt.Errorf("flakiness_alert_threshold must be in [0, 1] (got %g)", c.FlakinessAlertThreshold)
	}
	return nil
}

// FromEnv builds a Config from PULSE_* environment variables, falling
// back to defaults for anything unset.
//
// Environment variables:
//   - PULSE_MAX_TREND_DATA_POINTS
//   - PULSE_FLAKINESS_THRESHOLD
//   - PULSE_COVERAGE_CHANGE_THRESHOLD
//   - PULSE_PERF_REGRESSION_THRESHOLD
//   - PULSE_TREND_ANALYSIS_PERIOD
//   - PULSE_BATCH_SIZE
//   - PULSE_EXECUTION_RETENTION_DAYS
//   - PULSE_SNAPSHOT_RETENTION_DAYS
//   - PULSE_EVENT_RETENTION_DAYS
//   - PULSE_SNAPSHOT_CADENCE
//   - PULSE_FLAKINESS_WINDOW
//   - PULSE_BASELINE_WINDOW
//   - PULSE_ANOMALY_SENSITIVITY
//   - PULSE_MAX_ALERTS_PER_HOUR
//
// Returns an error if any variable has an invalid value.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvInt("PULSE_MAX_TREND_DATA_POINTS", &cfg.MaxTrendDataPoints); err != nil {
		return nil, err
	}
	if err := parseEnvFloat("PULSE_FLAKINESS_THRESHOLD", &cfg.FlakinessThreshold); err != nil {
		return nil, err
	}
	if err := parseEnvFloat("PULSE_COVERAGE_CHANGE_THRESHOLD", &cfg.CoverageChangeThreshold); err != nil {
		return nil, err
	}
	if err := parseEnvFloat("PULSE_PERF_REGRESSION_THRESHOLD", &cfg.PerformanceRegressionThreshold); err != nil {
		return nil, err
	}
	if err := parseEnvString("PULSE_TREND_ANALYSIS_PERIOD", &cfg.TrendAnalysisPeriod); err != nil {
		return nil, err
	}
	if err := parseEnvInt("PULSE_BATCH_SIZE", &cfg.BatchSize); err != nil {
		return nil, err
	}
	if err := parseEnvInt("PULSE_EXECUTION_RETENTION_DAYS", &cfg.ExecutionRetentionDays); err != nil {
		return nil, err
	}
	if err := parseEnvInt("PULSE_SNAPSHOT_RETENTION_DAYS", &cfg.SnapshotRetentionDays); err != nil {
		return nil, err
	}
	if err := parseEnvInt("PULSE_EVENT_RETENTION_DAYS", &cfg.EventRetentionDays); err != nil {
		return nil, err
	}
	var cadence string
	if err := parseEnvString("PULSE_SNAPSHOT_CADENCE", &cadence); err != nil {
		return nil, err
	}
	if cadence != "" {
		cfg.SnapshotCadence = SnapshotInterval(cadence)
	}
	if err := parseEnvInt("PULSE_FLAKINESS_WINDOW", &cfg.FlakinessWindow); err != nil {
		return nil, err
	}
	if err := parseEnvInt("PULSE_BASELINE_WINDOW", &cfg.BaselineWindow); err != nil {
		return nil, err
	}
	if err := parseEnvFloat("PULSE_ANOMALY_SENSITIVITY", &cfg.AnomalySensitivity); err != nil {
		return nil, err
	}
	if err := parseEnvInt("PULSE_MAX_ALERTS_PER_HOUR", &cfg.MaxAlertsPerHour); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// Load reads a YAML config file and merges it over the defaults.
// Missing fields keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float64 from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}
