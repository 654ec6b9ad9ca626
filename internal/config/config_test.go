package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"trend points too low", func(c *Config) { c.MaxTrendDataPoints = 2 }, "max_trend_data_points"},
		{"flakiness threshold over 1", func(c *Config) { c.FlakinessThreshold = 1.5 }, "flakiness_threshold"},
		{"negative coverage threshold", func(c *Config) { c.CoverageChangeThreshold = -0.1 }, "coverage_change_threshold"},
		{"regression threshold at 1", func(c *Config) { c.PerformanceRegressionThreshold = 1.0 }, "performance_regression_threshold"},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
		{"zero retention", func(c *Config) { c.ExecutionRetentionDays = 0 }, "execution_retention_days"},
		{"bad cadence", func(c *Config) { c.SnapshotCadence = "hourly" }, "snapshot_cadence"},
		{"zero flakiness window", func(c *Config) { c.FlakinessWindow = 0 }, "flakiness_window"},
		{"zero anomaly sensitivity", func(c *Config) { c.AnomalySensitivity = 0 }, "anomaly_sensitivity"},
		{"negative alert cap", func(c *Config) { c.MaxAlertsPerHour = -1 }, "max_alerts_per_hour"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not name %s", err, tc.want)
			}
		})
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.ExecutionRetentionDays != 90 || cfg.SnapshotCadence != SnapshotDaily {
		t.Errorf("unset environment should keep defaults: %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PULSE_EXECUTION_RETENTION_DAYS", "30")
	t.Setenv("PULSE_FLAKINESS_THRESHOLD", "0.25")
	t.Setenv("PULSE_SNAPSHOT_CADENCE", "weekly")
	t.Setenv("PULSE_MAX_ALERTS_PER_HOUR", "5")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.ExecutionRetentionDays != 30 {
		t.Errorf("expected retention 30, got %d", cfg.ExecutionRetentionDays)
	}
	if cfg.FlakinessThreshold != 0.25 {
		t.Errorf("expected flakiness threshold 0.25, got %v", cfg.FlakinessThreshold)
	}
	if cfg.SnapshotCadence != SnapshotWeekly {
		t.Errorf("expected weekly cadence, got %s", cfg.SnapshotCadence)
	}
	if cfg.MaxAlertsPerHour != 5 {
		t.Errorf("expected alert cap 5, got %d", cfg.MaxAlertsPerHour)
	}
	// Untouched fields keep defaults.
	if cfg.BaselineWindow != 10 {
		t.Errorf("expected default baseline window, got %d", cfg.BaselineWindow)
	}
}

func TestFromEnvBadValue(t *testing.T) {
	t.Setenv("PULSE_EXECUTION_RETENTION_DAYS", "ninety")
	if _, err := FromEnv(); err == nil {
		t.Errorf("expected parse error")
	}
}

func TestFromEnvInvalidResult(t *testing.T) {
	t.Setenv("PULSE_SNAPSHOT_CADENCE", "hourly")
	if _, err := FromEnv(); err == nil {
		t.Errorf("expected validation error for bad cadence")
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	content := "execution_retention_days: 45\nsnapshot_cadence: monthly\nflakiness_window: 30\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ExecutionRetentionDays != 45 || cfg.SnapshotCadence != SnapshotMonthly || cfg.FlakinessWindow != 30 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	// Unspecified fields keep defaults.
	if cfg.SnapshotRetentionDays != 365 || cfg.MaxAlertsPerHour != 10 {
		t.Errorf("defaults lost during merge: %+v", cfg)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	if err := os.WriteFile(path, []byte("execution_retention_days: 0\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Errorf("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}
