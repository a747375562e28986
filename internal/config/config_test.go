package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/labcore_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.SweepIntervalMinutes != 5 {
		t.Errorf("expected default sweep interval 5, got %d", cfg.SweepIntervalMinutes)
	}
	if cfg.EscalationThreshold() != 30*time.Minute {
		t.Errorf("expected default escalation threshold 30m, got %s", cfg.EscalationThreshold())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Error("expected error when DATABASE_URL is empty")
	}
}

func TestValidateRejectsBadIntervals(t *testing.T) {
	cfg := &Config{SweepIntervalMinutes: 0, EscalationThresholdMinutes: 30, BarcodeMaxRetries: 5}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero sweep interval")
	}
	cfg = &Config{SweepIntervalMinutes: 5, EscalationThresholdMinutes: -1, BarcodeMaxRetries: 5}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative escalation threshold")
	}
	cfg = &Config{SweepIntervalMinutes: 5, EscalationThresholdMinutes: 30, BarcodeMaxRetries: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero barcode retries")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/labcore_test")
	t.Setenv("ESCALATION_THRESHOLD_MINUTES", "45")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EscalationThresholdMinutes != 45 {
		t.Errorf("expected threshold 45 from env, got %d", cfg.EscalationThresholdMinutes)
	}
}
