package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// Escalation sweep settings. The sweep runs every SweepInterval and
	// escalates alerts unacknowledged for longer than EscalationThreshold.
	SweepIntervalMinutes        int `mapstructure:"SWEEP_INTERVAL_MINUTES"`
	EscalationThresholdMinutes  int `mapstructure:"ESCALATION_THRESHOLD_MINUTES"`

	// BarcodeMaxRetries bounds regeneration attempts on barcode collision
	// before the error surfaces to the caller.
	BarcodeMaxRetries int `mapstructure:"BARCODE_MAX_RETRIES"`

	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SWEEP_INTERVAL_MINUTES", 5)
	v.SetDefault("ESCALATION_THRESHOLD_MINUTES", 30)
	v.SetDefault("BARCODE_MAX_RETRIES", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("SWEEP_INTERVAL_MINUTES")
	v.BindEnv("ESCALATION_THRESHOLD_MINUTES")
	v.BindEnv("BARCODE_MAX_RETRIES")
	v.BindEnv("MIGRATIONS_DIR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// SweepInterval returns the escalation sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// EscalationThreshold returns how long an alert may sit unacknowledged
// before the sweep escalates it.
func (c *Config) EscalationThreshold() time.Duration {
	return time.Duration(c.EscalationThresholdMinutes) * time.Minute
}

// Validate checks the configuration is safe to run with.
func (c *Config) Validate() error {
	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive, got %d", c.SweepIntervalMinutes)
	}
	if c.EscalationThresholdMinutes <= 0 {
		return fmt.Errorf("ESCALATION_THRESHOLD_MINUTES must be positive, got %d", c.EscalationThresholdMinutes)
	}
	if c.BarcodeMaxRetries < 1 {
		return fmt.Errorf("BARCODE_MAX_RETRIES must be at least 1, got %d", c.BarcodeMaxRetries)
	}
	return nil
}
