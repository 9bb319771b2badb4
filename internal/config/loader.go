package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	// Set default values
	v.SetDefault("log_level", "info")
	v.SetDefault("HTTP_LISTEN_ADDR", ":8080")
	v.SetDefault("NAME_PREFIX", "mb")
	v.SetDefault("PORT_FILE", "data/port_counter")
	v.SetDefault("SWEEP_INTERVAL_MIN", 360)
	v.SetDefault("WARN_DAYS", 2)
	v.SetDefault("PURGE_DAYS", 3)
	v.SetDefault("SWEEP_BATCH_SIZE", 100)

	// Define environment variables
	v.BindEnv("DATABASE_DSN")
	v.BindEnv("HTTP_LISTEN_ADDR")
	v.BindEnv("PUBLIC_URL")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("NAME_PREFIX")
	v.BindEnv("PORT_FILE")
	v.BindEnv("PRESERVE_UNLIMITED_ON_ADD")
	v.BindEnv("SWEEP_INTERVAL_MIN")
	v.BindEnv("WARN_DAYS")
	v.BindEnv("AUTO_PURGE")
	v.BindEnv("PURGE_DAYS")
	v.BindEnv("SWEEP_BATCH_SIZE")
	v.BindEnv("TG_TOKEN")
	v.BindEnv("TG_ADMIN_ID")

	cfg := &Config{
		LogLevel: v.GetString("log_level"),
		Database: DatabaseConfig{
			DSN: strings.TrimSpace(v.GetString("DATABASE_DSN")),
		},
		HTTP: HTTPConfig{
			ListenAddr: strings.TrimSpace(v.GetString("HTTP_LISTEN_ADDR")),
			PublicURL:  strings.TrimRight(strings.TrimSpace(v.GetString("PUBLIC_URL")), "/"),
			JWTSecret:  v.GetString("JWT_SECRET"),
		},
		Provision: ProvisionConfig{
			NamePrefix:             strings.TrimSpace(v.GetString("NAME_PREFIX")),
			PortFile:               v.GetString("PORT_FILE"),
			PreserveUnlimitedOnAdd: v.GetBool("PRESERVE_UNLIMITED_ON_ADD"),
		},
		Sweep: SweepConfig{
			IntervalMinutes: v.GetInt("SWEEP_INTERVAL_MIN"),
			WarnDays:        v.GetInt("WARN_DAYS"),
			AutoPurge:       v.GetBool("AUTO_PURGE"),
			PurgeDays:       v.GetInt("PURGE_DAYS"),
			BatchSize:       v.GetInt("SWEEP_BATCH_SIZE"),
		},
		Telegram: TelegramConfig{
			Token:   strings.TrimSpace(v.GetString("TG_TOKEN")),
			AdminID: v.GetInt64("TG_ADMIN_ID"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Database.DSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.HTTP.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if cfg.Sweep.WarnDays < 1 {
		cfg.Sweep.WarnDays = 1
	}
	if cfg.Sweep.PurgeDays < 1 {
		cfg.Sweep.PurgeDays = 1
	}
	if cfg.Sweep.BatchSize < 1 {
		cfg.Sweep.BatchSize = 100
	}
	return nil
}
