// Package config provides configuration management for the keiba prediction engine.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Load reads and parses the configuration from file and environment variables.
// It expands environment variable placeholders in the YAML file (${VAR_NAME})
// and then applies the store contract's raw environment overrides
// (DB_HOST, DB_POOL_MIN_SIZE, MODEL_PATH, KEIBA_BIAS_DATE, ...).
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("KEIBA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if data, err := os.ReadFile(configPath); err == nil {
		expanded := os.ExpandEnv(string(data))
		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// Missing file falls through to defaults and environment variables.

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "keiba-engine")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "keiba")
	v.SetDefault("database.user", "keiba")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.mode", "local")
	v.SetDefault("database.min_pool_size", 2)
	v.SetDefault("database.max_pool_size", 10)
	v.SetDefault("database.secret_name", "")
	v.SetDefault("database.aws_region", "ap-northeast-1")

	v.SetDefault("model.path", "models")

	v.SetDefault("bias.cache_ttl_seconds", 600)

	v.SetDefault("training.years", 3)
	v.SetDefault("training.surface_filter", "mixed")
	v.SetDefault("training.max_trials", 30)
	v.SetDefault("training.search_timeout_minutes", 90)
	v.SetDefault("training.train_ratio", 0.70)
	v.SetDefault("training.calibration_ratio", 0.15)
	v.SetDefault("training.isotonic_weight", 0.6)
	v.SetDefault("training.retrain_cron", "0 2 * * 1")
	v.SetDefault("training.bias_snapshot_cron", "30 9 * * 6,0")

	v.SetDefault("api.port", 8000)
	v.SetDefault("api.rate_limit_per_second", 10)
	v.SetDefault("api.rate_limit_burst", 20)
	v.SetDefault("api.request_timeout_seconds", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
}

// applyEnvOverrides binds the un-prefixed environment variables from the
// deployment contract on top of whatever the file provided.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_MODE"); v != "" {
		cfg.Database.Mode = v
	}
	if v := os.Getenv("DB_POOL_MIN_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.MinPoolSize = n
		}
	}
	if v := os.Getenv("DB_POOL_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.MaxPoolSize = n
		}
	}
	if v := os.Getenv("DB_SECRET_NAME"); v != "" {
		cfg.Database.SecretName = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Database.AWSRegion = v
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		cfg.Model.Path = v
	}
	if v := os.Getenv("KEIBA_BIAS_DATE"); v != "" {
		cfg.Bias.Date = v
	}
}
