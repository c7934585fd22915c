// Package config provides configuration management for the keiba prediction engine.
package config

import (
	"fmt"
	"path/filepath"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Model    ModelConfig    `mapstructure:"model" validate:"required"`
	Bias     BiasConfig     `mapstructure:"bias"`
	Training TrainingConfig `mapstructure:"training" validate:"required"`
	API      APIConfig      `mapstructure:"api" validate:"required"`
	Metrics  MetricsConfig  `mapstructure:"metrics" validate:"required"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
}

// DatabaseConfig represents database connection configuration.
// Mode "mock" swaps the Postgres repositories for the in-memory set.
type DatabaseConfig struct {
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Name        string `mapstructure:"name" validate:"required"`
	User        string `mapstructure:"user" validate:"required"`
	Password    string `mapstructure:"password"`
	SSLMode     string `mapstructure:"ssl_mode" validate:"required,oneof=disable require verify-full"`
	Mode        string `mapstructure:"mode" validate:"required,oneof=local mock"`
	MinPoolSize int    `mapstructure:"min_pool_size" validate:"required,gt=0"`
	MaxPoolSize int    `mapstructure:"max_pool_size" validate:"required,gt=0"`
	// SecretName selects an AWS Secrets Manager entry whose credentials
	// overlay User/Password at startup; empty skips the lookup.
	SecretName string `mapstructure:"secret_name"`
	AWSRegion  string `mapstructure:"aws_region"`
}

// ModelConfig represents model artifact storage configuration
type ModelConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ActivePath returns the active artifact path for a surface variant.
// The mixed artifact is ensemble_model_latest.json; turf and dirt variants
// carry the surface in the name.
func (m *ModelConfig) ActivePath(surface string) string {
	if surface == "" || surface == "mixed" {
		return filepath.Join(m.Path, "ensemble_model_latest.json")
	}
	return filepath.Join(m.Path, fmt.Sprintf("ensemble_model_%s_latest.json", surface))
}

// BackupDir returns the directory for timestamped artifact backups.
func (m *ModelConfig) BackupDir() string {
	return filepath.Join(m.Path, "backups")
}

// StagingPath returns the staging location the trainer writes to before
// promotion.
func (m *ModelConfig) StagingPath(surface string) string {
	return filepath.Join(m.Path, "staging", fmt.Sprintf("ensemble_model_%s.json", surface))
}

// BiasConfig represents daily-bias adjustment configuration
type BiasConfig struct {
	Date            string `mapstructure:"date"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

// TrainingConfig represents the weekly retrain configuration
type TrainingConfig struct {
	Years              int     `mapstructure:"years" validate:"required,gt=0"`
	SurfaceFilter      string  `mapstructure:"surface_filter" validate:"omitempty,oneof=mixed turf dirt"`
	ExcludeYears       []int   `mapstructure:"exclude_years"`
	MaxTrials          int     `mapstructure:"max_trials" validate:"required,gt=0"`
	SearchTimeoutMin   int     `mapstructure:"search_timeout_minutes" validate:"required,gt=0"`
	TrainRatio         float64 `mapstructure:"train_ratio" validate:"required,gt=0,lt=1"`
	CalibrationRatio   float64 `mapstructure:"calibration_ratio" validate:"required,gt=0,lt=1"`
	IsotonicWeight     float64 `mapstructure:"isotonic_weight" validate:"gte=0,lte=1"`
	RetrainCron        string  `mapstructure:"retrain_cron" validate:"required"`
	BiasSnapshotCron   string  `mapstructure:"bias_snapshot_cron" validate:"required"`
}

// APIConfig represents the REST API server configuration
type APIConfig struct {
	Port                  int     `mapstructure:"port" validate:"required,min=1,max=65535"`
	RateLimitPerSecond    float64 `mapstructure:"rate_limit_per_second" validate:"required,gt=0"`
	RateLimitBurst        int     `mapstructure:"rate_limit_burst" validate:"required,gt=0"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds" validate:"required,gt=0"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Path    string `mapstructure:"path" validate:"required"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsMockMode reports whether the in-memory store is selected.
func (c *Config) IsMockMode() bool {
	return c.Database.Mode == "mock"
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
