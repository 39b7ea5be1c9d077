package config

import (
	"time"

	"github.com/fineu/fineu-core/pkg/redis"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config holds runtime configuration for the FINE U progression core.
type Config struct {
	AppEnv   string `mapstructure:"app_env"`
	Language string `mapstructure:"language" validate:"required"`

	Logger  LoggerConfig  `mapstructure:"logger"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
	Storage StorageConfig `mapstructure:"storage"`
	Store   StoreConfig   `mapstructure:"store"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Policies maps extra access scopes to boolean expressions over the user record.
	Policies map[string]string `mapstructure:"policies"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

type StorageConfig struct {
	Driver       string        `mapstructure:"driver" validate:"oneof=memory redis sqlite"`
	Prefix       string        `mapstructure:"prefix"`
	SQLitePath   string        `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	Redis        redis.Config  `mapstructure:"redis"`
}

type StoreConfig struct {
	StartingCash      float64       `mapstructure:"starting_cash" validate:"gt=0"`
	ObfuscationKey    string        `mapstructure:"obfuscation_key" validate:"required"`
	IntegrityInterval time.Duration `mapstructure:"integrity_interval" validate:"gt=0"`
}

type MetricsConfig struct {
	// Addr enables the metrics endpoint of `fineu watch` when set.
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}
