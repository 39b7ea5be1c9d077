// Package config provides configuration loading and validation utilities.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "FINEU"

// Load reads configuration from an optional YAML file and FINEU_* environment variables,
// validates it, and returns the resulting Config. When path is empty ./configs/<env>.yaml
// is used if it exists.
func Load(path string) (*Config, *viper.Viper, error) {
	// .env files are optional.
	_ = godotenv.Load(".env.local", ".env")

	env := os.Getenv(envPrefix + "_APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = fmt.Sprintf("./configs/%s.yaml", env)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = env
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "")
	v.SetDefault("language", "en")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.sqlite_path", "fineu.db")
	v.SetDefault("storage.poll_interval", "500ms")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)

	v.SetDefault("store.starting_cash", 10_000_000)
	v.SetDefault("store.obfuscation_key", "fineu_secure_key_2024")
	v.SetDefault("store.integrity_interval", "30s")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.shutdown_timeout", "5s")
}
