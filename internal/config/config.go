package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/appkit/internal/storage"
)

const (
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultSettingsName   = "settings"
	defaultSettingsFile   = "config/settings.json"
	defaultLoggersFile    = "config/loggers.json"
	defaultRedisURL       = "redis://localhost:6379/0"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > Environment variables > YAML config > Defaults
type Config struct {
	Port                 string          `yaml:"port" env:"PORT"`
	LogLevel             string          `yaml:"log_level" env:"LOG_LEVEL"`
	ShutdownGracePeriod  time.Duration   `yaml:"shutdown_grace_period" env:"SHUTDOWN_GRACE_PERIOD"`
	ReadHeaderTimeout    time.Duration   `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	WriteTimeout         time.Duration   `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout          time.Duration   `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	EnableRequestLogging bool            `yaml:"enable_request_logging" env:"ENABLE_REQUEST_LOGGING"`
	RateLimit            RateLimitConfig `yaml:"rate_limit"`
	Settings             SettingsConfig  `yaml:"settings"`
	Logging              LoggingConfig   `yaml:"logging"`
	Redis                RedisConfig     `yaml:"redis"`
}

// RateLimitConfig configures the per-client API rate limiter. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// SettingsConfig configures the settings resolver served by the API. Defaults
// seeds the resolver before environment and storage are applied.
type SettingsConfig struct {
	Name       string         `yaml:"name" env:"SETTINGS_NAME"`
	Prefix     string         `yaml:"prefix" env:"SETTINGS_PREFIX"`
	AllowExtra bool           `yaml:"allow_extra" env:"SETTINGS_ALLOW_EXTRA"`
	Storage    string         `yaml:"storage" env:"SETTINGS_STORAGE"`
	File       string         `yaml:"file" env:"SETTINGS_FILE"`
	RedisKey   string         `yaml:"redis_key" env:"SETTINGS_REDIS_KEY"`
	Defaults   map[string]any `yaml:"defaults"`
}

// LoggingConfig configures where the logger registry is persisted.
type LoggingConfig struct {
	StorageType string `yaml:"storage_type" env:"LOGGING_STORAGE_TYPE"`
	ConfigFile  string `yaml:"config_file" env:"LOGGING_CONFIG_FILE"`
	RedisKey    string `yaml:"redis_key" env:"LOGGING_REDIS_KEY"`
}

// RedisConfig holds the connection shared by every redis-backed store.
type RedisConfig struct {
	URL string        `yaml:"url" env:"REDIS_URL"`
	TTL time.Duration `yaml:"ttl" env:"REDIS_TTL"`
}

// SettingsRedisKey returns the hash key used for the settings document.
func (c Config) SettingsRedisKey() string {
	if c.Settings.RedisKey != "" {
		return c.Settings.RedisKey
	}
	return "settings:" + c.Settings.Name
}

// LoggingRedisKey returns the hash key used for the logger registry.
func (c Config) LoggingRedisKey() string {
	if c.Logging.RedisKey != "" {
		return c.Logging.RedisKey
	}
	return "loggers"
}

// CLIOverrides holds command-line flag overrides. Non-zero fields of Values
// replace the resolved configuration.
type CLIOverrides struct {
	ConfigFile string
	EnvFile    string
	Values     Config
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > Environment variables > YAML config > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if overrides != nil && overrides.EnvFile != "" {
		// existing variables win over the file
		if err := godotenv.Load(overrides.EnvFile); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	// Load from YAML file if specified
	if overrides != nil && overrides.ConfigFile != "" {
		if err := loadFromFile(overrides.ConfigFile, &cfg); err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
	}

	// Apply environment variables (override YAML)
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		if err := mergo.Merge(&cfg, overrides.Values, mergo.WithOverride); err != nil {
			return Config{}, fmt.Errorf("apply CLI overrides: %w", err)
		}
	}

	normalize(&cfg)

	// Validate final configuration
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		LogLevel:             defaultLogLevel,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimit: RateLimitConfig{
			RPS:   defaultRateLimitRPS,
			Burst: defaultRateLimitBurst,
		},
		Settings: SettingsConfig{
			Name:    defaultSettingsName,
			Storage: string(storage.KindMemory),
			File:    defaultSettingsFile,
		},
		Logging: LoggingConfig{
			StorageType: string(storage.KindMemory),
			ConfigFile:  defaultLoggersFile,
		},
		Redis: RedisConfig{
			URL: defaultRedisURL,
		},
	}
}

// loadFromFile overlays the keys present in a YAML file onto cfg.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}

	return nil
}

func normalize(cfg *Config) {
	cfg.Port = strings.TrimSpace(cfg.Port)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Settings.Storage = strings.ToLower(strings.TrimSpace(cfg.Settings.Storage))
	cfg.Logging.StorageType = strings.ToLower(strings.TrimSpace(cfg.Logging.StorageType))
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	var errs []error

	if cfg.Port == "" {
		errs = append(errs, errors.New("port cannot be empty"))
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if cfg.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be >= 0"))
	}
	if cfg.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be >= 0"))
	}
	if cfg.Settings.Name == "" {
		errs = append(errs, errors.New("settings name cannot be empty"))
	}
	errs = append(errs,
		validateStorage("SETTINGS_STORAGE", cfg.Settings.Storage, cfg.Settings.File, cfg.Redis.URL),
		validateStorage("LOGGING_STORAGE_TYPE", cfg.Logging.StorageType, cfg.Logging.ConfigFile, cfg.Redis.URL),
	)

	return errors.Join(errs...)
}

func validateStorage(name, kind, path, redisURL string) error {
	k, err := storage.ParseKind(kind)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	switch k {
	case storage.KindFile:
		if path == "" {
			return fmt.Errorf("%s: file storage requires a path", name)
		}
	case storage.KindRedis:
		if redisURL == "" {
			return fmt.Errorf("%s: redis storage requires REDIS_URL", name)
		}
	}
	return nil
}
