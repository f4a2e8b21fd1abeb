// Package config provides unified configuration loading for the schematic
// extractor. Supports YAML files, environment variables, and programmatic
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the schematic extractor.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Recognition   RecognitionConfig   `yaml:"recognition"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Cache         CacheConfig         `yaml:"cache"`
	Uploads       UploadsConfig       `yaml:"uploads"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RecognitionConfig holds settings for the vision model client.
type RecognitionConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	FlashModel  string        `yaml:"flash_model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"` // per attempt, not per retry sequence
	MaxRetries  int           `yaml:"max_retries"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// ExtractionConfig holds extraction pipeline settings.
type ExtractionConfig struct {
	// DefaultPages are 0-based PDF page indices processed when the caller
	// supplies none.
	DefaultPages []int `yaml:"default_pages"`
	// DefaultContextPages are the reading-instructions and symbol-legend
	// pages whose text primes every per-page recognition call.
	DefaultContextPages [2]int `yaml:"default_context_pages"`
}

// CacheConfig holds render cache settings.
type CacheConfig struct {
	Driver string        `yaml:"driver"` // memory or redis
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// UploadsConfig holds file upload settings.
type UploadsConfig struct {
	Dir         string `yaml:"dir"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	RenderScale int    `yaml:"render_scale"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns a configuration with sane development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     0, // streaming responses must not be cut off
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "schematic.db"},
			Postgres: PostgresConfig{
				MaxOpenConns:    20,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		Recognition: RecognitionConfig{
			BaseURL:     "https://generativelanguage.googleapis.com",
			Model:       "gemini-3-pro-preview",
			FlashModel:  "gemini-3-flash-preview",
			Temperature: 0.1,
			Timeout:     120 * time.Second,
			MaxRetries:  3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    30 * time.Second,
		},
		Extraction: ExtractionConfig{
			DefaultPages:        []int{6, 7, 8},
			DefaultContextPages: [2]int{1, 2},
		},
		Cache: CacheConfig{
			Driver: "memory",
			TTL:    15 * time.Minute,
		},
		Uploads: UploadsConfig{
			Dir:         "uploads",
			MaxSizeMB:   100,
			RenderScale: 2,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides. A missing file is not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setString(&c.Recognition.APIKey, "GEMINI_API_KEY")
	setString(&c.Recognition.BaseURL, "GEMINI_BASE_URL")
	setString(&c.Recognition.Model, "GEMINI_MODEL")
	setString(&c.Recognition.FlashModel, "GEMINI_FLASH_MODEL")
	setFloat(&c.Recognition.Temperature, "GEMINI_TEMPERATURE")
	setDuration(&c.Recognition.Timeout, "GEMINI_TIMEOUT")
	setInt(&c.Recognition.MaxRetries, "GEMINI_MAX_RETRIES")
	setDuration(&c.Recognition.BaseDelay, "RETRY_BASE_DELAY")
	setDuration(&c.Recognition.MaxDelay, "RETRY_MAX_DELAY")

	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.SQLite.Path, "SQLITE_PATH")
	setString(&c.Database.Postgres.DSN, "POSTGRES_DSN")

	setString(&c.Cache.Driver, "CACHE_DRIVER")
	setString(&c.Cache.Redis.Addr, "REDIS_ADDR")
	setString(&c.Cache.Redis.Password, "REDIS_PASSWORD")

	setString(&c.Uploads.Dir, "UPLOADS_DIR")
	setInt(&c.Uploads.MaxSizeMB, "MAX_FILE_SIZE_MB")

	setString(&c.Server.Host, "SERVER_HOST")
	setInt(&c.Server.Port, "SERVER_PORT")

	setString(&c.Observability.LogLevel, "LOG_LEVEL")
	setString(&c.Observability.LogFormat, "LOG_FORMAT")
}

// Validate fails fast on configuration that cannot work.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		errs = append(errs, "database.postgres.dsn is required for the postgres driver")
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("cache.driver must be memory or redis, got %q", c.Cache.Driver))
	}
	if c.Recognition.MaxRetries < 1 {
		errs = append(errs, "recognition.max_retries must be at least 1")
	}
	if c.Recognition.BaseDelay <= 0 || c.Recognition.MaxDelay < c.Recognition.BaseDelay {
		errs = append(errs, "recognition retry delays must satisfy 0 < base_delay <= max_delay")
	}

	if len(errs) > 0 {
		msg := "configuration errors:"
		for _, e := range errs {
			msg += "\n  - " + e
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
			return
		}
		// Bare numbers are taken as seconds, matching older deployments.
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
