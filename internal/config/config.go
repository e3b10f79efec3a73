// Package config provides configuration management for the photostudio backend.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Jobs      JobsConfig
	Janitor   JanitorConfig
	Engine    EngineConfig
	Assets    AssetsConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Debug     bool
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port          string
	Host          string
	PublicBaseURL string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string
	SQLite   SQLiteConfig
	Postgres PostgresConfig
	Redis    RedisConfig
}

// SQLiteConfig holds SQLite configuration
type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration.
// An empty Host disables the balance cache.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	BalanceTTL time.Duration
}

// JobsConfig holds generation job configuration
type JobsConfig struct {
	LockTTL        time.Duration // staleness window of a run lock (default: 180s)
	Workers        int           // concurrent units of work
	CreditsPerUnit int64
	ResourceKeys   []string
	RecoverAfter   time.Duration // queued/running jobs untouched this long are treated as interrupted
	Heartbeat      time.Duration // how often a running job refreshes its record; must stay below RecoverAfter
}

// JanitorConfig holds background maintenance configuration
type JanitorConfig struct {
	Interval   time.Duration
	SessionTTL time.Duration
}

// EngineConfig holds generation provider configuration
type EngineConfig struct {
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiImageModel string
	Timeout          time.Duration
	Debug            bool
}

// AssetsConfig holds generated artifact storage configuration
type AssetsConfig struct {
	Dir       string
	GCSBucket string
	GCSPrefix string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "8000"),
			Host:          getEnv("SERVER_HOST", "0.0.0.0"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8000"), "/"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			SQLite: SQLiteConfig{
				Path:        getEnv("DB_PATH", "data/photostudio.db"),
				BusyTimeout: getEnvAsDuration("DB_BUSY_TIMEOUT", 5*time.Second),
			},
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "photostudio"),
				User:           getEnv("POSTGRES_USER", "photostudio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Cache: CacheConfig{
			BalanceTTL: getEnvAsDuration("CACHE_BALANCE_TTL", 60*time.Second),
		},
		Jobs: JobsConfig{
			LockTTL:        getEnvAsDuration("JOB_LOCK_TTL", 180*time.Second),
			Workers:        getEnvAsInt("JOB_WORKERS", 8),
			CreditsPerUnit: int64(getEnvAsInt("JOB_CREDITS_PER_UNIT", 1)),
			ResourceKeys:   getEnvAsList("JOB_RESOURCE_KEYS", []string{"TORSO", "LEGS", "FULL", "SCENE"}),
			RecoverAfter:   getEnvAsDuration("JOB_RECOVERY_AFTER", 15*time.Minute),
			Heartbeat:      getEnvAsDuration("JOB_HEARTBEAT", 30*time.Second),
		},
		Janitor: JanitorConfig{
			Interval:   getEnvAsDuration("JANITOR_INTERVAL", 5*time.Minute),
			SessionTTL: getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		},
		Engine: EngineConfig{
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
			GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
			Timeout:          getEnvAsDuration("ENGINE_TIMEOUT", 120*time.Second),
			Debug:            getEnvAsBool("ENGINE_DEBUG", false),
		},
		Assets: AssetsConfig{
			Dir:       getEnv("ASSETS_DIR", "data/assets"),
			GCSBucket: getEnv("ASSETS_GCS_BUCKET", ""),
			GCSPrefix: getEnv("ASSETS_GCS_PREFIX", "assets/"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Debug: getEnvAsBool("APP_DEBUG", false),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the loaded configuration for values the services cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want %s or %s)", c.Database.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.CreditsPerUnit < 0 {
		return fmt.Errorf("JOB_CREDITS_PER_UNIT must not be negative, got %d", c.Jobs.CreditsPerUnit)
	}
	if len(c.Jobs.ResourceKeys) == 0 {
		return fmt.Errorf("JOB_RESOURCE_KEYS must name at least one resource")
	}
	if c.Jobs.Heartbeat > 0 && c.Jobs.RecoverAfter > 0 && c.Jobs.RecoverAfter <= c.Jobs.Heartbeat {
		return fmt.Errorf("JOB_RECOVERY_AFTER (%s) must be longer than JOB_HEARTBEAT (%s)", c.Jobs.RecoverAfter, c.Jobs.Heartbeat)
	}
	return nil
}

// RedisEnabled reports whether a Redis host was configured
func (c *Config) RedisEnabled() bool {
	return c.Database.Redis.Host != ""
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool accepts 1/0, true/false, yes/no, on/off
func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(getEnv(key, ""))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
