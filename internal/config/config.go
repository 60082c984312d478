// Package config provides configuration management for the manga sync worker and trigger server.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/manga-tracker/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Sync     SyncConfig
	MangaDex MangaDexConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds trigger server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
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
// Redis is optional: when disabled the last-result cache and poll lease are skipped.
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SyncConfig holds sync engine and poll driver configuration
type SyncConfig struct {
	Mode                types.SyncMode
	PollInterval        time.Duration
	APIBaseURL          string // used by the HTTP trigger
	Secret              string // shared secret for the trigger endpoint
	IncrementalPageSize int
	FullPageSize        int
	ChapterPageSize     int
	FetchTimeout        time.Duration
	BackoffInitial      time.Duration
	BackoffMax          time.Duration
	TriggerTimeout      time.Duration
}

// MangaDexConfig holds MangaDex connector configuration
type MangaDexConfig struct {
	APIURL         string
	SiteURL        string
	CoverURL       string
	Language       string
	RateLimit      float64 // requests per second
	BreakerEnabled bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// MetricsConfig holds the optional standalone metrics listener for the worker
type MetricsConfig struct {
	Addr string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "manga_tracker"),
				User:           getEnv("POSTGRES_USER", "tracker"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Sync: SyncConfig{
			Mode:                types.SyncMode(strings.ToLower(getEnv("SYNC_MODE", string(types.SyncModeEmbedded)))),
			PollInterval:        getEnvAsDuration("SYNC_POLL_INTERVAL", 15*time.Minute),
			APIBaseURL:          strings.TrimRight(getEnv("SYNC_API_BASE_URL", ""), "/"),
			Secret:              getEnv("SYNC_SECRET", ""),
			IncrementalPageSize: getEnvAsInt("SYNC_INCREMENTAL_PAGE_SIZE", 20),
			FullPageSize:        getEnvAsInt("SYNC_FULL_PAGE_SIZE", 100),
			ChapterPageSize:     getEnvAsInt("SYNC_CHAPTER_PAGE_SIZE", 50),
			FetchTimeout:        getEnvAsDuration("SYNC_FETCH_TIMEOUT", 30*time.Second),
			BackoffInitial:      getEnvAsDuration("SYNC_BACKOFF_INITIAL", time.Second),
			BackoffMax:          getEnvAsDuration("SYNC_BACKOFF_MAX", 60*time.Second),
			TriggerTimeout:      getEnvAsDuration("SYNC_TRIGGER_TIMEOUT", 5*time.Minute),
		},
		MangaDex: MangaDexConfig{
			APIURL:         strings.TrimRight(getEnv("MANGADEX_API_URL", "https://api.mangadex.org"), "/"),
			SiteURL:        strings.TrimRight(getEnv("MANGADEX_SITE_URL", "https://mangadex.org"), "/"),
			CoverURL:       strings.TrimRight(getEnv("MANGADEX_COVER_URL", "https://uploads.mangadex.org"), "/"),
			Language:       getEnv("MANGADEX_LANGUAGE", "en"),
			RateLimit:      getEnvAsFloat("MANGADEX_RATE_LIMIT", 5),
			BreakerEnabled: getEnvAsBool("MANGADEX_BREAKER_ENABLED", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
	}

	return config, nil
}

// Validate checks the sync settings that cannot be defaulted sensibly
func (c *Config) Validate() error {
	s := c.Sync
	switch s.Mode {
	case types.SyncModeEmbedded:
	case types.SyncModeHTTP:
		if s.APIBaseURL == "" {
			return fmt.Errorf("SYNC_API_BASE_URL is required when SYNC_MODE=http")
		}
		if s.Secret == "" {
			return fmt.Errorf("SYNC_SECRET is required when SYNC_MODE=http")
		}
	default:
		return fmt.Errorf("invalid SYNC_MODE %q: must be %q or %q", s.Mode, types.SyncModeEmbedded, types.SyncModeHTTP)
	}

	if s.PollInterval <= 0 {
		return fmt.Errorf("SYNC_POLL_INTERVAL must be positive, got %s", s.PollInterval)
	}
	if s.IncrementalPageSize <= 0 || s.FullPageSize <= 0 || s.ChapterPageSize <= 0 {
		return fmt.Errorf("sync page sizes must be positive (incremental=%d full=%d chapters=%d)",
			s.IncrementalPageSize, s.FullPageSize, s.ChapterPageSize)
	}
	if s.FetchTimeout <= 0 {
		return fmt.Errorf("SYNC_FETCH_TIMEOUT must be positive, got %s", s.FetchTimeout)
	}
	if s.BackoffInitial <= 0 || s.BackoffMax < s.BackoffInitial {
		return fmt.Errorf("invalid backoff bounds: initial=%s max=%s", s.BackoffInitial, s.BackoffMax)
	}
	if c.MangaDex.RateLimit <= 0 {
		return fmt.Errorf("MANGADEX_RATE_LIMIT must be positive, got %v", c.MangaDex.RateLimit)
	}
	return nil
}

// ValidateServer checks the settings required to host the trigger endpoint
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Sync.Secret == "" {
		return fmt.Errorf("SYNC_SECRET is required to serve the trigger endpoint")
	}
	return nil
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

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
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
