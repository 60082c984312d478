package config

import (
	"os"
	"testing"
	"time"

	"github.com/manga-tracker/internal/types"
)

func TestLoadConfig(t *testing.T) {
	// Set some test environment variables
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("SYNC_POLL_INTERVAL", "5m"); err != nil {
		t.Fatalf("Failed to set SYNC_POLL_INTERVAL: %v", err)
	}
	if err := os.Setenv("SYNC_API_BASE_URL", "http://app.local/api/"); err != nil {
		t.Fatalf("Failed to set SYNC_API_BASE_URL: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("SYNC_POLL_INTERVAL")
		_ = os.Unsetenv("SYNC_API_BASE_URL")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Sync.PollInterval != 5*time.Minute {
		t.Errorf("Sync.PollInterval = %v, want %v", cfg.Sync.PollInterval, 5*time.Minute)
	}

	if cfg.Sync.APIBaseURL != "http://app.local/api" {
		t.Errorf("Sync.APIBaseURL = %v, want trailing slash trimmed", cfg.Sync.APIBaseURL)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Sync.Mode != types.SyncModeEmbedded {
		t.Errorf("Sync.Mode = %v, want %v", cfg.Sync.Mode, types.SyncModeEmbedded)
	}
	if cfg.Sync.IncrementalPageSize != 20 || cfg.Sync.FullPageSize != 100 || cfg.Sync.ChapterPageSize != 50 {
		t.Errorf("unexpected page sizes: %+v", cfg.Sync)
	}
	if cfg.Sync.BackoffInitial != time.Second || cfg.Sync.BackoffMax != 60*time.Second {
		t.Errorf("unexpected backoff bounds: %v / %v", cfg.Sync.BackoffInitial, cfg.Sync.BackoffMax)
	}
	if cfg.Sync.FetchTimeout != 30*time.Second {
		t.Errorf("Sync.FetchTimeout = %v, want 30s", cfg.Sync.FetchTimeout)
	}
	if cfg.MangaDex.APIURL != "https://api.mangadex.org" {
		t.Errorf("MangaDex.APIURL = %v", cfg.MangaDex.APIURL)
	}
	if cfg.Database.Redis.Enabled {
		t.Error("Redis should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Sync: SyncConfig{
				Mode:                types.SyncModeEmbedded,
				PollInterval:        15 * time.Minute,
				IncrementalPageSize: 20,
				FullPageSize:        100,
				ChapterPageSize:     50,
				FetchTimeout:        30 * time.Second,
				BackoffInitial:      time.Second,
				BackoffMax:          time.Minute,
			},
			MangaDex: MangaDexConfig{RateLimit: 5},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid embedded", func(c *Config) {}, false},
		{"http mode without base url", func(c *Config) {
			c.Sync.Mode = types.SyncModeHTTP
			c.Sync.Secret = "s3cret"
		}, true},
		{"http mode without secret", func(c *Config) {
			c.Sync.Mode = types.SyncModeHTTP
			c.Sync.APIBaseURL = "http://app.local"
		}, true},
		{"valid http mode", func(c *Config) {
			c.Sync.Mode = types.SyncModeHTTP
			c.Sync.APIBaseURL = "http://app.local"
			c.Sync.Secret = "s3cret"
		}, false},
		{"unknown mode", func(c *Config) { c.Sync.Mode = "cron" }, true},
		{"zero poll interval", func(c *Config) { c.Sync.PollInterval = 0 }, true},
		{"negative page size", func(c *Config) { c.Sync.ChapterPageSize = -1 }, true},
		{"max below initial backoff", func(c *Config) { c.Sync.BackoffMax = time.Millisecond }, true},
		{"zero rate limit", func(c *Config) { c.MangaDex.RateLimit = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	cfg := base()
	if err := cfg.ValidateServer(); err == nil {
		t.Error("ValidateServer() should require SYNC_SECRET")
	}
}

func TestGetEnvAsBool(t *testing.T) {
	if err := os.Setenv("TEST_BOOL", "true"); err != nil {
		t.Fatalf("Failed to set env var: %v", err)
	}
	if err := os.Setenv("TEST_BOOL_INVALID", "maybe"); err != nil {
		t.Fatalf("Failed to set env var: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("TEST_BOOL")
		_ = os.Unsetenv("TEST_BOOL_INVALID")
	}()

	if !getEnvAsBool("TEST_BOOL", false) {
		t.Error("getEnvAsBool() = false, want true")
	}
	if getEnvAsBool("TEST_BOOL_INVALID", false) {
		t.Error("invalid bool should fall back to default")
	}
	if !getEnvAsBool("TEST_BOOL_NOTSET", true) {
		t.Error("unset bool should fall back to default")
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
