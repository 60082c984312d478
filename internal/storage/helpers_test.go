package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/manga-tracker/internal/config"
)

// testContext bounds a storage test so a hung database fails it instead of the run
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testPostgresConfig() *config.PostgresConfig {
	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "tracker_dev_password"
	}
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "manga_tracker",
		User:           "tracker",
		Password:       password,
		MaxConnections: 5,
	}
}

// openTestDB connects to a local Postgres and applies the catalog migrations,
// skipping when the database is unavailable
func openTestDB(t *testing.T) *PostgresDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(DatabaseURL(cfg), "../../"+DefaultMigrationsPath); err != nil {
		t.Skipf("Skipping test - migrations failed: %v", err)
	}
	return db
}
