package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/manga-tracker/internal/models"
)

// SourceRepository handles source persistence.
// Sources are seeded by admin tooling; sync only reads them and stamps last_checked.
type SourceRepository struct {
	db *PostgresDB
}

// NewSourceRepository creates a new source repository
func NewSourceRepository(db *PostgresDB) *SourceRepository {
	return &SourceRepository{db: db}
}

const sourceColumns = `id, name, domain, enabled, verified, trust_level, last_checked, created_at, updated_at`

func scanSource(row pgx.Row) (*models.Source, error) {
	var s models.Source
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Domain,
		&s.Enabled,
		&s.Verified,
		&s.TrustLevel,
		&s.LastChecked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Get retrieves a source by id. It returns nil, nil when the source does not exist.
func (r *SourceRepository) Get(ctx context.Context, id int64) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

	s, err := scanSource(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get source %d: %w", id, err)
	}
	return s, nil
}

// ListEnabled retrieves every enabled source ordered by id
func (r *SourceRepository) ListEnabled(ctx context.Context) ([]*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE enabled = TRUE ORDER BY id`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}
	return sources, nil
}

// UpdateLastChecked stamps the time of the last successful sync
func (r *SourceRepository) UpdateLastChecked(ctx context.Context, id int64, ts time.Time) error {
	query := `UPDATE sources SET last_checked = $2, updated_at = $2 WHERE id = $1`

	if _, err := r.db.Pool().Exec(ctx, query, id, ts); err != nil {
		return fmt.Errorf("failed to update last_checked for source %d: %w", id, err)
	}
	return nil
}

// Create inserts a source and fills in its id and timestamps
func (r *SourceRepository) Create(ctx context.Context, s *models.Source) error {
	query := `
		INSERT INTO sources (name, domain, enabled, verified, trust_level)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query, s.Name, s.Domain, s.Enabled, s.Verified, s.TrustLevel).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	return nil
}
