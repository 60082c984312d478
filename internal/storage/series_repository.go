package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/manga-tracker/internal/models"
	"github.com/manga-tracker/internal/types"
)

// ErrDuplicateSlug is returned when a new series collides with an existing slug
var ErrDuplicateSlug = errors.New("series slug already exists")

// ErrDuplicateSeries is returned when a series with the same source URL already exists
var ErrDuplicateSeries = errors.New("series source url already exists")

const (
	constraintSeriesSlug      = "series_slug_key"
	constraintSeriesSourceURL = "series_source_url_key"
)

// SeriesRepository handles series persistence
type SeriesRepository struct {
	db *PostgresDB
}

// NewSeriesRepository creates a new series repository
func NewSeriesRepository(db *PostgresDB) *SeriesRepository {
	return &SeriesRepository{db: db}
}

// FindBySourceURL looks a series up by its provenance URL. It returns nil, nil when absent.
func (r *SeriesRepository) FindBySourceURL(ctx context.Context, sourceURL string) (*models.Series, error) {
	query := `
		SELECT id, slug, title, description, cover_url, tags, source_name, source_url,
			   status, created_at, updated_at
		FROM series
		WHERE source_url = $1
	`

	var s models.Series
	var status string
	err := r.db.Pool().QueryRow(ctx, query, sourceURL).Scan(
		&s.ID,
		&s.Slug,
		&s.Title,
		&s.Description,
		&s.CoverURL,
		&s.Tags,
		&s.SourceName,
		&s.SourceURL,
		&status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find series by source url: %w", err)
	}
	s.Status = types.SeriesStatus(status)
	return &s, nil
}

// Insert creates a series and returns it with id and timestamps populated.
// Unique violations map to ErrDuplicateSlug or ErrDuplicateSeries.
func (r *SeriesRepository) Insert(ctx context.Context, s *models.Series) (*models.Series, error) {
	query := `
		INSERT INTO series (slug, title, description, cover_url, tags, source_name, source_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}

	out := *s
	out.Tags = tags
	err := r.db.Pool().QueryRow(ctx, query,
		s.Slug,
		s.Title,
		s.Description,
		s.CoverURL,
		tags,
		s.SourceName,
		s.SourceURL,
		string(s.Status),
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case constraintSeriesSlug:
				return nil, fmt.Errorf("insert series %q: %w", s.Slug, ErrDuplicateSlug)
			case constraintSeriesSourceURL:
				return nil, fmt.Errorf("insert series %q: %w", s.SourceURL, ErrDuplicateSeries)
			}
		}
		return nil, fmt.Errorf("failed to insert series: %w", err)
	}
	return &out, nil
}

// Update refreshes the mutable fields of a series
func (r *SeriesRepository) Update(ctx context.Context, id int64, u models.SeriesUpdate) error {
	query := `
		UPDATE series
		SET title = $2, description = $3, cover_url = $4, tags = $5, updated_at = $6
		WHERE id = $1
	`

	tags := u.Tags
	if tags == nil {
		tags = []string{}
	}

	result, err := r.db.Pool().Exec(ctx, query, id, u.Title, u.Description, u.CoverURL, tags, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update series %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("series not found: %d", id)
	}
	return nil
}
