package storage

import (
	"context"
	"fmt"

	"github.com/manga-tracker/internal/models"
)

// ChapterRepository handles chapter persistence. Chapters are insert-only.
type ChapterRepository struct {
	db *PostgresDB
}

// NewChapterRepository creates a new chapter repository
func NewChapterRepository(db *PostgresDB) *ChapterRepository {
	return &ChapterRepository{db: db}
}

// InsertIfAbsent inserts a chapter unless (series_id, external_id) already exists.
// It reports whether a row was written.
func (r *ChapterRepository) InsertIfAbsent(ctx context.Context, c *models.Chapter) (bool, error) {
	query := `
		INSERT INTO chapters (series_id, number, title, language, published_at, external_id, source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (series_id, external_id) DO NOTHING
	`

	result, err := r.db.Pool().Exec(ctx, query,
		c.SeriesID,
		c.Number,
		c.Title,
		c.Language,
		c.PublishedAt,
		c.ExternalID,
		c.SourceID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert chapter %s: %w", c.ExternalID, err)
	}
	return result.RowsAffected() == 1, nil
}

// CountBySeries returns the number of chapters recorded for a series
func (r *ChapterRepository) CountBySeries(ctx context.Context, seriesID int64) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM chapters WHERE series_id = $1`, seriesID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chapters: %w", err)
	}
	return count, nil
}
