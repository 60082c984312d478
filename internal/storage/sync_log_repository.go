package storage

import (
	"context"
	"fmt"

	"github.com/manga-tracker/internal/models"
	"github.com/manga-tracker/internal/types"
)

// Default and maximum page sizes for sync log reads
const (
	DefaultSyncLogLimit = 20
	MaxSyncLogLimit     = 200
)

// SyncLogRepository handles the append-only sync history
type SyncLogRepository struct {
	db *PostgresDB
}

// NewSyncLogRepository creates a new sync log repository
func NewSyncLogRepository(db *PostgresDB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// Append inserts one sync log row and fills in its id
func (r *SyncLogRepository) Append(ctx context.Context, l *models.SyncLog) error {
	query := `
		INSERT INTO sync_logs (
			source_id, status, series_synced, chapters_synced,
			error_message, started_at, completed_at, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	metadata := l.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	err := r.db.Pool().QueryRow(ctx, query,
		l.SourceID,
		string(l.Status),
		l.SeriesSynced,
		l.ChaptersSynced,
		l.ErrorMessage,
		l.StartedAt,
		l.CompletedAt,
		metadata,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// ListRecent returns the newest sync logs of a source, newest first
func (r *SyncLogRepository) ListRecent(ctx context.Context, sourceID int64, limit int) ([]*models.SyncLog, error) {
	if limit <= 0 {
		limit = DefaultSyncLogLimit
	}
	if limit > MaxSyncLogLimit {
		limit = MaxSyncLogLimit
	}

	query := `
		SELECT id, source_id, status, series_synced, chapters_synced,
			   error_message, started_at, completed_at, metadata
		FROM sync_logs
		WHERE source_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.SyncLog, 0, limit)
	for rows.Next() {
		var l models.SyncLog
		var status string
		if err := rows.Scan(
			&l.ID,
			&l.SourceID,
			&status,
			&l.SeriesSynced,
			&l.ChaptersSynced,
			&l.ErrorMessage,
			&l.StartedAt,
			&l.CompletedAt,
			&l.Metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		l.Status = types.SyncStatus(status)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}
	return logs, nil
}
