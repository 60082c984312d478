package models

import (
	"time"

	"github.com/manga-tracker/internal/types"
)

// SyncLog is an append-only audit record of one sync job execution
type SyncLog struct {
	ID             int64                  `json:"id" db:"id"`
	SourceID       int64                  `json:"sourceId" db:"source_id"`
	Status         types.SyncStatus       `json:"status" db:"status"`
	SeriesSynced   int                    `json:"seriesSynced" db:"series_synced"`
	ChaptersSynced int                    `json:"chaptersSynced" db:"chapters_synced"`
	ErrorMessage   *string                `json:"errorMessage,omitempty" db:"error_message"`
	StartedAt      time.Time              `json:"startedAt" db:"started_at"`
	CompletedAt    time.Time              `json:"completedAt" db:"completed_at"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}

// Duration returns how long the job ran
func (l *SyncLog) Duration() time.Duration {
	return l.CompletedAt.Sub(l.StartedAt)
}
