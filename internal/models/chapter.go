package models

import (
	"time"

	"github.com/manga-tracker/internal/types"
)

// Chapter represents one published installment of a Series
// Chapters are immutable once recorded; (SeriesID, ExternalID) is unique
type Chapter struct {
	ID          int64      `json:"id" db:"id"`
	SeriesID    int64      `json:"seriesId" db:"series_id"`
	Number      float64    `json:"number" db:"number"`
	Title       string     `json:"title" db:"title"`
	Language    string     `json:"language" db:"language"`
	PublishedAt *time.Time `json:"publishedAt,omitempty" db:"published_at"`
	ExternalID  string     `json:"externalId" db:"external_id"`
	SourceID    int64      `json:"sourceId" db:"source_id"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
}

// FromNormalizedChapter converts a provider chapter to a Chapter row owned by seriesID
func FromNormalizedChapter(ch *types.NormalizedChapter, seriesID, sourceID int64) *Chapter {
	return &Chapter{
		SeriesID:    seriesID,
		Number:      ch.Number,
		Title:       ch.Title,
		Language:    ch.Language,
		PublishedAt: ch.PublishedAt,
		ExternalID:  ch.ID,
		SourceID:    sourceID,
	}
}
