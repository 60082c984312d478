package models

import (
	"time"

	"github.com/manga-tracker/internal/types"
)

// Series represents a canonical catalog entry
// SourceURL is a provenance pointer, not a foreign key to Source
type Series struct {
	ID          int64              `json:"id" db:"id"`
	Slug        string             `json:"slug" db:"slug"`
	Title       string             `json:"title" db:"title"`
	Description string             `json:"description" db:"description"`
	CoverURL    string             `json:"coverUrl" db:"cover_url"`
	Tags        []string           `json:"tags" db:"tags"`
	SourceName  string             `json:"sourceName" db:"source_name"`
	SourceURL   string             `json:"sourceUrl" db:"source_url"`
	Status      types.SeriesStatus `json:"status" db:"status"`
	CreatedAt   time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time          `json:"updatedAt" db:"updated_at"`
}

// SeriesUpdate holds the fields refreshed on every sighting of a known series
type SeriesUpdate struct {
	Title       string
	Description string
	CoverURL    string
	Tags        []string
	UpdatedAt   time.Time
}

// NewSeriesFromNormalized builds an unsaved Series row for a provider item
func NewSeriesFromNormalized(item *types.NormalizedSeries, slug, sourceName, sourceURL string) *Series {
	status := item.Status
	if status == "" {
		status = types.SeriesStatusOngoing
	}
	return &Series{
		Slug:        slug,
		Title:       item.Title,
		Description: item.Description,
		CoverURL:    item.CoverURL,
		Tags:        item.Tags,
		SourceName:  sourceName,
		SourceURL:   sourceURL,
		Status:      status,
	}
}

// UpdateFromNormalized builds the refresh payload for an existing series
func UpdateFromNormalized(item *types.NormalizedSeries, now time.Time) SeriesUpdate {
	return SeriesUpdate{
		Title:       item.Title,
		Description: item.Description,
		CoverURL:    item.CoverURL,
		Tags:        item.Tags,
		UpdatedAt:   now,
	}
}
