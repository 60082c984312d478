// Package types provides common type definitions for the catalog sync system.
package types

import "time"

// SyncStatus represents the outcome of one sync job
type SyncStatus string

const (
	// SyncStatusSuccess means every step of the job completed
	SyncStatusSuccess SyncStatus = "success"
	// SyncStatusPartial means the series list was fetched but some items failed
	SyncStatusPartial SyncStatus = "partial"
	// SyncStatusFailed means the job failed before reconciliation could run
	SyncStatusFailed SyncStatus = "failed"
)

// IsValid reports whether s is one of the known sync statuses
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusSuccess, SyncStatusPartial, SyncStatusFailed:
		return true
	default:
		return false
	}
}

// SeriesStatus represents the publication status of a series
type SeriesStatus string

const (
	// SeriesStatusOngoing represents a series still being published
	SeriesStatusOngoing SeriesStatus = "ongoing"
	// SeriesStatusCompleted represents a finished series
	SeriesStatusCompleted SeriesStatus = "completed"
	// SeriesStatusHiatus represents a series on break
	SeriesStatusHiatus SeriesStatus = "hiatus"
	// SeriesStatusCancelled represents a series that was dropped
	SeriesStatusCancelled SeriesStatus = "cancelled"
)

// SyncMode selects how the poll driver reaches the engine
type SyncMode string

const (
	// SyncModeEmbedded runs the engine inside the worker process
	SyncModeEmbedded SyncMode = "embedded"
	// SyncModeHTTP calls the trigger endpoint of a separate server
	SyncModeHTTP SyncMode = "http"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NormalizedSeries represents a provider series in common format across all providers
type NormalizedSeries struct {
	ID          string       `json:"id"` // Provider-native id
	Title       string       `json:"title"`
	Description string       `json:"description"`
	CoverURL    string       `json:"coverUrl"`
	Tags        []string     `json:"tags"`
	Status      SeriesStatus `json:"status"`
}

// NormalizedChapter represents a provider chapter in common format across all providers
type NormalizedChapter struct {
	ID          string     `json:"id"`     // Provider-native chapter id
	Number      float64    `json:"number"` // May be fractional (139.5)
	Title       string     `json:"title"`
	Language    string     `json:"language"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}
