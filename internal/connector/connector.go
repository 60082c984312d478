// Package connector adapts external catalog providers to normalized series and
// chapter records. Connectors never retry; transport failures surface as
// provider-category errors from the errors package.
package connector

import (
	"context"

	"github.com/manga-tracker/internal/types"
)

// Connector fetches normalized records from one provider
type Connector interface {
	// Name identifies the provider in logs, metrics and Series.SourceName
	Name() string
	// SeriesURL returns the canonical provider URL for a native series id.
	// It is the provenance key used to deduplicate series across syncs.
	SeriesURL(nativeID string) string
	FetchSeriesList(ctx context.Context, page Page) ([]types.NormalizedSeries, error)
	FetchChapters(ctx context.Context, seriesID string, page Page) ([]types.NormalizedChapter, error)
}

// Page selects a window of provider results. Number is 1-based.
type Page struct {
	Number int
	Limit  int
}

// Offset returns the zero-based item offset of the page
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Limit
}
