package storage

import (
	"context"
	"time"

	"github.com/manga-tracker/internal/models"
)

// CatalogStore groups the repositories the sync engine reads and writes
type CatalogStore struct {
	sources  *SourceRepository
	series   *SeriesRepository
	chapters *ChapterRepository
	syncLogs *SyncLogRepository
}

// NewCatalogStore creates a catalog store backed by Postgres
func NewCatalogStore(db *PostgresDB) *CatalogStore {
	return &CatalogStore{
		sources:  NewSourceRepository(db),
		series:   NewSeriesRepository(db),
		chapters: NewChapterRepository(db),
		syncLogs: NewSyncLogRepository(db),
	}
}

// GetSource returns the source or nil when it does not exist
func (s *CatalogStore) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	return s.sources.Get(ctx, id)
}

// ListEnabledSources returns every enabled source
func (s *CatalogStore) ListEnabledSources(ctx context.Context) ([]*models.Source, error) {
	return s.sources.ListEnabled(ctx)
}

// UpdateSourceLastChecked stamps a successful sync
func (s *CatalogStore) UpdateSourceLastChecked(ctx context.Context, id int64, ts time.Time) error {
	return s.sources.UpdateLastChecked(ctx, id, ts)
}

// FindSeriesBySourceURL returns the series with this provenance URL or nil
func (s *CatalogStore) FindSeriesBySourceURL(ctx context.Context, sourceURL string) (*models.Series, error) {
	return s.series.FindBySourceURL(ctx, sourceURL)
}

// InsertSeries creates a series
func (s *CatalogStore) InsertSeries(ctx context.Context, series *models.Series) (*models.Series, error) {
	return s.series.Insert(ctx, series)
}

// UpdateSeries refreshes a series' mutable fields
func (s *CatalogStore) UpdateSeries(ctx context.Context, id int64, u models.SeriesUpdate) error {
	return s.series.Update(ctx, id, u)
}

// InsertChapterIfAbsent inserts a chapter unless it is already recorded
func (s *CatalogStore) InsertChapterIfAbsent(ctx context.Context, c *models.Chapter) (bool, error) {
	return s.chapters.InsertIfAbsent(ctx, c)
}

// AppendSyncLog records a sync job outcome
func (s *CatalogStore) AppendSyncLog(ctx context.Context, l *models.SyncLog) error {
	return s.syncLogs.Append(ctx, l)
}

// ListRecentSyncLogs returns recent sync history for a source
func (s *CatalogStore) ListRecentSyncLogs(ctx context.Context, sourceID int64, limit int) ([]*models.SyncLog, error) {
	return s.syncLogs.ListRecent(ctx, sourceID, limit)
}

// Sources exposes the source repository for seeding and admin tooling
func (s *CatalogStore) Sources() *SourceRepository {
	return s.sources
}

// Chapters exposes the chapter repository
func (s *CatalogStore) Chapters() *ChapterRepository {
	return s.chapters
}
