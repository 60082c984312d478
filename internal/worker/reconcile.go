package worker

import (
	"context"
	stderrors "errors"

	"github.com/manga-tracker/internal/connector"
	"github.com/manga-tracker/internal/errors"
	"github.com/manga-tracker/internal/logging"
	"github.com/manga-tracker/internal/models"
	"github.com/manga-tracker/internal/slug"
	"github.com/manga-tracker/internal/storage"
	"github.com/manga-tracker/internal/types"
)

// slugIDPrefix is how much of the native id is appended to a colliding slug
const slugIDPrefix = 8

type reconcileOutcome struct {
	seriesSynced   int
	chaptersSynced int
	itemErrors     int
}

// reconcile pulls the first page of the provider listing and folds every item into
// the catalog. Only the listing fetch is fatal; per-item failures are counted.
func (e *Engine) reconcile(ctx context.Context, source *models.Source, conn connector.Connector, full bool, logger *logging.Logger) (*reconcileOutcome, error) {
	limit := e.incrementalPageSize
	if full {
		limit = e.fullPageSize
	}

	items, err := conn.FetchSeriesList(ctx, connector.Page{Number: 1, Limit: limit})
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"provider": conn.Name(),
		"items":    len(items),
	}).Debug("Fetched series list")

	out := &reconcileOutcome{}
	for i := range items {
		if err := ctx.Err(); err != nil {
			remaining := len(items) - i
			out.itemErrors += remaining
			logger.WithError(err).WithField("skipped", remaining).Warn("Sync interrupted")
			break
		}

		item := &items[i]
		res, err := e.syncItem(ctx, source, conn, item, full, logger)
		if err != nil {
			out.itemErrors++
			logger.WithError(errors.NewItemError(item.ID, err)).Warn("Failed to sync series")
			continue
		}
		if res.created {
			out.seriesSynced++
		}
		out.chaptersSynced += res.chapters
		out.itemErrors += res.chapterErrors
	}
	return out, nil
}

// itemResult is what one listing item contributed to the job counters
type itemResult struct {
	created       bool // a new series row was inserted
	chapters      int
	chapterErrors int
}

// syncItem creates or refreshes one series. A returned error means the series
// itself was not synced; chapter failures are only counted. Refreshing a known
// series does not count toward seriesSynced.
func (e *Engine) syncItem(ctx context.Context, source *models.Source, conn connector.Connector, item *types.NormalizedSeries, full bool, logger *logging.Logger) (itemResult, error) {
	sourceURL := conn.SeriesURL(item.ID)

	existing, err := e.store.FindSeriesBySourceURL(ctx, sourceURL)
	if err != nil {
		return itemResult{}, err
	}

	if existing != nil {
		if err := e.store.UpdateSeries(ctx, existing.ID, models.UpdateFromNormalized(item, e.now())); err != nil {
			return itemResult{}, err
		}
		if !full {
			return itemResult{}, nil
		}
		chapters, errs := e.syncChapters(ctx, source, conn, item.ID, existing.ID, logger)
		return itemResult{chapters: chapters, chapterErrors: errs}, nil
	}

	created, err := e.insertSeries(ctx, conn, item, sourceURL)
	if err != nil {
		return itemResult{}, err
	}
	chapters, errs := e.syncChapters(ctx, source, conn, item.ID, created.ID, logger)
	return itemResult{created: true, chapters: chapters, chapterErrors: errs}, nil
}

// insertSeries stores a new series, retrying once with an id-suffixed slug on collision
func (e *Engine) insertSeries(ctx context.Context, conn connector.Connector, item *types.NormalizedSeries, sourceURL string) (*models.Series, error) {
	idPrefix := item.ID
	if len(idPrefix) > slugIDPrefix {
		idPrefix = idPrefix[:slugIDPrefix]
	}

	base := slug.From(item.Title)
	if base == "" {
		base = slug.WithSuffix("series", idPrefix)
	}

	created, err := e.store.InsertSeries(ctx, models.NewSeriesFromNormalized(item, base, conn.Name(), sourceURL))
	if err == nil {
		return created, nil
	}
	if !stderrors.Is(err, storage.ErrDuplicateSlug) {
		return nil, err
	}

	return e.store.InsertSeries(ctx, models.NewSeriesFromNormalized(item, slug.WithSuffix(base, idPrefix), conn.Name(), sourceURL))
}

// syncChapters inserts the first chapter page of a series and returns how many
// rows were new and how many failed
func (e *Engine) syncChapters(ctx context.Context, source *models.Source, conn connector.Connector, nativeID string, seriesID int64, logger *logging.Logger) (int, int) {
	chapters, err := conn.FetchChapters(ctx, nativeID, connector.Page{Number: 1, Limit: e.chapterPageSize})
	if err != nil {
		logger.WithError(errors.NewItemError(nativeID, err)).Warn("Failed to fetch chapters")
		return 0, 1
	}

	inserted, failed := 0, 0
	for i := range chapters {
		ok, err := e.store.InsertChapterIfAbsent(ctx, models.FromNormalizedChapter(&chapters[i], seriesID, source.ID))
		if err != nil {
			failed++
			logger.WithError(errors.NewItemError(chapters[i].ID, err)).Warn("Failed to store chapter")
			continue
		}
		if ok {
			inserted++
		}
	}
	return inserted, failed
}
