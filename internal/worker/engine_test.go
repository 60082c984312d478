package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manga-tracker/internal/connector"
	"github.com/manga-tracker/internal/logging"
	"github.com/manga-tracker/internal/models"
	"github.com/manga-tracker/internal/retry"
	"github.com/manga-tracker/internal/types"
)

func testLogger() *logging.Logger {
	return logging.NewLoggerWithOutput(logging.LevelError, logging.FormatJSON, io.Discard)
}

func newTestEngine(t *testing.T, store Store, conn connector.Connector, sleeps *sleepRecorder) *Engine {
	t.Helper()

	reg := connector.NewRegistry()
	if conn != nil {
		reg.Register(testDomain, conn)
	}
	if sleeps == nil {
		sleeps = &sleepRecorder{}
	}

	engine, err := NewEngine(&EngineConfig{
		Store:      store,
		Connectors: reg,
		Backoff:    retry.NewBackoffTracker(time.Second, 60*time.Second),
		Logger:     testLogger(),
		Sleep:      sleeps.sleep,
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil)
	assert.Error(t, err)

	_, err = NewEngine(&EngineConfig{Connectors: connector.NewRegistry()})
	assert.Error(t, err)

	_, err = NewEngine(&EngineConfig{Store: newMemoryStore()})
	assert.Error(t, err)

	engine, err := NewEngine(&EngineConfig{Store: newMemoryStore(), Connectors: connector.NewRegistry()})
	require.NoError(t, err)
	defer engine.Close()
	assert.Equal(t, 20, engine.incrementalPageSize)
	assert.Equal(t, 100, engine.fullPageSize)
	assert.Equal(t, 50, engine.chapterPageSize)
}

func TestSyncSource_NewSeriesWithChapters(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(types.NormalizedSeries{
		ID:     "abc123",
		Title:  "Test Series",
		Tags:   []string{"Action"},
		Status: types.SeriesStatusOngoing,
	})
	for _, ch := range testChapters("abc123", 3) {
		conn.addChapter("abc123", ch)
	}
	engine := newTestEngine(t, store, conn, nil)

	result := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusSuccess, result.Status)
	assert.Equal(t, 1, result.SeriesSynced)
	assert.Equal(t, 3, result.ChaptersSynced)
	assert.Zero(t, result.ItemErrors)
	assert.Empty(t, result.Error)

	series := store.seriesBySlug("test-series")
	require.NotNil(t, series)
	assert.Equal(t, "Test Series", series.Title)
	assert.Equal(t, "Example", series.SourceName)
	assert.Equal(t, "https://example.test/series/abc123", series.SourceURL)
	assert.Equal(t, 3, store.chapterCount())

	assert.NotNil(t, store.lastChecked(1))

	logs := store.syncLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.SyncStatusSuccess, logs[0].Status)
	assert.Equal(t, 1, logs[0].SeriesSynced)
	assert.Equal(t, 3, logs[0].ChaptersSynced)
	assert.Nil(t, logs[0].ErrorMessage)
	assert.False(t, logs[0].CompletedAt.Before(logs[0].StartedAt))
	assert.Equal(t, false, logs[0].Metadata["full"])
	assert.Equal(t, "Example", logs[0].Metadata["provider"])
	assert.Equal(t, 0, logs[0].Metadata["itemErrors"])
	_, err := uuid.Parse(logs[0].Metadata["runId"].(string))
	assert.NoError(t, err)
}

func TestSyncSource_PageLimits(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(types.NormalizedSeries{ID: "abc123", Title: "Test Series"})
	engine := newTestEngine(t, store, conn, nil)

	engine.SyncSource(context.Background(), 1, false)
	engine.SyncSource(context.Background(), 1, true)

	require.Len(t, conn.listPages, 2)
	assert.Equal(t, connector.Page{Number: 1, Limit: 20}, conn.listPages[0])
	assert.Equal(t, connector.Page{Number: 1, Limit: 100}, conn.listPages[1])

	// new series on the first run, known series on the full run
	require.Len(t, conn.chapterPages, 2)
	for _, p := range conn.chapterPages {
		assert.Equal(t, connector.Page{Number: 1, Limit: 50}, p)
	}
}

func TestSyncSource_ChapterInsertIsIdempotent(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(types.NormalizedSeries{ID: "abc123", Title: "Test Series"})
	for _, ch := range testChapters("abc123", 3) {
		conn.addChapter("abc123", ch)
	}
	engine := newTestEngine(t, store, conn, nil)

	first := engine.SyncSource(context.Background(), 1, true)
	second := engine.SyncSource(context.Background(), 1, true)

	assert.Equal(t, 3, first.ChaptersSynced)
	assert.Equal(t, 0, second.ChaptersSynced)
	assert.Equal(t, 1, first.SeriesSynced)
	assert.Zero(t, second.SeriesSynced, "a known series is refreshed, not counted")
	assert.Equal(t, types.SyncStatusSuccess, second.Status)
	assert.Equal(t, 3, store.chapterCount())
}

func TestSyncSource_DedupByProvenanceAcrossRetitle(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(types.NormalizedSeries{ID: "abc123", Title: "Test Series"})
	engine := newTestEngine(t, store, conn, nil)

	engine.SyncSource(context.Background(), 1, false)
	conn.setTitle("abc123", "Test Series (Renamed)")
	result := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusSuccess, result.Status)
	assert.Zero(t, result.SeriesSynced)
	assert.Equal(t, 1, store.seriesCount())

	// slug is fixed at creation, the title follows the provider
	series := store.seriesBySlug("test-series")
	require.NotNil(t, series)
	assert.Equal(t, "Test Series (Renamed)", series.Title)
}

func TestSyncSource_CountsOnlyNewSeries(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(types.NormalizedSeries{ID: "s1", Title: "Series One"})
	engine := newTestEngine(t, store, conn, nil)

	first := engine.SyncSource(context.Background(), 1, false)
	require.Equal(t, 1, first.SeriesSynced)

	conn.addSeries(types.NormalizedSeries{ID: "s2", Title: "Series Two"})
	second := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusSuccess, second.Status)
	assert.Equal(t, 1, second.SeriesSynced)
	assert.Equal(t, 2, store.seriesCount())

	logs := store.syncLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, 1, logs[1].SeriesSynced)
}

// ctxStore refuses writes on a finished context, as pgx does
type ctxStore struct {
	*memoryStore
}

func (s *ctxStore) UpdateSourceLastChecked(ctx context.Context, id int64, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memoryStore.UpdateSourceLastChecked(ctx, id, ts)
}

func (s *ctxStore) AppendSyncLog(ctx context.Context, l *models.SyncLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memoryStore.AppendSyncLog(ctx, l)
}

// cancellingConnector cancels the job context while the listing is in flight
type cancellingConnector struct {
	*fakeConnector
	cancel context.CancelFunc
}

func (c *cancellingConnector) FetchSeriesList(ctx context.Context, page connector.Page) ([]types.NormalizedSeries, error) {
	c.cancel()
	return c.fakeConnector.FetchSeriesList(ctx, page)
}

func TestSyncSource_CancelledJobStillWritesLog(t *testing.T) {
	mem := newMemoryStore(testSource(1))
	store := &ctxStore{memoryStore: mem}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &cancellingConnector{
		fakeConnector: newFakeConnector(
			types.NormalizedSeries{ID: "s1", Title: "Series One"},
			types.NormalizedSeries{ID: "s2", Title: "Series Two"},
		),
		cancel: cancel,
	}
	engine := newTestEngine(t, store, conn, nil)

	result := engine.SyncSource(ctx, 1, false)

	assert.Equal(t, types.SyncStatusPartial, result.Status)
	assert.Equal(t, 2, result.ItemErrors)

	logs := mem.syncLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.SyncStatusPartial, logs[0].Status)
	assert.Equal(t, 2, logs[0].Metadata["itemErrors"])
	assert.NotNil(t, mem.lastChecked(1))
}

func TestSyncSource_IncrementalSkipsChaptersOfKnownSeries(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(types.NormalizedSeries{ID: "abc123", Title: "Test Series"})
	for _, ch := range testChapters("abc123", 2) {
		conn.addChapter("abc123", ch)
	}
	engine := newTestEngine(t, store, conn, nil)

	engine.SyncSource(context.Background(), 1, false)
	conn.addChapter("abc123", types.NormalizedChapter{ID: "abc123-ch-3", Number: 3})

	incremental := engine.SyncSource(context.Background(), 1, false)
	assert.Equal(t, 0, incremental.ChaptersSynced)

	full := engine.SyncSource(context.Background(), 1, true)
	assert.Equal(t, 1, full.ChaptersSynced)
	assert.Equal(t, 3, store.chapterCount())
}

func TestSyncSource_PartialFailureIsolation(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(
		types.NormalizedSeries{ID: "s1", Title: "Series One"},
		types.NormalizedSeries{ID: "s2", Title: "Series Two"},
		types.NormalizedSeries{ID: "s3", Title: "Series Three"},
		types.NormalizedSeries{ID: "s4", Title: "Series Four"},
		types.NormalizedSeries{ID: "s5", Title: "Series Five"},
	)
	store.findErrs[conn.SeriesURL("s3")] = errors.New("connection reset")
	engine := newTestEngine(t, store, conn, nil)
	engine.backoff.RecordFailure(1)

	result := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusPartial, result.Status)
	assert.Equal(t, 4, result.SeriesSynced)
	assert.Equal(t, 1, result.ItemErrors)
	assert.Equal(t, 4, store.seriesCount())
	assert.NotNil(t, store.lastChecked(1))
	assert.Empty(t, engine.Status().Backoff)

	logs := store.syncLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.SyncStatusPartial, logs[0].Status)
	assert.Equal(t, 1, logs[0].Metadata["itemErrors"])
}

func TestSyncSource_ChapterFetchFailureCountsAsItemError(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(
		types.NormalizedSeries{ID: "s1", Title: "Series One"},
		types.NormalizedSeries{ID: "s2", Title: "Series Two"},
	)
	conn.chapterErrs["s1"] = errors.New("feed unavailable")
	for _, ch := range testChapters("s2", 2) {
		conn.addChapter("s2", ch)
	}
	engine := newTestEngine(t, store, conn, nil)

	result := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusPartial, result.Status)
	assert.Equal(t, 2, result.SeriesSynced)
	assert.Equal(t, 2, result.ChaptersSynced)
	assert.Equal(t, 1, result.ItemErrors)
}

func TestSyncSource_SlugCollisionFallsBackToIDSuffix(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(
		types.NormalizedSeries{ID: "aaaaaaaa-1111", Title: "Same Title"},
		types.NormalizedSeries{ID: "bbbbbbbb-2222", Title: "Same Title!"},
	)
	engine := newTestEngine(t, store, conn, nil)

	result := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusSuccess, result.Status)
	assert.Equal(t, 2, result.SeriesSynced)
	assert.Equal(t, []string{"same-title", "same-title", "same-title-bbbbbbbb"}, store.insertedSlugs)
	assert.NotNil(t, store.seriesBySlug("same-title-bbbbbbbb"))
}

func TestSyncSource_TitleWithoutASCIIUsesIDSlug(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(types.NormalizedSeries{ID: "abcdef123456", Title: "ワンピース"})
	engine := newTestEngine(t, store, conn, nil)

	result := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusSuccess, result.Status)
	assert.NotNil(t, store.seriesBySlug("series-abcdef12"))
}

func TestSyncSource_MissingSource(t *testing.T) {
	store := newMemoryStore()
	engine := newTestEngine(t, store, newFakeConnector(), nil)

	var result *SyncResult
	require.NotPanics(t, func() {
		result = engine.SyncSource(context.Background(), 99, false)
	})

	assert.Equal(t, types.SyncStatusFailed, result.Status)
	assert.Zero(t, result.SeriesSynced)
	assert.Zero(t, result.ChaptersSynced)
	assert.Equal(t, "source 99 not found or disabled", result.Error)

	logs := store.syncLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, int64(99), logs[0].SourceID)
	assert.Equal(t, types.SyncStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Contains(t, *logs[0].ErrorMessage, "not found or disabled")

	assert.Equal(t, "1s", engine.Status().Backoff[99])
}

func TestSyncSource_DisabledSource(t *testing.T) {
	src := testSource(1)
	src.Enabled = false
	store := newMemoryStore(src)
	engine := newTestEngine(t, store, newFakeConnector(types.NormalizedSeries{ID: "x", Title: "X"}), nil)

	result := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusFailed, result.Status)
	assert.Equal(t, "source 1 not found or disabled", result.Error)
	assert.Nil(t, store.lastChecked(1))
	assert.Zero(t, store.seriesCount())
}

func TestSyncSource_NoConnectorForDomain(t *testing.T) {
	src := testSource(1)
	src.Domain = "unknown.test"
	store := newMemoryStore(src)
	engine := newTestEngine(t, store, newFakeConnector(), nil)

	result := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusFailed, result.Status)
	assert.Contains(t, result.Error, "unknown.test")
	require.Len(t, store.syncLogs(), 1)
	_, hasProvider := store.syncLogs()[0].Metadata["provider"]
	assert.False(t, hasProvider)
}

func TestSyncSource_ListFetchFailure(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(types.NormalizedSeries{ID: "abc123", Title: "Test Series"})
	conn.setListErr(errors.New("503 from provider"))
	engine := newTestEngine(t, store, conn, nil)

	result := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusFailed, result.Status)
	assert.Zero(t, result.SeriesSynced)
	assert.Contains(t, result.Error, "503 from provider")
	assert.Nil(t, store.lastChecked(1))
	assert.Zero(t, store.seriesCount())
	assert.Len(t, store.syncLogs(), 1)
}

func TestSyncSource_LogPersistenceFailureIsSwallowed(t *testing.T) {
	store := newMemoryStore(testSource(1))
	store.appendLogErr = errors.New("disk full")
	conn := newFakeConnector(types.NormalizedSeries{ID: "abc123", Title: "Test Series"})
	recorder := &memoryRecorder{}

	engine, err := NewEngine(&EngineConfig{
		Store:      store,
		Connectors: registryWith(conn),
		Recorder:   recorder,
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	defer engine.Close()

	result := engine.SyncSource(context.Background(), 1, false)

	assert.Equal(t, types.SyncStatusSuccess, result.Status)
	assert.Empty(t, store.syncLogs())
	require.Len(t, recorder.logs, 1)
	assert.Equal(t, types.SyncStatusSuccess, recorder.logs[0].Status)
}

func registryWith(conn connector.Connector) *connector.Registry {
	reg := connector.NewRegistry()
	reg.Register(testDomain, conn)
	return reg
}

func TestEngine_BackoffProgressionAndReset(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := newFakeConnector(types.NormalizedSeries{ID: "abc123", Title: "Test Series"})
	conn.setListErr(errors.New("provider down"))
	sleeps := &sleepRecorder{}
	engine := newTestEngine(t, store, conn, sleeps)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := engine.Run(ctx, 1, false)
		require.NoError(t, err)
		assert.Equal(t, types.SyncStatusFailed, result.Status)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.recorded())
	assert.Equal(t, "4s", engine.Status().Backoff[1])

	conn.setListErr(nil)
	result, err := engine.Run(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSuccess, result.Status)
	assert.Empty(t, engine.Status().Backoff)

	_, err = engine.Run(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps.recorded())
}

func TestEngine_BackoffCapsAtMax(t *testing.T) {
	store := newMemoryStore()
	engine := newTestEngine(t, store, nil, nil)

	for i := 0; i < 10; i++ {
		engine.SyncSource(context.Background(), 7, false)
	}
	assert.Equal(t, "1m0s", engine.Status().Backoff[7])
}

func TestEngine_OneLogPerJob(t *testing.T) {
	store := newMemoryStore(testSource(1), testSource(2))
	conn := newFakeConnector(types.NormalizedSeries{ID: "abc123", Title: "Test Series"})
	engine := newTestEngine(t, store, conn, nil)

	var channels []<-chan *SyncResult
	for _, id := range []int64{1, 2, 99, 1, 2} {
		channels = append(channels, engine.ScheduleSyncJob(id, false))
	}
	for _, ch := range channels {
		<-ch
	}

	assert.Len(t, store.syncLogs(), 5)
}

func TestEngine_ProcessesJobsInFIFOOrder(t *testing.T) {
	store := newMemoryStore(testSource(1), testSource(2), testSource(3))
	engine := newTestEngine(t, store, newFakeConnector(), nil)

	var channels []<-chan *SyncResult
	for _, id := range []int64{3, 1, 2} {
		channels = append(channels, engine.ScheduleSyncJob(id, false))
	}
	for _, ch := range channels {
		<-ch
	}

	logs := store.syncLogs()
	require.Len(t, logs, 3)
	assert.Equal(t, int64(3), logs[0].SourceID)
	assert.Equal(t, int64(1), logs[1].SourceID)
	assert.Equal(t, int64(2), logs[2].SourceID)
}

// trackingConnector records how many list fetches run at once
type trackingConnector struct {
	*fakeConnector
	active  int32
	maxSeen int32
	release chan struct{}
}

func (c *trackingConnector) FetchSeriesList(ctx context.Context, page connector.Page) ([]types.NormalizedSeries, error) {
	n := atomic.AddInt32(&c.active, 1)
	for {
		seen := atomic.LoadInt32(&c.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&c.maxSeen, seen, n) {
			break
		}
	}
	defer atomic.AddInt32(&c.active, -1)

	if c.release != nil {
		<-c.release
	} else {
		time.Sleep(5 * time.Millisecond)
	}
	return c.fakeConnector.FetchSeriesList(ctx, page)
}

func TestEngine_RunsOneJobAtATime(t *testing.T) {
	store := newMemoryStore(testSource(1), testSource(2), testSource(3), testSource(4))
	conn := &trackingConnector{fakeConnector: newFakeConnector()}
	engine := newTestEngine(t, store, conn, nil)

	var wg sync.WaitGroup
	for _, id := range []int64{1, 2, 3, 4} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := engine.Run(context.Background(), id, false)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&conn.maxSeen))
	assert.False(t, engine.Status().Running)
	assert.Zero(t, engine.Status().QueueDepth)
}

func TestEngine_RunReturnsWhenCallerGivesUp(t *testing.T) {
	store := newMemoryStore(testSource(1))
	conn := &trackingConnector{fakeConnector: newFakeConnector(), release: make(chan struct{})}
	engine := newTestEngine(t, store, conn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(ctx, 1, false)
		done <- err
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&conn.active) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// the job itself still completes and is logged
	close(conn.release)
	require.Eventually(t, func() bool { return len(store.syncLogs()) == 1 }, time.Second, time.Millisecond)
}

type panickingConnector struct{ *fakeConnector }

func (c *panickingConnector) FetchSeriesList(ctx context.Context, page connector.Page) ([]types.NormalizedSeries, error) {
	panic("unexpected payload")
}

func TestEngine_PanicBecomesFailedResult(t *testing.T) {
	store := newMemoryStore(testSource(1))
	engine := newTestEngine(t, store, &panickingConnector{newFakeConnector()}, nil)

	result, err := engine.Run(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusFailed, result.Status)
	assert.Contains(t, result.Error, "unexpected payload")

	// the engine keeps draining after a panic
	result, err = engine.Run(context.Background(), 99, false)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusFailed, result.Status)
}

func TestEngine_ScheduleAfterClose(t *testing.T) {
	engine := newTestEngine(t, newMemoryStore(testSource(1)), newFakeConnector(), nil)
	engine.Close()

	result := <-engine.ScheduleSyncJob(1, false)
	assert.Equal(t, types.SyncStatusFailed, result.Status)
	assert.Contains(t, result.Error, "stopped")
}

func TestSyncResult_Succeeded(t *testing.T) {
	var nilResult *SyncResult
	assert.False(t, nilResult.Succeeded())
	assert.True(t, (&SyncResult{Status: types.SyncStatusSuccess}).Succeeded())
	assert.True(t, (&SyncResult{Status: types.SyncStatusPartial}).Succeeded())
	assert.False(t, (&SyncResult{Status: types.SyncStatusFailed}).Succeeded())
}
