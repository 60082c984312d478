package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/manga-tracker/internal/connector"
	"github.com/manga-tracker/internal/models"
	"github.com/manga-tracker/internal/storage"
	"github.com/manga-tracker/internal/types"
)

const testDomain = "example.test"

// memoryStore is an in-memory Store with the same uniqueness rules as the schema
type memoryStore struct {
	mu sync.Mutex

	sources     map[int64]*models.Source
	series      map[int64]*models.Series
	bySourceURL map[string]int64
	bySlug      map[string]int64
	chapters    map[string]*models.Chapter
	logs        []*models.SyncLog

	nextSeriesID  int64
	nextChapterID int64

	findErrs      map[string]error
	appendLogErr  error
	insertedSlugs []string
}

func newMemoryStore(sources ...*models.Source) *memoryStore {
	s := &memoryStore{
		sources:     make(map[int64]*models.Source),
		series:      make(map[int64]*models.Series),
		bySourceURL: make(map[string]int64),
		bySlug:      make(map[string]int64),
		chapters:    make(map[string]*models.Chapter),
		findErrs:    make(map[string]error),
	}
	for _, src := range sources {
		s.sources[src.ID] = src
	}
	return s
}

func testSource(id int64) *models.Source {
	return &models.Source{ID: id, Name: "Example", Domain: testDomain, Enabled: true}
}

func (s *memoryStore) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, nil
	}
	cp := *src
	return &cp, nil
}

func (s *memoryStore) ListEnabledSources(ctx context.Context) ([]*models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Source
	for _, src := range s.sources {
		if src.Enabled {
			cp := *src
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) UpdateSourceLastChecked(ctx context.Context, id int64, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %d not found", id)
	}
	src.LastChecked = &ts
	return nil
}

func (s *memoryStore) FindSeriesBySourceURL(ctx context.Context, sourceURL string) (*models.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.findErrs[sourceURL]; err != nil {
		return nil, err
	}
	id, ok := s.bySourceURL[sourceURL]
	if !ok {
		return nil, nil
	}
	cp := *s.series[id]
	return &cp, nil
}

func (s *memoryStore) InsertSeries(ctx context.Context, series *models.Series) (*models.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertedSlugs = append(s.insertedSlugs, series.Slug)
	if _, ok := s.bySlug[series.Slug]; ok {
		return nil, storage.ErrDuplicateSlug
	}
	if _, ok := s.bySourceURL[series.SourceURL]; ok {
		return nil, storage.ErrDuplicateSeries
	}

	s.nextSeriesID++
	cp := *series
	cp.ID = s.nextSeriesID
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	s.series[cp.ID] = &cp
	s.bySourceURL[cp.SourceURL] = cp.ID
	s.bySlug[cp.Slug] = cp.ID

	out := cp
	return &out, nil
}

func (s *memoryStore) UpdateSeries(ctx context.Context, id int64, u models.SeriesUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.series[id]
	if !ok {
		return fmt.Errorf("series %d not found", id)
	}
	series.Title = u.Title
	series.Description = u.Description
	series.CoverURL = u.CoverURL
	series.Tags = u.Tags
	series.UpdatedAt = u.UpdatedAt
	return nil
}

func (s *memoryStore) InsertChapterIfAbsent(ctx context.Context, c *models.Chapter) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d/%s", c.SeriesID, c.ExternalID)
	if _, ok := s.chapters[key]; ok {
		return false, nil
	}
	s.nextChapterID++
	cp := *c
	cp.ID = s.nextChapterID
	s.chapters[key] = &cp
	return true, nil
}

func (s *memoryStore) AppendSyncLog(ctx context.Context, l *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendLogErr != nil {
		return s.appendLogErr
	}
	cp := *l
	cp.ID = int64(len(s.logs) + 1)
	s.logs = append(s.logs, &cp)
	return nil
}

func (s *memoryStore) syncLogs() []*models.SyncLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.SyncLog(nil), s.logs...)
}

func (s *memoryStore) seriesCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series)
}

func (s *memoryStore) chapterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chapters)
}

func (s *memoryStore) seriesBySlug(slug string) *models.Series {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySlug[slug]
	if !ok {
		return nil
	}
	cp := *s.series[id]
	return &cp
}

func (s *memoryStore) lastChecked(id int64) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sources[id].LastChecked
}

// fakeConnector serves a fixed catalog
type fakeConnector struct {
	mu sync.Mutex

	series   []types.NormalizedSeries
	chapters map[string][]types.NormalizedChapter

	listErr     error
	chapterErrs map[string]error

	listPages    []connector.Page
	chapterPages []connector.Page
}

func newFakeConnector(series ...types.NormalizedSeries) *fakeConnector {
	return &fakeConnector{
		series:      series,
		chapters:    make(map[string][]types.NormalizedChapter),
		chapterErrs: make(map[string]error),
	}
}

func (f *fakeConnector) Name() string { return "Example" }

func (f *fakeConnector) SeriesURL(nativeID string) string {
	return "https://" + testDomain + "/series/" + nativeID
}

func (f *fakeConnector) FetchSeriesList(ctx context.Context, page connector.Page) ([]types.NormalizedSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listPages = append(f.listPages, page)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]types.NormalizedSeries(nil), f.series...), nil
}

func (f *fakeConnector) FetchChapters(ctx context.Context, seriesID string, page connector.Page) ([]types.NormalizedChapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chapterPages = append(f.chapterPages, page)
	if err := f.chapterErrs[seriesID]; err != nil {
		return nil, err
	}
	return append([]types.NormalizedChapter(nil), f.chapters[seriesID]...), nil
}

func (f *fakeConnector) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeConnector) setTitle(id, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.series {
		if f.series[i].ID == id {
			f.series[i].Title = title
		}
	}
}

func (f *fakeConnector) addSeries(series types.NormalizedSeries) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series = append(f.series, series)
}

func (f *fakeConnector) addChapter(seriesID string, ch types.NormalizedChapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chapters[seriesID] = append(f.chapters[seriesID], ch)
}

func testChapters(prefix string, n int) []types.NormalizedChapter {
	out := make([]types.NormalizedChapter, n)
	for i := range out {
		out[i] = types.NormalizedChapter{
			ID:       fmt.Sprintf("%s-ch-%d", prefix, i+1),
			Number:   float64(i + 1),
			Title:    fmt.Sprintf("Chapter %d", i+1),
			Language: "en",
		}
	}
	return out
}

// sleepRecorder replaces the engine's sleep and records every requested delay
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// memoryRecorder captures results handed to the ResultRecorder
type memoryRecorder struct {
	mu   sync.Mutex
	logs []*models.SyncLog
}

func (r *memoryRecorder) RecordSyncLog(ctx context.Context, l *models.SyncLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, l)
	return nil
}

// stubTrigger answers from a per-source table
type stubTrigger struct {
	mu      sync.Mutex
	results map[int64]*SyncResult
	errs    map[int64]error
	calls   []int64
	fulls   []bool
}

func (s *stubTrigger) Trigger(ctx context.Context, sourceID int64, full bool) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sourceID)
	s.fulls = append(s.fulls, full)
	if err := s.errs[sourceID]; err != nil {
		return nil, err
	}
	if r, ok := s.results[sourceID]; ok {
		return r, nil
	}
	return &SyncResult{SourceID: sourceID, Status: types.SyncStatusSuccess}, nil
}

func (s *stubTrigger) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
