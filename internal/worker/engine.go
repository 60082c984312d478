// Package worker implements the catalog sync engine, the poll driver that
// schedules it and the triggers that connect the two.
package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manga-tracker/internal/connector"
	"github.com/manga-tracker/internal/errors"
	"github.com/manga-tracker/internal/logging"
	"github.com/manga-tracker/internal/metrics"
	"github.com/manga-tracker/internal/models"
	"github.com/manga-tracker/internal/retry"
	"github.com/manga-tracker/internal/types"
)

// Store is the persistence surface the engine reconciles against
type Store interface {
	GetSource(ctx context.Context, id int64) (*models.Source, error)
	UpdateSourceLastChecked(ctx context.Context, id int64, ts time.Time) error
	FindSeriesBySourceURL(ctx context.Context, sourceURL string) (*models.Series, error)
	InsertSeries(ctx context.Context, series *models.Series) (*models.Series, error)
	UpdateSeries(ctx context.Context, id int64, u models.SeriesUpdate) error
	InsertChapterIfAbsent(ctx context.Context, c *models.Chapter) (bool, error)
	AppendSyncLog(ctx context.Context, l *models.SyncLog) error
}

// ConnectorResolver finds the connector serving a source domain
type ConnectorResolver interface {
	Resolve(domain string) (connector.Connector, bool)
}

// ResultRecorder receives a copy of every sync log after it is appended
type ResultRecorder interface {
	RecordSyncLog(ctx context.Context, l *models.SyncLog) error
}

// SyncResult is the outcome of one sync job
type SyncResult struct {
	SourceID       int64            `json:"sourceId"`
	Status         types.SyncStatus `json:"status"`
	SeriesSynced   int              `json:"seriesSynced"`
	ChaptersSynced int              `json:"chaptersSynced"`
	ItemErrors     int              `json:"itemErrors"`
	Error          string           `json:"error,omitempty"`
	StartedAt      time.Time        `json:"startedAt"`
	CompletedAt    time.Time        `json:"completedAt"`
}

// Succeeded reports whether the job counts as a success for scheduling purposes
func (r *SyncResult) Succeeded() bool {
	return r != nil && r.Status != types.SyncStatusFailed
}

// EngineStatus is a point-in-time view of the engine
type EngineStatus struct {
	Running    bool             `json:"running"`
	QueueDepth int              `json:"queueDepth"`
	Backoff    map[int64]string `json:"backoff"`
}

// EngineConfig holds configuration for the sync engine
type EngineConfig struct {
	Store      Store
	Connectors ConnectorResolver
	Backoff    *retry.BackoffTracker
	Recorder   ResultRecorder // optional
	Logger     *logging.Logger

	IncrementalPageSize int
	FullPageSize        int
	ChapterPageSize     int

	// Now and Sleep default to the wall clock; tests replace them
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type syncJob struct {
	sourceID int64
	full     bool
	done     chan *SyncResult
}

// Engine serializes sync jobs through a FIFO queue drained by a single goroutine.
// Backoff state and the queue live in memory only.
type Engine struct {
	store      Store
	connectors ConnectorResolver
	backoff    *retry.BackoffTracker
	recorder   ResultRecorder
	logger     *logging.Logger

	incrementalPageSize int
	fullPageSize        int
	chapterPageSize     int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   []*syncJob
	running bool
	closed  bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Connectors == nil {
		return nil, fmt.Errorf("connector resolver cannot be nil")
	}

	backoff := cfg.Backoff
	if backoff == nil {
		backoff = retry.NewBackoffTracker(time.Second, 60*time.Second)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	incremental := cfg.IncrementalPageSize
	if incremental <= 0 {
		incremental = 20
	}
	full := cfg.FullPageSize
	if full <= 0 {
		full = 100
	}
	chapters := cfg.ChapterPageSize
	if chapters <= 0 {
		chapters = 50
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		store:               cfg.Store,
		connectors:          cfg.Connectors,
		backoff:             backoff,
		recorder:            cfg.Recorder,
		logger:              logger.WithField("component", "sync-engine"),
		incrementalPageSize: incremental,
		fullPageSize:        full,
		chapterPageSize:     chapters,
		now:                 now,
		sleep:               sleep,
		ctx:                 ctx,
		cancel:              cancel,
	}, nil
}

// ScheduleSyncJob enqueues a job and starts the drain loop if the engine is idle.
// The returned channel receives exactly one result.
func (e *Engine) ScheduleSyncJob(sourceID int64, full bool) <-chan *SyncResult {
	job := &syncJob{sourceID: sourceID, full: full, done: make(chan *SyncResult, 1)}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		job.done <- e.abortedResult(sourceID, fmt.Errorf("sync engine is stopped"))
		return job.done
	}
	e.queue = append(e.queue, job)
	depth := len(e.queue)
	start := !e.running
	if start {
		e.running = true
	}
	e.mu.Unlock()

	metrics.SetQueueDepth(depth)
	e.logger.WithFields(map[string]interface{}{
		"sourceId":   sourceID,
		"full":       full,
		"queueDepth": depth,
	}).Debug("Sync job scheduled")

	if start {
		go e.processQueue()
	}
	return job.done
}

// Run schedules a job and waits for its result. It only fails when ctx ends
// first; the job itself still runs to completion.
func (e *Engine) Run(ctx context.Context, sourceID int64, full bool) (*SyncResult, error) {
	select {
	case result := <-e.ScheduleSyncJob(sourceID, full):
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reports queue depth, whether a drain is active and per-source backoff
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	status := EngineStatus{Running: e.running, QueueDepth: len(e.queue)}
	e.mu.Unlock()

	status.Backoff = make(map[int64]string)
	for id, d := range e.backoff.Snapshot() {
		status.Backoff[id] = d.String()
	}
	return status
}

// Close stops the engine. Queued jobs resolve as failed without running and
// an in-flight job sees its context cancelled.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
}

// processQueue drains the queue one job at a time
func (e *Engine) processQueue() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			metrics.SetQueueDepth(0)
			return
		}
		job := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		depth := len(e.queue)
		e.mu.Unlock()

		metrics.SetQueueDepth(depth)

		if delay := e.backoff.Delay(job.sourceID); delay > 0 {
			e.logger.WithFields(map[string]interface{}{
				"sourceId": job.sourceID,
				"delay":    delay.String(),
			}).Info("Applying backoff before sync")

			if err := e.sleep(e.ctx, delay); err != nil {
				job.done <- e.abortedResult(job.sourceID, err)
				continue
			}
		}
		if err := e.ctx.Err(); err != nil {
			job.done <- e.abortedResult(job.sourceID, err)
			continue
		}

		job.done <- e.safeSyncSource(job.sourceID, job.full)
	}
}

// safeSyncSource runs SyncSource and turns a panic into a failed result
func (e *Engine) safeSyncSource(sourceID int64, full bool) (result *SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(map[string]interface{}{
				"sourceId": sourceID,
				"panic":    fmt.Sprint(r),
			}).Error("Sync job panicked")
			result = e.abortedResult(sourceID, fmt.Errorf("sync panicked: %v", r))
		}
	}()
	return e.SyncSource(e.ctx, sourceID, full)
}

func (e *Engine) abortedResult(sourceID int64, err error) *SyncResult {
	now := e.now()
	return &SyncResult{
		SourceID:    sourceID,
		Status:      types.SyncStatusFailed,
		Error:       err.Error(),
		StartedAt:   now,
		CompletedAt: now,
	}
}

// SyncSource runs one sync of a source and never returns an error: every
// failure is folded into the result and the appended sync log.
func (e *Engine) SyncSource(ctx context.Context, sourceID int64, full bool) *SyncResult {
	startedAt := e.now()
	runID := uuid.NewString()
	logger := e.logger.WithFields(map[string]interface{}{
		"sourceId": sourceID,
		"full":     full,
		"runId":    runID,
	})

	result := &SyncResult{
		SourceID:  sourceID,
		Status:    types.SyncStatusFailed,
		StartedAt: startedAt,
	}
	provider := ""

	var fatal error
	source, err := e.store.GetSource(ctx, sourceID)
	switch {
	case err != nil:
		fatal = errors.NewDatabaseError("get source", err)
	case source == nil || !source.Enabled:
		fatal = errors.NewSourceUnavailableError(sourceID)
	default:
		conn, ok := e.connectors.Resolve(source.Domain)
		if !ok {
			fatal = errors.NewNoConnectorError(sourceID, source.Domain)
			break
		}
		provider = conn.Name()

		outcome, err := e.reconcile(ctx, source, conn, full, logger)
		if err != nil {
			fatal = err
			break
		}
		result.SeriesSynced = outcome.seriesSynced
		result.ChaptersSynced = outcome.chaptersSynced
		result.ItemErrors = outcome.itemErrors
		result.Status = types.SyncStatusSuccess
		if outcome.itemErrors > 0 {
			result.Status = types.SyncStatusPartial
		}
	}

	result.CompletedAt = e.now()

	// The job has run; its bookkeeping is written even if ctx was cancelled mid-job
	writeCtx := context.WithoutCancel(ctx)

	if fatal != nil {
		result.Status = types.SyncStatusFailed
		result.SeriesSynced = 0
		result.ChaptersSynced = 0
		result.Error = errorMessage(fatal)
		// Missing sources back off too; their entries stay until the id syncs successfully
		delay := e.backoff.RecordFailure(sourceID)
		metrics.SetBackoffDelay(sourceID, delay)

		logger.WithError(fatal).WithField("nextDelay", delay.String()).Warn("Sync failed")
	} else {
		e.backoff.RecordSuccess(sourceID)
		metrics.SetBackoffDelay(sourceID, 0)

		if err := e.store.UpdateSourceLastChecked(writeCtx, sourceID, result.CompletedAt); err != nil {
			logger.WithError(err).Error("Failed to update source last_checked")
		}

		logger.WithFields(map[string]interface{}{
			"status":         result.Status,
			"seriesSynced":   result.SeriesSynced,
			"chaptersSynced": result.ChaptersSynced,
			"itemErrors":     result.ItemErrors,
		}).Info("Sync completed")
	}

	e.appendLog(writeCtx, result, full, runID, provider, logger)
	metrics.RecordSyncJob(sourceID, string(result.Status), result.SeriesSynced, result.ChaptersSynced,
		result.ItemErrors, result.CompletedAt.Sub(result.StartedAt))

	return result
}

// appendLog writes the audit record. Persistence failures are logged and dropped.
func (e *Engine) appendLog(ctx context.Context, result *SyncResult, full bool, runID, provider string, logger *logging.Logger) {
	entry := &models.SyncLog{
		SourceID:       result.SourceID,
		Status:         result.Status,
		SeriesSynced:   result.SeriesSynced,
		ChaptersSynced: result.ChaptersSynced,
		StartedAt:      result.StartedAt,
		CompletedAt:    result.CompletedAt,
		Metadata: map[string]interface{}{
			"full":       full,
			"durationMs": result.CompletedAt.Sub(result.StartedAt).Milliseconds(),
			"runId":      runID,
			"itemErrors": result.ItemErrors,
		},
	}
	if provider != "" {
		entry.Metadata["provider"] = provider
	}
	if result.Error != "" {
		msg := result.Error
		entry.ErrorMessage = &msg
	}

	if err := e.store.AppendSyncLog(ctx, entry); err != nil {
		logger.WithError(err).Error("Failed to append sync log")
	}

	if e.recorder != nil {
		if err := e.recorder.RecordSyncLog(ctx, entry); err != nil {
			logger.WithError(err).Warn("Failed to cache sync result")
		}
	}
}

// errorMessage renders an error for the sync log without the internal code prefix
func errorMessage(err error) string {
	var catErr *errors.CategorizedError
	if stderrors.As(err, &catErr) {
		if catErr.Cause != nil {
			return fmt.Sprintf("%s: %v", catErr.Message, catErr.Cause)
		}
		return catErr.Message
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
