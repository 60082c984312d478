package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/manga-tracker/internal/logging"
	"github.com/manga-tracker/internal/metrics"
	"github.com/manga-tracker/internal/models"
)

// DefaultPollInterval is how often the driver runs a cycle when none is configured
const DefaultPollInterval = 15 * time.Minute

// SourceLister enumerates the sources a cycle should sync
type SourceLister interface {
	ListEnabledSources(ctx context.Context) ([]*models.Source, error)
}

// CycleLock is a lease shared by driver instances so only one runs a cycle at a time
type CycleLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SourceOutcome is the result of triggering one source in a cycle
type SourceOutcome struct {
	SourceID   int64       `json:"sourceId"`
	SourceName string      `json:"sourceName"`
	Result     *SyncResult `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Succeeded reports whether the trigger returned a non-failed result
func (o SourceOutcome) Succeeded() bool {
	return o.Error == "" && o.Result.Succeeded()
}

// CycleSummary aggregates one poll cycle
type CycleSummary struct {
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Skipped    bool            `json:"skipped"`
	Results    []SourceOutcome `json:"results"`
	Duration   time.Duration   `json:"duration"`
}

// PollDriverConfig holds configuration for the poll driver
type PollDriverConfig struct {
	Sources  SourceLister
	Trigger  Trigger
	Interval time.Duration
	Lock     CycleLock // optional
	Logger   *logging.Logger
}

// PollDriver periodically triggers a sync of every enabled source
type PollDriver struct {
	sources  SourceLister
	trigger  Trigger
	interval time.Duration
	lock     CycleLock
	logger   *logging.Logger
}

// NewPollDriver creates a new poll driver
func NewPollDriver(cfg *PollDriverConfig) (*PollDriver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("poll driver config cannot be nil")
	}
	if cfg.Sources == nil {
		return nil, fmt.Errorf("source lister cannot be nil")
	}
	if cfg.Trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &PollDriver{
		sources:  cfg.Sources,
		trigger:  cfg.Trigger,
		interval: interval,
		lock:     cfg.Lock,
		logger:   logger.WithField("component", "poll-driver"),
	}, nil
}

// Run executes one cycle immediately and then one per interval until ctx is done
func (d *PollDriver) Run(ctx context.Context) error {
	d.logger.WithField("interval", d.interval.String()).Info("Poll driver started")

	d.runCycleLogged(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Poll driver stopped")
			return ctx.Err()
		case <-ticker.C:
			d.runCycleLogged(ctx)
		}
	}
}

func (d *PollDriver) runCycleLogged(ctx context.Context) {
	if _, err := d.RunCycle(ctx); err != nil && ctx.Err() == nil {
		d.logger.WithError(err).Error("Poll cycle failed")
	}
}

// RunCycle triggers every enabled source concurrently and waits for all of them
func (d *PollDriver) RunCycle(ctx context.Context) (*CycleSummary, error) {
	start := time.Now()

	if d.lock != nil {
		acquired, err := d.lock.Acquire(ctx)
		switch {
		case err != nil:
			d.logger.WithError(err).Warn("Poll lease unavailable, running cycle without it")
		case !acquired:
			d.logger.Info("Poll cycle skipped, another instance holds the lease")
			metrics.RecordPollCycle("skipped")
			return &CycleSummary{Skipped: true}, nil
		default:
			defer func() {
				if err := d.lock.Release(context.WithoutCancel(ctx)); err != nil {
					d.logger.WithError(err).Warn("Failed to release poll lease")
				}
			}()
		}
	}

	sources, err := d.sources.ListEnabledSources(ctx)
	if err != nil {
		metrics.RecordPollCycle("error")
		return nil, fmt.Errorf("failed to list enabled sources: %w", err)
	}

	summary := &CycleSummary{Results: make([]SourceOutcome, len(sources))}

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src *models.Source) {
			defer wg.Done()
			summary.Results[i] = d.triggerSource(ctx, src)
		}(i, src)
	}
	wg.Wait()

	for _, o := range summary.Results {
		if o.Succeeded() {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	summary.Duration = time.Since(start)

	outcome := "success"
	if summary.Failed > 0 {
		outcome = "partial"
	}
	metrics.RecordPollCycle(outcome)

	d.logger.WithFields(map[string]interface{}{
		"sources":    len(sources),
		"successful": summary.Successful,
		"failed":     summary.Failed,
		"duration":   summary.Duration.String(),
	}).Info("Poll cycle completed")

	return summary, nil
}

func (d *PollDriver) triggerSource(ctx context.Context, src *models.Source) (outcome SourceOutcome) {
	outcome = SourceOutcome{SourceID: src.ID, SourceName: src.Name}

	defer func() {
		if r := recover(); r != nil {
			outcome.Result = nil
			outcome.Error = fmt.Sprintf("trigger panicked: %v", r)
		}
	}()

	result, err := d.trigger.Trigger(ctx, src.ID, false)
	if err != nil {
		outcome.Error = err.Error()
		d.logger.WithError(err).WithField("sourceId", src.ID).Warn("Trigger failed")
		return outcome
	}
	outcome.Result = result
	return outcome
}
