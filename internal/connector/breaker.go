package connector

import (
	"context"
	stderrors "errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/manga-tracker/internal/errors"
	"github.com/manga-tracker/internal/logging"
	"github.com/manga-tracker/internal/metrics"
	"github.com/manga-tracker/internal/types"
)

// BreakerConfig configures the circuit breaker placed in front of a connector
type BreakerConfig struct {
	ConsecutiveFailures uint32        // failures in a row that open the circuit
	OpenTimeout         time.Duration // time spent open before a half-open probe
}

// DefaultBreakerConfig opens after 5 consecutive failures and probes after 2 minutes
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         2 * time.Minute,
	}
}

// BreakerConnector wraps a Connector with a circuit breaker.
// While open, fetches fail fast with a provider error wrapping gobreaker.ErrOpenState.
type BreakerConnector struct {
	inner Connector
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerConnector wraps inner with a breaker named after the provider
func NewBreakerConnector(inner Connector, cfg BreakerConfig) *BreakerConnector {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}

	name := inner.Name()
	metrics.SetCircuitBreakerState(name, stateToFloat(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// Caller cancellation says nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil || stderrors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state transition")
			metrics.SetCircuitBreakerState(name, stateToFloat(to))
		},
	})

	return &BreakerConnector{inner: inner, cb: cb}
}

// Name returns the wrapped provider name
func (b *BreakerConnector) Name() string {
	return b.inner.Name()
}

// SeriesURL delegates to the wrapped connector
func (b *BreakerConnector) SeriesURL(nativeID string) string {
	return b.inner.SeriesURL(nativeID)
}

// State reports the breaker state
func (b *BreakerConnector) State() gobreaker.State {
	return b.cb.State()
}

// FetchSeriesList delegates through the breaker
func (b *BreakerConnector) FetchSeriesList(ctx context.Context, page Page) ([]types.NormalizedSeries, error) {
	var out []types.NormalizedSeries
	err := b.execute(opSeriesList, func() error {
		var err error
		out, err = b.inner.FetchSeriesList(ctx, page)
		return err
	})
	return out, err
}

// FetchChapters delegates through the breaker
func (b *BreakerConnector) FetchChapters(ctx context.Context, seriesID string, page Page) ([]types.NormalizedChapter, error) {
	var out []types.NormalizedChapter
	err := b.execute(opChapters, func() error {
		var err error
		out, err = b.inner.FetchChapters(ctx, seriesID, page)
		return err
	})
	return out, err
}

func (b *BreakerConnector) execute(op string, fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordConnectorRequest(b.inner.Name(), op, "rejected")
		return errors.NewProviderError(b.inner.Name(), op, err)
	}
	return err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
