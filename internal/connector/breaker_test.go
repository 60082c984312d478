package connector

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manga-tracker/internal/errors"
	"github.com/manga-tracker/internal/types"
)

type flakyConnector struct {
	stubConnector
	calls int
	err   error
}

func (f *flakyConnector) FetchSeriesList(ctx context.Context, page Page) ([]types.NormalizedSeries, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []types.NormalizedSeries{{ID: "1", Title: "One"}}, nil
}

func TestBreakerConnector_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyConnector{
		stubConnector: stubConnector{name: "flaky-open"},
		err:           errors.NewProviderStatusError("flaky", opSeriesList, 503),
	}
	b := NewBreakerConnector(inner, BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := b.FetchSeriesList(context.Background(), Page{Number: 1, Limit: 20})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.FetchSeriesList(context.Background(), Page{Number: 1, Limit: 20})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, gobreaker.ErrOpenState))
	assert.True(t, errors.IsFetchError(err))
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the provider")
}

func TestBreakerConnector_PassesThroughResults(t *testing.T) {
	inner := &flakyConnector{stubConnector: stubConnector{name: "flaky-ok"}}
	b := NewBreakerConnector(inner, DefaultBreakerConfig())

	items, err := b.FetchSeriesList(context.Background(), Page{Number: 1, Limit: 20})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "flaky-ok", b.Name())
	assert.Equal(t, "https://flaky-ok/x", b.SeriesURL("x"))
}

func TestBreakerConnector_IgnoresCallerCancellation(t *testing.T) {
	inner := &flakyConnector{stubConnector: stubConnector{name: "flaky-cancel"}, err: context.Canceled}
	b := NewBreakerConnector(inner, BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := b.FetchSeriesList(context.Background(), Page{Number: 1, Limit: 20})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
