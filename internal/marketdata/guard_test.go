package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

func fastGuard() GuardOptions {
	return GuardOptions{RequestsPerSec: 1000, Burst: 100, MaxRetries: 2, InitialBackoff: time.Millisecond}
}

func TestGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transient errors", func(t *testing.T) {
		inner := &fakeProvider{name: "flaky"}
		inner.quote = func(ctx context.Context, s string) (models.RawQuote, error) {
			if inner.calls.Load() < 3 {
				return models.RawQuote{}, errors.New("timeout")
			}
			return rawQuote(s, 10, 1, 1), nil
		}
		g := Guard(inner, fastGuard())

		raw, err := g.Quote(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, 10.0, *raw.Price)
		assert.Equal(t, int32(3), inner.calls.Load())
	})

	t.Run("does not retry data unavailable", func(t *testing.T) {
		inner := &fakeProvider{name: "empty"}
		g := Guard(inner, fastGuard())

		_, err := g.History(ctx, "AAPL", 10)
		assert.ErrorIs(t, err, models.ErrDataUnavailable)
		assert.NotErrorIs(t, err, models.ErrProviderFailure)
		assert.Equal(t, int32(1), inner.calls.Load())
	})

	t.Run("exhausted retries are provider failures", func(t *testing.T) {
		inner := &fakeProvider{name: "down", quote: func(ctx context.Context, s string) (models.RawQuote, error) {
			return models.RawQuote{}, errors.New("503")
		}}
		g := Guard(inner, fastGuard())

		_, err := g.Quote(ctx, "AAPL")
		assert.ErrorIs(t, err, models.ErrProviderFailure)
		assert.Equal(t, int32(3), inner.calls.Load())
	})

	t.Run("breaker opens after consecutive failures", func(t *testing.T) {
		inner := &fakeProvider{name: "broken", fundamentals: func(ctx context.Context, s string) (*models.FundamentalMetrics, error) {
			return nil, errors.New("500")
		}}
		g := Guard(inner, fastGuard())

		for i := 0; i < 3; i++ {
			_, err := g.Fundamentals(ctx, "AAPL")
			require.Error(t, err)
		}
		calls := inner.calls.Load()

		_, err := g.Fundamentals(ctx, "AAPL")
		assert.ErrorIs(t, err, models.ErrProviderFailure)
		assert.Equal(t, calls, inner.calls.Load())
	})

	t.Run("data unavailable does not trip the breaker", func(t *testing.T) {
		inner := &fakeProvider{name: "sparse"}
		g := Guard(inner, fastGuard())

		for i := 0; i < 5; i++ {
			_, err := g.Fundamentals(ctx, "AAPL")
			require.ErrorIs(t, err, models.ErrDataUnavailable)
		}
		assert.Equal(t, int32(5), inner.calls.Load())
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		inner := &fakeProvider{name: "slow", quote: func(ctx context.Context, s string) (models.RawQuote, error) {
			return models.RawQuote{}, errors.New("retry me")
		}}
		g := Guard(inner, GuardOptions{RequestsPerSec: 1000, Burst: 10, MaxRetries: 50, InitialBackoff: 50 * time.Millisecond})

		cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err := g.Quote(cctx, "AAPL")
		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("keeps the inner name", func(t *testing.T) {
		assert.Equal(t, "named", Guard(&fakeProvider{name: "named"}, GuardOptions{}).Name())
	})
}
