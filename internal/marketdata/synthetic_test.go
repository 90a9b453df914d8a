package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

func TestSyntheticProvider(t *testing.T) {
	ctx := context.Background()
	fixed := func() time.Time { return time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC) }

	newProvider := func(seed int64) *SyntheticProvider {
		p := NewSyntheticProvider(seed)
		p.now = fixed
		return p
	}

	t.Run("same seed is reproducible", func(t *testing.T) {
		a, err := newProvider(42).History(ctx, "AAPL", 30)
		require.NoError(t, err)
		b, err := newProvider(42).History(ctx, "AAPL", 30)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("different symbols differ", func(t *testing.T) {
		a, _ := newProvider(42).History(ctx, "AAPL", 5)
		b, _ := newProvider(42).History(ctx, "MSFT", 5)
		assert.NotEqual(t, a[4].Close, b[4].Close)
	})

	t.Run("quote matches the last bar and is labeled", func(t *testing.T) {
		p := newProvider(3)
		series, err := p.History(ctx, "JPM", 60)
		require.NoError(t, err)

		raw, err := p.Quote(ctx, "JPM")
		require.NoError(t, err)
		assert.Equal(t, models.SourceSynthetic, raw.Source)
		last, ok := series.Last()
		require.True(t, ok)
		assert.InDelta(t, last.Close, *raw.Price, 1e-9)

		q, isQuote := models.ValidateQuote(raw).(*models.Quote)
		require.True(t, isQuote)
		assert.True(t, q.Synthetic())
	})

	t.Run("bars are well formed and oldest first", func(t *testing.T) {
		series, err := newProvider(9).History(ctx, "XOM", 120)
		require.NoError(t, err)
		require.Len(t, series, 120)
		for i, bar := range series {
			assert.Greater(t, bar.Close, 0.0)
			assert.GreaterOrEqual(t, bar.High, bar.Close)
			assert.LessOrEqual(t, bar.Low, bar.Close)
			assert.NotEqual(t, time.Saturday, bar.Date.Weekday())
			assert.NotEqual(t, time.Sunday, bar.Date.Weekday())
			if i > 0 {
				assert.True(t, bar.Date.After(series[i-1].Date))
			}
		}
	})

	t.Run("fundamentals are labeled and in range", func(t *testing.T) {
		fm, err := newProvider(1).Fundamentals(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, models.SourceSynthetic, fm.Source)
		require.NotNil(t, fm.AnalystSentiment)
		assert.GreaterOrEqual(t, *fm.AnalystSentiment, 0.2)
		assert.LessOrEqual(t, *fm.AnalystSentiment, 0.9)
	})
}
