package marketdata

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

type fakeProvider struct {
	name         string
	quote        func(ctx context.Context, symbol string) (models.RawQuote, error)
	history      func(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error)
	fundamentals func(ctx context.Context, symbol string) (*models.FundamentalMetrics, error)
	calls        atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Quote(ctx context.Context, symbol string) (models.RawQuote, error) {
	f.calls.Add(1)
	if f.quote == nil {
		return models.RawQuote{}, notSupported(f.name, "quote")
	}
	return f.quote(ctx, symbol)
}

func (f *fakeProvider) History(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	f.calls.Add(1)
	if f.history == nil {
		return nil, notSupported(f.name, "history")
	}
	return f.history(ctx, symbol, lookback)
}

func (f *fakeProvider) Fundamentals(ctx context.Context, symbol string) (*models.FundamentalMetrics, error) {
	f.calls.Add(1)
	if f.fundamentals == nil {
		return nil, notSupported(f.name, "fundamentals")
	}
	return f.fundamentals(ctx, symbol)
}

func rawQuote(symbol string, price, changePercent float64, volume int64) models.RawQuote {
	ts := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	return models.RawQuote{
		Symbol:        symbol,
		Price:         &price,
		ChangePercent: &changePercent,
		Volume:        &volume,
		Timestamp:     &ts,
	}
}

type memoryHistory struct {
	bars  map[string]models.PriceSeries
	saved []models.PriceSeries
}

func (m *memoryHistory) GetRecentPriceBars(symbol string, limit int) (models.PriceSeries, error) {
	series, ok := m.bars[symbol]
	if !ok {
		return nil, models.ErrNotFound
	}
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	return series, nil
}

func (m *memoryHistory) SavePriceBars(bars models.PriceSeries) error {
	m.saved = append(m.saved, bars)
	return nil
}
