package marketdata

import (
	"context"
	"fmt"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// barIterator is satisfied by *chart.Iter
type barIterator interface {
	Next() bool
	Bar() *finance.ChartBar
	Err() error
}

// YahooProvider reads quotes and daily bars through finance-go.
// finance-go has no fundamentals endpoint, so it does not serve them.
type YahooProvider struct {
	getQuote func(symbol string) (*finance.Quote, error)
	getChart func(params *chart.Params) barIterator
	now      func() time.Time
}

// NewYahooProvider creates a Yahoo provider
func NewYahooProvider() *YahooProvider {
	return &YahooProvider{
		getQuote: quote.Get,
		getChart: func(params *chart.Params) barIterator { return chart.Get(params) },
		now:      time.Now,
	}
}

func (y *YahooProvider) Name() string { return models.SourceYahoo }

// Quote fetches the regular market quote
func (y *YahooProvider) Quote(ctx context.Context, symbol string) (models.RawQuote, error) {
	q, err := runWithContext(ctx, func() (*finance.Quote, error) { return y.getQuote(symbol) })
	if err != nil {
		return models.RawQuote{}, fmt.Errorf("failed to get yahoo quote for %s: %w", symbol, err)
	}
	if q == nil {
		return models.RawQuote{}, fmt.Errorf("yahoo has no quote for %s: %w", symbol, models.ErrDataUnavailable)
	}

	price := q.RegularMarketPrice
	change := q.RegularMarketChange
	changePercent := q.RegularMarketChangePercent
	volume := int64(q.RegularMarketVolume)
	raw := models.RawQuote{
		Symbol:        symbol,
		Price:         &price,
		Change:        &change,
		ChangePercent: &changePercent,
		Volume:        &volume,
		Source:        models.SourceYahoo,
	}
	if q.RegularMarketTime > 0 {
		ts := time.Unix(int64(q.RegularMarketTime), 0)
		raw.Timestamp = &ts
	}
	return raw, nil
}

// History fetches daily bars covering at least lookback trading days
func (y *YahooProvider) History(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	end := y.now()
	// calendar days for the requested number of sessions, with room for holidays
	start := end.AddDate(0, 0, -(lookback*7/5 + 10))

	series, err := runWithContext(ctx, func() (models.PriceSeries, error) {
		iter := y.getChart(&chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		})

		var out models.PriceSeries
		for iter.Next() {
			bar := iter.Bar()
			if bar == nil {
				continue
			}
			open, _ := bar.Open.Float64()
			high, _ := bar.High.Float64()
			low, _ := bar.Low.Float64()
			closePrice, _ := bar.Close.Float64()
			if closePrice <= 0 {
				continue
			}
			out = append(out, models.PriceBar{
				Symbol: symbol,
				Date:   time.Unix(int64(bar.Timestamp), 0).UTC(),
				Open:   open,
				High:   high,
				Low:    low,
				Close:  closePrice,
				Volume: int64(bar.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get yahoo history for %s: %w", symbol, err)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("yahoo has no history for %s: %w", symbol, models.ErrDataUnavailable)
	}
	if lookback > 0 && len(series) > lookback {
		series = series[len(series)-lookback:]
	}
	return series, nil
}

// Fundamentals is not available through finance-go
func (y *YahooProvider) Fundamentals(ctx context.Context, symbol string) (*models.FundamentalMetrics, error) {
	return nil, notSupported(models.SourceYahoo, "fundamentals")
}

// runWithContext runs a blocking call that takes no context and abandons it when ctx ends
func runWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
