// Package marketdata fetches quotes, price history and fundamentals through an ordered provider chain.
package marketdata

import (
	"context"
	"fmt"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// Provider is one market data source
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (models.RawQuote, error)
	History(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error)
	Fundamentals(ctx context.Context, symbol string) (*models.FundamentalMetrics, error)
}

// Gateway is what the analysis cycle and the monitor consume
type Gateway interface {
	GetQuote(ctx context.Context, symbol string) models.QuoteResult
	GetMultipleQuotes(ctx context.Context, symbols []string) map[string]models.QuoteResult
	GetHistoricalPrices(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error)
	GetFundamentals(ctx context.Context, symbol string) (*models.FundamentalMetrics, error)
}

// HistoryStore persists daily bars so history survives provider outages
type HistoryStore interface {
	GetRecentPriceBars(symbol string, limit int) (models.PriceSeries, error)
	SavePriceBars(bars models.PriceSeries) error
}

// notSupported marks an operation a provider does not offer. It is data-unavailable,
// not a provider failure, so it neither retries nor trips the breaker.
func notSupported(provider, operation string) error {
	return fmt.Errorf("%s does not provide %s: %w", provider, operation, models.ErrDataUnavailable)
}
