package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trogers1052/stock-risk-engine/internal/metrics"
	"github.com/trogers1052/stock-risk-engine/internal/models"
)

const maxConcurrentQuotes = 8

// FallbackGateway tries real providers in priority order and, only when every one of them
// fails and the fallback is enabled, the synthetic provider.
type FallbackGateway struct {
	providers []Provider
	synthetic Provider
	history   HistoryStore
	timeout   time.Duration
	metrics   *metrics.Registry
	logger    zerolog.Logger
}

// GatewayOption configures a FallbackGateway
type GatewayOption func(*FallbackGateway)

// WithSynthetic enables the synthetic last-resort provider
func WithSynthetic(p Provider) GatewayOption {
	return func(g *FallbackGateway) { g.synthetic = p }
}

// WithHistoryStore adds stored daily bars as a history fallback and saves fetched bars into it
func WithHistoryStore(store HistoryStore) GatewayOption {
	return func(g *FallbackGateway) { g.history = store }
}

// WithMetrics records provider failures
func WithMetrics(m *metrics.Registry) GatewayOption {
	return func(g *FallbackGateway) { g.metrics = m }
}

// NewFallbackGateway creates a gateway over providers. timeout bounds every single provider call.
func NewFallbackGateway(providers []Provider, timeout time.Duration, opts ...GatewayOption) *FallbackGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	g := &FallbackGateway{
		providers: providers,
		timeout:   timeout,
		logger:    log.With().Str("component", "marketdata").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GetQuote returns a validated *models.Quote or a *models.QuoteError, never both
func (g *FallbackGateway) GetQuote(ctx context.Context, symbol string) models.QuoteResult {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var lastErr error

	for _, p := range g.providers {
		result, err := g.quoteFrom(ctx, p, symbol)
		if err == nil {
			return result
		}
		lastErr = err
	}

	if g.synthetic != nil {
		if result, err := g.quoteFrom(ctx, g.synthetic, symbol); err == nil {
			g.logger.Warn().Str("symbol", symbol).Msg("using synthetic quote, all real providers failed")
			return result
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured: %w", models.ErrProviderFailure)
	}
	reason := lastErr.Error()
	var qe *models.QuoteError
	if errors.As(lastErr, &qe) {
		reason = qe.Reason
	}
	return &models.QuoteError{Symbol: symbol, Reason: reason, Err: lastErr}
}

func (g *FallbackGateway) quoteFrom(ctx context.Context, p Provider, symbol string) (models.QuoteResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := p.Quote(callCtx, symbol)
	if err != nil {
		g.recordFailure(p.Name(), "quote", symbol, err)
		return nil, err
	}
	if raw.Symbol == "" {
		raw.Symbol = symbol
	}
	if raw.Source == "" {
		raw.Source = p.Name()
	}

	result := models.ValidateQuote(raw)
	if qe, ok := result.(*models.QuoteError); ok {
		g.logger.Debug().Str("symbol", symbol).Str("provider", p.Name()).Str("reason", qe.Reason).Msg("provider returned invalid quote")
		return nil, qe
	}
	return result, nil
}

// GetMultipleQuotes fetches every symbol concurrently. Every requested symbol has an entry.
func (g *FallbackGateway) GetMultipleQuotes(ctx context.Context, symbols []string) map[string]models.QuoteResult {
	results := make(map[string]models.QuoteResult, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentQuotes)

	for _, symbol := range uniqueSymbols(symbols) {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result := g.GetQuote(ctx, symbol)
			mu.Lock()
			results[symbol] = result
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return results
}

// GetHistoricalPrices returns oldest-first daily bars from the first provider that has them,
// then from the history store, then from the synthetic provider.
func (g *FallbackGateway) GetHistoricalPrices(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	for _, p := range g.providers {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		series, err := p.History(callCtx, symbol, lookback)
		cancel()
		if err != nil {
			g.recordFailure(p.Name(), "history", symbol, err)
			continue
		}
		if len(series) == 0 {
			continue
		}
		g.saveHistory(symbol, series)
		return series, nil
	}

	if g.history != nil {
		series, err := g.history.GetRecentPriceBars(symbol, lookback)
		if err == nil && len(series) > 0 {
			return series, nil
		}
		if err != nil {
			g.logger.Debug().Err(err).Str("symbol", symbol).Msg("stored history unavailable")
		}
	}

	if g.synthetic != nil {
		series, err := g.synthetic.History(ctx, symbol, lookback)
		if err == nil && len(series) > 0 {
			return series, nil
		}
	}
	return nil, fmt.Errorf("no history for %s: %w", symbol, models.ErrDataUnavailable)
}

// GetFundamentals returns company ratios from the first provider that has them
func (g *FallbackGateway) GetFundamentals(ctx context.Context, symbol string) (*models.FundamentalMetrics, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	for _, p := range g.providers {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		fm, err := p.Fundamentals(callCtx, symbol)
		cancel()
		if err != nil {
			g.recordFailure(p.Name(), "fundamentals", symbol, err)
			continue
		}
		if fm != nil {
			return fm, nil
		}
	}

	if g.synthetic != nil {
		if fm, err := g.synthetic.Fundamentals(ctx, symbol); err == nil && fm != nil {
			return fm, nil
		}
	}
	return nil, fmt.Errorf("no fundamentals for %s: %w", symbol, models.ErrDataUnavailable)
}

func (g *FallbackGateway) saveHistory(symbol string, series models.PriceSeries) {
	if g.history == nil {
		return
	}
	if err := g.history.SavePriceBars(series); err != nil {
		g.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to store price history")
	}
}

func (g *FallbackGateway) recordFailure(provider, operation, symbol string, err error) {
	if errors.Is(err, models.ErrDataUnavailable) {
		g.logger.Debug().Err(err).Str("provider", provider).Str("symbol", symbol).Str("operation", operation).Msg("provider has no data")
		return
	}
	g.metrics.RecordProviderFailure(provider, operation)
	g.logger.Warn().Err(err).Str("provider", provider).Str("symbol", symbol).Str("operation", operation).Msg("provider failed, trying next")
}

func uniqueSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
