package marketdata

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trogers1052/stock-risk-engine/internal/metrics"
	"github.com/trogers1052/stock-risk-engine/internal/models"
)

const cacheOpTimeout = 500 * time.Millisecond

// CachedGateway puts a short-lived Redis read-through cache in front of quote lookups.
// Redis errors degrade to a live fetch. Synthetic quotes are never cached.
type CachedGateway struct {
	inner   Gateway
	client  redis.Cmdable
	ttl     time.Duration
	prefix  string
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// NewCachedGateway wraps inner with a Redis quote cache
func NewCachedGateway(inner Gateway, client redis.Cmdable, ttl time.Duration, m *metrics.Registry) *CachedGateway {
	return &CachedGateway{
		inner:   inner,
		client:  client,
		ttl:     ttl,
		prefix:  "riskengine:quote:",
		metrics: m,
		logger:  log.With().Str("component", "quote_cache").Logger(),
	}
}

func (c *CachedGateway) key(symbol string) string {
	return c.prefix + strings.ToUpper(symbol)
}

// GetQuote returns a cached quote or fetches and caches a fresh one
func (c *CachedGateway) GetQuote(ctx context.Context, symbol string) models.QuoteResult {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if q, ok := c.lookup(ctx, []string{symbol})[symbol]; ok {
		return q
	}
	result := c.inner.GetQuote(ctx, symbol)
	c.store(ctx, result)
	return result
}

// GetMultipleQuotes serves hits from one MGET and fetches only the misses
func (c *CachedGateway) GetMultipleQuotes(ctx context.Context, symbols []string) map[string]models.QuoteResult {
	symbols = uniqueSymbols(symbols)
	results := make(map[string]models.QuoteResult, len(symbols))

	hits := c.lookup(ctx, symbols)
	var misses []string
	for _, s := range symbols {
		if q, ok := hits[s]; ok {
			results[s] = q
			continue
		}
		misses = append(misses, s)
	}
	if len(misses) == 0 {
		return results
	}

	for symbol, result := range c.inner.GetMultipleQuotes(ctx, misses) {
		results[symbol] = result
		c.store(ctx, result)
	}
	return results
}

// GetHistoricalPrices is not cached
func (c *CachedGateway) GetHistoricalPrices(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	return c.inner.GetHistoricalPrices(ctx, symbol, lookback)
}

// GetFundamentals is not cached
func (c *CachedGateway) GetFundamentals(ctx context.Context, symbol string) (*models.FundamentalMetrics, error) {
	return c.inner.GetFundamentals(ctx, symbol)
}

func (c *CachedGateway) lookup(ctx context.Context, symbols []string) map[string]*models.Quote {
	out := make(map[string]*models.Quote, len(symbols))
	if len(symbols) == 0 {
		return out
	}

	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = c.key(s)
	}

	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	values, err := c.client.MGet(opCtx, keys...).Result()
	if err != nil {
		c.logger.Debug().Err(err).Msg("quote cache unavailable")
		for range symbols {
			c.metrics.RecordCacheLookup(false)
		}
		return out
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			c.metrics.RecordCacheLookup(false)
			continue
		}
		var q models.Quote
		if err := json.Unmarshal([]byte(raw), &q); err != nil || q.Price <= 0 {
			c.metrics.RecordCacheLookup(false)
			continue
		}
		c.metrics.RecordCacheLookup(true)
		out[symbols[i]] = &q
	}
	return out
}

func (c *CachedGateway) store(ctx context.Context, result models.QuoteResult) {
	q, ok := result.(*models.Quote)
	if !ok || q.Synthetic() || c.ttl <= 0 {
		return
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.client.Set(opCtx, c.key(q.Symbol), payload, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Str("symbol", q.Symbol).Msg("failed to cache quote")
	}
}
