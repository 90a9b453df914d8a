package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// GuardOptions configures the protection wrapped around a real provider
type GuardOptions struct {
	RequestsPerSec float64
	Burst          int
	MaxRetries     uint64
	InitialBackoff time.Duration
	BreakerTimeout time.Duration
}

func (o GuardOptions) withDefaults() GuardOptions {
	if o.RequestsPerSec <= 0 {
		o.RequestsPerSec = 5
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 60 * time.Second
	}
	return o
}

// guardedProvider rate limits, retries and circuit-breaks calls to a provider.
// Retries stop when ctx expires, so the caller's fetch timeout bounds the whole call.
type guardedProvider struct {
	inner   Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	opts    GuardOptions
	logger  zerolog.Logger
}

// Guard wraps p with a rate limiter, exponential backoff and a circuit breaker
func Guard(p Provider, opts GuardOptions) Provider {
	opts = opts.withDefaults()
	logger := log.With().Str("component", "marketdata").Str("provider", p.Name()).Logger()

	st := gobreaker.Settings{
		Name:     p.Name(),
		Interval: 60 * time.Second,
		Timeout:  opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("provider breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrDataUnavailable) || errors.Is(err, context.Canceled)
		},
	}

	return &guardedProvider{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		opts:    opts,
		logger:  logger,
	}
}

func (g *guardedProvider) Name() string { return g.inner.Name() }

func (g *guardedProvider) Quote(ctx context.Context, symbol string) (models.RawQuote, error) {
	return guarded(ctx, g, func(ctx context.Context) (models.RawQuote, error) {
		return g.inner.Quote(ctx, symbol)
	})
}

func (g *guardedProvider) History(ctx context.Context, symbol string, lookback int) (models.PriceSeries, error) {
	return guarded(ctx, g, func(ctx context.Context) (models.PriceSeries, error) {
		return g.inner.History(ctx, symbol, lookback)
	})
}

func (g *guardedProvider) Fundamentals(ctx context.Context, symbol string) (*models.FundamentalMetrics, error) {
	return guarded(ctx, g, func(ctx context.Context) (*models.FundamentalMetrics, error) {
		return g.inner.Fundamentals(ctx, symbol)
	})
}

// State reports the breaker state, for health output
func (g *guardedProvider) State() gobreaker.State {
	return g.breaker.State()
}

func guarded[T any](ctx context.Context, g *guardedProvider, call func(context.Context) (T, error)) (T, error) {
	var zero T

	result, err := g.breaker.Execute(func() (interface{}, error) {
		var out T
		operation := func() error {
			if err := g.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
			v, err := call(ctx)
			if err != nil {
				if errors.Is(err, models.ErrDataUnavailable) {
					return backoff.Permanent(err)
				}
				return err
			}
			out = v
			return nil
		}

		strategy := backoff.NewExponentialBackOff()
		strategy.InitialInterval = g.opts.InitialBackoff
		retry := backoff.WithContext(backoff.WithMaxRetries(strategy, g.opts.MaxRetries), ctx)
		if err := backoff.Retry(operation, retry); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.logger.Debug().Err(err).Msg("provider call short-circuited")
		}
		if errors.Is(err, models.ErrDataUnavailable) {
			return zero, err
		}
		return zero, fmt.Errorf("%s: %v: %w", g.inner.Name(), err, models.ErrProviderFailure)
	}
	return result.(T), nil
}
