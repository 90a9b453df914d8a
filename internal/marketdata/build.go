package marketdata

import (
	"time"

	"github.com/trogers1052/stock-risk-engine/internal/config"
)

// NewFromConfig assembles the provider chain: Finnhub when an API key is set, then Yahoo,
// then the synthetic provider when SYNTHETIC_FALLBACK is on.
func NewFromConfig(cfg config.ProviderConfig, opts ...GatewayOption) *FallbackGateway {
	var providers []Provider
	if cfg.FinnhubAPIKey != "" {
		providers = append(providers, Guard(
			NewFinnhubProvider(cfg.FinnhubBaseURL, cfg.FinnhubAPIKey, cfg.FetchTimeout),
			GuardOptions{RequestsPerSec: cfg.FinnhubRateLimit, Burst: 1, InitialBackoff: 250 * time.Millisecond},
		))
	}
	if cfg.YahooEnabled {
		providers = append(providers, Guard(
			NewYahooProvider(),
			GuardOptions{RequestsPerSec: cfg.YahooRateLimit, Burst: 2, InitialBackoff: 250 * time.Millisecond},
		))
	}
	if cfg.SyntheticFallback {
		opts = append(opts, WithSynthetic(NewSyntheticProvider(cfg.SyntheticSeed)))
	}
	return NewFallbackGateway(providers, cfg.FetchTimeout, opts...)
}
