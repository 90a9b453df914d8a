// Package screening scores instruments and applies the conjunctive screening gate.
package screening

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/indicators"
	"github.com/trogers1052/stock-risk-engine/internal/models"
)

const (
	fundamentalWeight = 0.6
	technicalWeight   = 0.4
)

// RiskSource supplies the current RiskConfig
type RiskSource interface {
	Risk() config.RiskConfig
}

// Input is everything known about one instrument for a cycle
type Input struct {
	Instrument   models.Instrument
	Quote        models.QuoteResult
	History      models.PriceSeries
	Fundamentals *models.FundamentalMetrics
}

// Analyzer computes MarketAnalysis records and filters them through the screening gate
type Analyzer struct {
	settings RiskSource
	now      func() time.Time
	logger   zerolog.Logger
}

// NewAnalyzer creates an Analyzer
func NewAnalyzer(settings RiskSource) *Analyzer {
	return &Analyzer{
		settings: settings,
		now:      time.Now,
		logger:   log.With().Str("component", "screening").Logger(),
	}
}

// Analyze scores one instrument. A *models.QuoteError input yields an error wrapping
// models.ErrDataUnavailable so the caller can skip the symbol.
func (a *Analyzer) Analyze(in Input) (*models.MarketAnalysis, error) {
	if in.Quote == nil {
		return nil, fmt.Errorf("no quote for %s: %w", in.Instrument.Symbol, models.ErrDataUnavailable)
	}
	q, ok := in.Quote.(*models.Quote)
	if !ok {
		return nil, fmt.Errorf("skipping %s: %s: %w", in.Instrument.Symbol, quoteReason(in.Quote), models.ErrDataUnavailable)
	}

	cfg := a.settings.Risk()

	fundamentals := models.FundamentalMetrics{}
	if in.Fundamentals != nil {
		fundamentals = *in.Fundamentals
	}
	fundamentals.Score = FundamentalScore(fundamentals, cfg.Scoring)

	view := technicals(q, in.History, cfg)
	view.Score = TechnicalScore(view.TechnicalAnalysis, cfg.Scoring)

	combined := indicators.Clamp(fundamentals.Score*fundamentalWeight+view.Score*technicalWeight, 0, 10)

	analysis := &models.MarketAnalysis{
		Symbol:         q.Symbol,
		Price:          q.Price,
		Volatility:     view.volatility,
		Momentum:       view.momentum,
		ValueScore:     valueScore(fundamentals, cfg.Screening.MaxPE),
		SentimentScore: sentimentScore(fundamentals),
		Sector:         in.Instrument.Sector,
		Fundamentals:   fundamentals,
		Technicals:     view.TechnicalAnalysis,
		CombinedScore:  combined,
		TrendDirection: view.trend,
		TrendStrength:  view.TrendStrength,
		Support:        view.support,
		Resistance:     view.resistance,
		BearishSignals: bearishSignals(q, view),
		Synthetic:      q.Synthetic() || fundamentals.Source == models.SourceSynthetic,
		AnalyzedAt:     a.now(),
	}
	return analysis, nil
}

func quoteReason(r models.QuoteResult) string {
	if qe, ok := r.(*models.QuoteError); ok {
		return qe.Reason
	}
	return "invalid quote"
}

// GateFailures lists every screening condition the analysis fails; empty means it passes
func GateFailures(m *models.MarketAnalysis, th config.ScreeningThresholds) []string {
	var failures []string
	f := m.Fundamentals
	t := m.Technicals

	if f.Source == "" {
		failures = append(failures, "fundamentals unavailable")
	}
	if f.EPSGrowth < th.MinEPSGrowth {
		failures = append(failures, fmt.Sprintf("eps growth %.1f < %.1f", f.EPSGrowth, th.MinEPSGrowth))
	}
	if f.ROE < th.MinROE {
		failures = append(failures, fmt.Sprintf("roe %.1f < %.1f", f.ROE, th.MinROE))
	}
	if f.SalesGrowth < th.MinSalesGrowth {
		failures = append(failures, fmt.Sprintf("sales growth %.1f < %.1f", f.SalesGrowth, th.MinSalesGrowth))
	}
	if f.PERatio <= 0 || f.PERatio > th.MaxPE {
		failures = append(failures, fmt.Sprintf("p/e %.1f outside (0, %.1f]", f.PERatio, th.MaxPE))
	}
	if f.DebtToEquity > th.MaxDebtToEquity {
		failures = append(failures, fmt.Sprintf("debt/equity %.2f > %.2f", f.DebtToEquity, th.MaxDebtToEquity))
	}
	if f.CurrentRatio < th.MinCurrentRatio {
		failures = append(failures, fmt.Sprintf("current ratio %.2f < %.2f", f.CurrentRatio, th.MinCurrentRatio))
	}
	if !t.Breakout {
		failures = append(failures, "no breakout")
	}
	if !t.VolumeSurge {
		failures = append(failures, "no volume surge")
	}
	if t.RSI > th.MaxRSI {
		failures = append(failures, fmt.Sprintf("rsi %.1f > %.1f", t.RSI, th.MaxRSI))
	}
	if t.TrendStrength < th.MinTrendStrength {
		failures = append(failures, fmt.Sprintf("trend strength %.1f < %.1f", t.TrendStrength, th.MinTrendStrength))
	}
	return failures
}

// Passes reports whether the analysis clears every screening condition
func Passes(m *models.MarketAnalysis, th config.ScreeningThresholds) bool {
	return len(GateFailures(m, th)) == 0
}

// Screen keeps only the analyses that pass the gate, in input order
func (a *Analyzer) Screen(analyses []*models.MarketAnalysis) []*models.MarketAnalysis {
	th := a.settings.Risk().Screening
	passed := make([]*models.MarketAnalysis, 0, len(analyses))
	for _, m := range analyses {
		if failures := GateFailures(m, th); len(failures) > 0 {
			a.logger.Debug().Str("symbol", m.Symbol).Strs("failures", failures).Msg("screened out")
			continue
		}
		passed = append(passed, m)
	}
	return passed
}
