package screening

import (
	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/indicators"
	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// FundamentalScore applies the additive point rubric, capped at 10.
// EPS growth tiers give up to 3 points, ROE and sales growth up to 2 each,
// and P/E, debt/equity and operating margin one point each.
func FundamentalScore(m models.FundamentalMetrics, cfg config.ScoringThresholds) float64 {
	if m.Source == "" {
		return 0
	}

	var score float64
	switch {
	case m.EPSGrowth >= 25:
		score += 3
	case m.EPSGrowth >= 15:
		score += 2
	case m.EPSGrowth >= 5:
		score++
	}

	switch {
	case m.ROE >= 17:
		score += 2
	case m.ROE >= 10:
		score++
	}

	switch {
	case m.SalesGrowth >= 25:
		score += 2
	case m.SalesGrowth >= 10:
		score++
	}

	if m.PERatio > 0 && m.PERatio <= cfg.MaxPE {
		score++
	}
	if m.DebtToEquity >= 0 && m.DebtToEquity <= cfg.MaxDebtToEquity {
		score++
	}
	if m.OperatingMargin >= cfg.MinOperatingMargin {
		score++
	}
	return indicators.Clamp(score, 0, 10)
}

// valueScore maps P/E into [0,1]: cheaper is better, non-positive earnings score zero
func valueScore(m models.FundamentalMetrics, maxPE float64) float64 {
	if m.Source == "" {
		return 0.5
	}
	if m.PERatio <= 0 {
		return 0
	}
	return indicators.Clamp(1-m.PERatio/(2*maxPE), 0, 1)
}

func sentimentScore(m models.FundamentalMetrics) float64 {
	if m.AnalystSentiment == nil {
		return 0.5
	}
	return indicators.Clamp(*m.AnalystSentiment, 0, 1)
}
