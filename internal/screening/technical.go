package screening

import (
	"math"
	"time"

	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/indicators"
	"github.com/trogers1052/stock-risk-engine/internal/models"
)

const (
	// MinHistoryBars is the shortest series that supports the full technical model
	MinHistoryBars = 50

	breakoutLookback     = 20
	volumeLookback       = 20
	volumeSurgeRatio     = 1.5
	adxLength            = 14
	volatilityLookback   = 20
	momentumLookback     = 20
	simplifiedBreakout   = 3.0
	simplifiedSurgeVol   = 1_000_000
	simplifiedTrendScale = 10.0
)

// technicalView is the technical model plus the price context the analysis needs
type technicalView struct {
	models.TechnicalAnalysis
	volatility float64
	momentum   float64
	trend      string
	support    float64
	resistance float64
}

// priorBars drops bars from the quote's own session so breakouts compare against completed days
func priorBars(q *models.Quote, history models.PriceSeries) models.PriceSeries {
	if q.Timestamp.IsZero() {
		return history
	}
	ts := q.Timestamp.UTC()
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	end := len(history)
	for end > 0 && !history[end-1].Date.Before(day) {
		end--
	}
	return history[:end]
}

// Technicals computes the full model from history, or the simplified quote-only model
// when fewer than MinHistoryBars completed bars are available.
func Technicals(q *models.Quote, history models.PriceSeries, cfg config.RiskConfig) models.TechnicalAnalysis {
	return technicals(q, history, cfg).TechnicalAnalysis
}

func technicals(q *models.Quote, history models.PriceSeries, cfg config.RiskConfig) technicalView {
	prior := priorBars(q, history)
	if len(prior) < MinHistoryBars {
		return simplifiedTechnicals(q)
	}

	closes := append(prior.Closes(), q.Price)
	highs, lows := prior.Highs(), prior.Lows()
	priorCloses := prior.Closes()

	v := technicalView{}
	v.RSI = indicators.RSI(closes, cfg.RSILength)
	v.MACD, v.MACDSignal, v.MACDHistogram = indicators.MACD(closes, 12, 26, 9)
	v.MACDBullish = v.MACDHistogram > 0
	v.SMA20 = indicators.SMA(closes, 20)
	v.SMA50 = indicators.SMA(closes, 50)
	v.ATR = indicators.ATR(highs, lows, priorCloses, cfg.ATRLength)
	v.TrendStrength = indicators.ADX(highs, lows, priorCloses, adxLength)

	switch {
	case q.Price > v.SMA20 && v.SMA20 > v.SMA50:
		v.MASignal = models.MASignalBullish
	case q.Price < v.SMA20 && v.SMA20 < v.SMA50:
		v.MASignal = models.MASignalBearish
	default:
		v.MASignal = models.MASignalNeutral
	}

	v.resistance = indicators.Highest(highs, breakoutLookback)
	v.support = indicators.Lowest(lows, breakoutLookback)
	v.Breakout = q.Price > v.resistance

	avgVolume := indicators.SMA(prior.Volumes(), volumeLookback)
	v.VolumeSurge = avgVolume > 0 && float64(q.Volume) >= volumeSurgeRatio*avgVolume

	v.volatility = indicators.Clamp(indicators.AnnualizedVolatility(closes, volatilityLookback), 0, 1)
	v.momentum = indicators.Clamp(0.5+indicators.RateOfChange(closes, momentumLookback)/0.4, 0, 1)

	switch {
	case q.Price > v.SMA50 && v.SMA20 > v.SMA50:
		v.trend = models.TrendUp
	case q.Price < v.SMA50 && v.SMA20 < v.SMA50:
		v.trend = models.TrendDown
	default:
		v.trend = models.TrendSideways
	}
	return v
}

// simplifiedTechnicals approximates the model from a single quote
func simplifiedTechnicals(q *models.Quote) technicalView {
	chg := q.ChangePercent

	v := technicalView{}
	v.Simplified = true
	v.RSI = indicators.Clamp(50+chg*5, 0, 100)
	v.MACDBullish = chg > 0
	v.TrendStrength = math.Min(100, math.Abs(chg)*simplifiedTrendScale)
	v.ATR = q.Price * math.Max(math.Abs(chg), 1) / 100
	v.Breakout = chg >= simplifiedBreakout
	v.VolumeSurge = q.Volume >= simplifiedSurgeVol && math.Abs(chg) >= 2

	switch {
	case chg > 1:
		v.MASignal = models.MASignalBullish
		v.trend = models.TrendUp
	case chg < -1:
		v.MASignal = models.MASignalBearish
		v.trend = models.TrendDown
	default:
		v.MASignal = models.MASignalNeutral
		v.trend = models.TrendSideways
	}

	band := math.Max(math.Abs(chg), 2) / 100
	v.support = q.Price * (1 - band)
	v.resistance = q.Price * (1 + band)
	v.volatility = indicators.Clamp(math.Abs(chg)/10, 0, 1)
	v.momentum = indicators.Clamp(0.5+chg/20, 0, 1)
	return v
}

// TechnicalScore applies the additive point rubric, capped at 10
func TechnicalScore(t models.TechnicalAnalysis, cfg config.ScoringThresholds) float64 {
	var score float64
	if t.Breakout {
		score += 3
	}
	if t.VolumeSurge {
		score += 2
	}
	switch t.MASignal {
	case models.MASignalBullish:
		score += 2
	case models.MASignalNeutral:
		score++
	}
	if t.RSI >= cfg.RSIBandLow && t.RSI <= cfg.RSIBandHigh {
		score++
	}
	if t.MACDBullish {
		score++
	}
	if t.TrendStrength >= cfg.TrendStrength {
		score++
	}
	return indicators.Clamp(score, 0, 10)
}

// bearishSignals counts independent bearish conditions
func bearishSignals(q *models.Quote, v technicalView) int {
	count := 0
	if v.MASignal == models.MASignalBearish {
		count++
	}
	if v.SMA20 > 0 && q.Price < v.SMA20 {
		count++
	}
	if v.RSI < 40 {
		count++
	}
	if !v.MACDBullish {
		count++
	}
	if q.ChangePercent < 0 {
		count++
	}
	if v.trend == models.TrendDown {
		count++
	}
	return count
}
