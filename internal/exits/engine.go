// Package exits decides whether to hold, scale out of, or exit each open position.
package exits

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/indicators"
	"github.com/trogers1052/stock-risk-engine/internal/models"
)

const (
	// EmergencyMarketBearish is the bearish signal count that marks an instrument as panicking
	EmergencyMarketBearish = 4
	// EmergencyPositionBearish is the bearish signal count that forces an exit during a panic
	EmergencyPositionBearish = 3
)

// SettingsSource supplies the current strategy settings
type SettingsSource interface {
	Risk() config.RiskConfig
	AI() config.AISettings
}

// Market is what the engine knows about a held symbol this cycle
type Market struct {
	Price float64
	// Bars are completed daily bars, oldest first
	Bars     models.PriceSeries
	Analysis *models.MarketAnalysis
}

// Emergency is the result of the portfolio-wide panic check
type Emergency struct {
	Triggered       bool    `json:"triggered"`
	BearishFraction float64 `json:"bearish_fraction"`
	Analyzed        int     `json:"analyzed"`
}

// Engine evaluates open positions
type Engine struct {
	settings SettingsSource
	now      func() time.Time
	logger   zerolog.Logger
}

// NewEngine creates an Engine
func NewEngine(settings SettingsSource) *Engine {
	return &Engine{
		settings: settings,
		now:      time.Now,
		logger:   log.With().Str("component", "exits").Logger(),
	}
}

// EmergencyCheck reports a market panic when the share of analyzed instruments that are
// strongly bearish and trending down reaches the panic threshold.
func (e *Engine) EmergencyCheck(analyses []*models.MarketAnalysis) Emergency {
	result := Emergency{Analyzed: len(analyses)}
	if len(analyses) == 0 {
		return result
	}

	bearish := 0
	for _, m := range analyses {
		if m.BearishSignals >= EmergencyMarketBearish && m.TrendDirection == models.TrendDown {
			bearish++
		}
	}
	result.BearishFraction = float64(bearish) / float64(len(analyses))
	result.Triggered = result.BearishFraction >= e.settings.Risk().PanicThreshold
	if result.Triggered {
		e.logger.Warn().Float64("bearish_fraction", result.BearishFraction).Int("analyzed", len(analyses)).Msg("emergency exit conditions met")
	}
	return result
}

func atrOf(bars models.PriceSeries, n int) float64 {
	if len(bars) < n {
		return 0
	}
	return indicators.ATR(bars.Highs(), bars.Lows(), bars.Closes(), n)
}

// RefreshStop sets the initial stop when none exists and tightens it to the chandelier level.
// The stop never loosens. It reports whether the stop moved.
func (e *Engine) RefreshStop(p *models.Position, m Market) bool {
	cfg := e.settings.Risk()
	atr := atrOf(m.Bars, cfg.ATRLength)
	moved := false

	if p.StopPrice <= 0 {
		if atr > 0 {
			p.StopPrice = p.EntryPrice - p.Direction()*cfg.InitialATRMult*atr
		} else {
			p.StopPrice = p.EntryPrice * (1 - p.Direction()*e.settings.AI().StopLossPercent/100)
		}
		moved = true
	}
	if p.RiskPerShare <= 0 {
		p.RiskPerShare = math.Abs(p.EntryPrice - p.StopPrice)
	}

	if atr <= 0 || len(m.Bars) == 0 {
		return moved
	}
	var chandelier float64
	if p.IsShort() {
		chandelier = math.Min(indicators.Lowest(m.Bars.Lows(), cfg.ChandelierLookback), m.Price) + cfg.ChandelierMult*atr
	} else {
		chandelier = math.Max(indicators.Highest(m.Bars.Highs(), cfg.ChandelierLookback), m.Price) - cfg.ChandelierMult*atr
	}
	if p.Tighter(chandelier) {
		e.logger.Debug().Str("symbol", p.Symbol).Float64("from", p.StopPrice).Float64("to", chandelier).Msg("chandelier stop tightened")
		p.StopPrice = chandelier
		moved = true
	}
	return moved
}

// Evaluate runs the exit rules for one position in priority order. It returns the decision and
// the position with its engine-owned fields updated; the input is not modified.
func (e *Engine) Evaluate(pos *models.Position, m Market, emergency Emergency) (models.InvestmentDecision, *models.Position) {
	p := pos.Clone()
	cfg := e.settings.Risk()

	if emergency.Triggered && m.Analysis != nil && m.Analysis.BearishSignals >= EmergencyPositionBearish {
		d := e.decision(p, m.Price, models.ActionExit, p.Remaining(), 1, models.StrategyEmergencyExit, models.UrgencyCritical,
			fmt.Sprintf("market panic: %.0f%% of instruments bearish, %s has %d bearish signals",
				emergency.BearishFraction*100, p.Symbol, m.Analysis.BearishSignals))
		d.RiskScore = 10
		return d, p
	}

	e.RefreshStop(p, m)
	e.annotate(p, m)

	if p.StopHit(m.Price) {
		d := e.decision(p, m.Price, models.ActionExit, p.Remaining(), 1, models.StrategyHardStop, models.UrgencyCritical,
			fmt.Sprintf("price %.2f crossed stop %.2f", m.Price, p.StopPrice))
		d.TriggerType = models.TriggerStopLoss
		d.RiskScore = 10
		return d, p
	}

	if d, ok := e.scaleOut(p, m.Price, cfg); ok {
		return d, p
	}

	factors := ComputeFactors(p, m.Bars, m.Price, cfg)
	return e.composite(p, m.Price, factors), p
}

// annotate advances bars held and the peak open profit
func (e *Engine) annotate(p *models.Position, m Market) {
	if !p.EntryTime.IsZero() {
		held := 0
		for _, b := range m.Bars {
			if b.Date.After(p.EntryTime) {
				held++
			}
		}
		p.BarsHeld = max(p.BarsHeld, held)
	}
	p.PeakUnrealized = math.Max(p.PeakUnrealized, p.UnrealizedR(m.Price))
}

func (e *Engine) scaleOut(p *models.Position, price float64, cfg config.RiskConfig) (models.InvestmentDecision, bool) {
	levels, percents := p.TakeProfitLevels, p.ScaleOutPercents
	if len(levels) == 0 {
		levels, percents = cfg.TakeProfitLevels, cfg.ScaleOutPercents
	}
	next := p.RealizedScaleouts
	if !cfg.ScaleOutEnabled || next >= len(levels) || next >= len(percents) {
		return models.InvestmentDecision{}, false
	}

	r := p.UnrealizedR(price)
	if r < levels[next] {
		return models.InvestmentDecision{}, false
	}

	qty := p.Remaining() * percents[next]
	p.PendingScaleOut += qty
	p.RealizedScaleouts++
	if next == 0 && p.Tighter(p.EntryPrice) {
		p.StopPrice = p.EntryPrice
	}

	d := e.decision(p, price, models.ActionScaleOut, qty, 1, models.StrategyScaleOut, models.UrgencyNormal,
		fmt.Sprintf("reached %.2fR (level %d at %.2fR), selling %.0f%%", r, next+1, levels[next], percents[next]*100))
	d.TriggerType = models.TriggerTakeProfit
	return d, true
}

func (e *Engine) composite(p *models.Position, price float64, f Factors) models.InvestmentDecision {
	cfg := e.settings.Risk()
	threshold := indicators.Clamp(cfg.ExitThreshold+e.settings.AI().ExitThresholdOffset(), indicators.Epsilon, 1)
	score := f.Score(cfg.Weights)
	top := f.Top(cfg.Weights)

	if score >= threshold {
		d := e.decision(p, price, models.ActionExit, p.Remaining(), score, models.StrategyCompositeExit, models.UrgencyHigh,
			fmt.Sprintf("composite exit score %.2f >= %.2f, led by %s (%.2f)", score, threshold, top.Name, top.Value))
		d.RiskScore = score * 10
		return d
	}

	d := e.decision(p, price, models.ActionHold, 0, 1-score, models.StrategyCompositeHold, models.UrgencyLow,
		fmt.Sprintf("composite exit score %.2f < %.2f", score, threshold))
	d.RiskScore = score * 10
	return d
}

func (e *Engine) decision(p *models.Position, price float64, action string, qty, confidence float64, strategy, urgency, reasoning string) models.InvestmentDecision {
	d := models.InvestmentDecision{
		Symbol:     p.Symbol,
		Action:     action,
		Quantity:   qty,
		Confidence: indicators.Clamp(confidence, 0, 1),
		Reasoning:  reasoning,
		Strategy:   strategy,
		// open losses push risk up from a neutral 5, two and a half points per R
		RiskScore:  indicators.Clamp(5-2.5*p.UnrealizedR(price), 0, 10),
		Urgency:    urgency,
		CreatedAt:  e.now(),
	}
	if p.EntryPrice > 0 {
		d.ExpectedReturn = (price - p.EntryPrice) * p.Direction() / p.EntryPrice
	}
	if p.StopPrice > 0 {
		stop := p.StopPrice
		d.StopLossPrice = &stop
	}
	if action == models.ActionExit || action == models.ActionScaleOut {
		d.Priority = 1
	}
	return d
}
