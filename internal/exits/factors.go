package exits

import (
	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/indicators"
	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// Factor names used in exit reasoning
const (
	FactorMomentum       = "momentum_reversal"
	FactorVolExpansion   = "volatility_expansion"
	FactorRSIStress      = "rsi_stress"
	FactorStructureBreak = "structure_break"
	FactorDrawdown       = "drawdown"
	FactorTime           = "time_in_trade"
)

// Factors are the six composite exit inputs, each in [0,1]
type Factors struct {
	Momentum       float64 `json:"momentum_reversal"`
	VolExpansion   float64 `json:"volatility_expansion"`
	RSIStress      float64 `json:"rsi_stress"`
	StructureBreak float64 `json:"structure_break"`
	Drawdown       float64 `json:"drawdown"`
	Time           float64 `json:"time_in_trade"`
}

// Contribution is one weighted factor
type Contribution struct {
	Name  string
	Value float64
}

// Contributions returns each factor multiplied by its weight, in a fixed order
func (f Factors) Contributions(w config.FactorWeights) []Contribution {
	return []Contribution{
		{FactorMomentum, f.Momentum * w.Momentum},
		{FactorVolExpansion, f.VolExpansion * w.VolExpansion},
		{FactorRSIStress, f.RSIStress * w.RSIStress},
		{FactorStructureBreak, f.StructureBreak * w.StructureBreak},
		{FactorDrawdown, f.Drawdown * w.Drawdown},
		{FactorTime, f.Time * w.Time},
	}
}

// Score returns the weighted sum in [0,1]
func (f Factors) Score(w config.FactorWeights) float64 {
	var score float64
	for _, c := range f.Contributions(w) {
		score += c.Value
	}
	return indicators.Clamp(score, 0, 1)
}

// Top returns the largest contribution; ties go to the earlier factor
func (f Factors) Top(w config.FactorWeights) Contribution {
	contributions := f.Contributions(w)
	top := contributions[0]
	for _, c := range contributions[1:] {
		if c.Value > top.Value {
			top = c
		}
	}
	return top
}

func (f Factors) clamped() Factors {
	return Factors{
		Momentum:       indicators.Clamp(f.Momentum, 0, 1),
		VolExpansion:   indicators.Clamp(f.VolExpansion, 0, 1),
		RSIStress:      indicators.Clamp(f.RSIStress, 0, 1),
		StructureBreak: indicators.Clamp(f.StructureBreak, 0, 1),
		Drawdown:       indicators.Clamp(f.Drawdown, 0, 1),
		Time:           indicators.Clamp(f.Time, 0, 1),
	}
}

// ComputeFactors derives the composite inputs for p at price from completed daily bars
func ComputeFactors(p *models.Position, bars models.PriceSeries, price float64, cfg config.RiskConfig) Factors {
	closes := append(bars.Closes(), price)
	highs, lows := bars.Highs(), bars.Lows()

	f := Factors{
		Momentum:       momentumReversal(p, closes, cfg),
		VolExpansion:   volatilityExpansion(bars, cfg),
		RSIStress:      rsiStress(p, indicators.RSI(closes, cfg.RSILength), cfg),
		StructureBreak: structureBreak(p, highs, lows, price, cfg.StructureLookback),
		Drawdown:       (p.PeakUnrealized - p.UnrealizedR(price)) / cfg.MaxIntradeDrawdownR,
		Time:           float64(p.BarsHeld) / float64(cfg.MaxBarsInTrade),
	}
	return f.clamped()
}

// momentumReversal is 1 when the fast EMA has crossed the slow EMA against the position,
// 0.5 when the fast EMA is sloping against it, otherwise 0.
func momentumReversal(p *models.Position, closes []float64, cfg config.RiskConfig) float64 {
	if len(closes) < cfg.EMASlow+cfg.SlopeLookback {
		return 0
	}
	fast := indicators.EMASeries(closes, cfg.EMAFast)
	slow := indicators.EMA(closes, cfg.EMASlow)
	dir := p.Direction()

	if (fast[len(fast)-1]-slow)*dir < 0 {
		return 1
	}
	if indicators.Slope(fast, cfg.SlopeLookback)*dir < 0 {
		return 0.5
	}
	return 0
}

// volatilityExpansion is 1 when the current ATR ranks at or above the configured percentile
// of its recent history
func volatilityExpansion(bars models.PriceSeries, cfg config.RiskConfig) float64 {
	if len(bars) < 2*cfg.ATRLength {
		return 0
	}
	atrs := indicators.ATRSeries(bars.Highs(), bars.Lows(), bars.Closes(), cfg.ATRLength)[cfg.ATRLength-1:]
	if len(atrs) < 2 {
		return 0
	}
	current := atrs[len(atrs)-1]
	history := atrs[:len(atrs)-1]
	// strictly below the current value, so a flat ATR history never reads as expansion
	rank := indicators.PercentileRank(history, current-indicators.Epsilon, cfg.ATRPercentileLookback)
	if rank >= cfg.VolExpansionPercentile {
		return 1
	}
	return 0
}

func rsiStress(p *models.Position, rsi float64, cfg config.RiskConfig) float64 {
	if p.IsShort() {
		return (rsi - cfg.RSIOverbought) / cfg.RSIStressBand
	}
	return (cfg.RSIOversold - rsi) / cfg.RSIStressBand
}

// structureBreak is 1 when price breaks the recent swing low (long) or swing high (short)
func structureBreak(p *models.Position, highs, lows []float64, price float64, lookback int) float64 {
	if len(lows) < lookback {
		return 0
	}
	if p.IsShort() {
		if price > indicators.Highest(highs, lookback) {
			return 1
		}
		return 0
	}
	if price < indicators.Lowest(lows, lookback) {
		return 1
	}
	return 0
}
