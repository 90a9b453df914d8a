package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// Risk tolerance presets
const (
	ToleranceConservative = "conservative"
	ToleranceModerate     = "moderate"
	ToleranceAggressive   = "aggressive"
)

const weightSumTolerance = 1e-6

// ValidationError reports a rejected setting
type ValidationError struct {
	Section string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s.%s: %s", e.Section, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return models.ErrConfiguration }

// Settings is the document persisted in the settings file
type Settings struct {
	Risk     RiskConfig       `json:"risk" yaml:"risk"`
	AI       AISettings       `json:"ai" yaml:"ai"`
	StopLoss StopLossSettings `json:"stop_loss" yaml:"stop_loss"`
}

// FactorWeights weights the six composite exit factors
type FactorWeights struct {
	Momentum       float64 `json:"momentum" yaml:"momentum"`
	VolExpansion   float64 `json:"vol_expansion" yaml:"vol_expansion"`
	RSIStress      float64 `json:"rsi_stress" yaml:"rsi_stress"`
	StructureBreak float64 `json:"structure_break" yaml:"structure_break"`
	Drawdown       float64 `json:"drawdown" yaml:"drawdown"`
	Time           float64 `json:"time" yaml:"time"`
}

// Sum returns the total weight
func (w FactorWeights) Sum() float64 {
	return w.Momentum + w.VolExpansion + w.RSIStress + w.StructureBreak + w.Drawdown + w.Time
}

// ScreeningThresholds are the conjunctive gate every candidate must pass
type ScreeningThresholds struct {
	MinEPSGrowth     float64 `json:"min_eps_growth" yaml:"min_eps_growth"`
	MinROE           float64 `json:"min_roe" yaml:"min_roe"`
	MinSalesGrowth   float64 `json:"min_sales_growth" yaml:"min_sales_growth"`
	MaxPE            float64 `json:"max_pe" yaml:"max_pe"`
	MaxDebtToEquity  float64 `json:"max_debt_to_equity" yaml:"max_debt_to_equity"`
	MinCurrentRatio  float64 `json:"min_current_ratio" yaml:"min_current_ratio"`
	MaxRSI           float64 `json:"max_rsi" yaml:"max_rsi"`
	MinTrendStrength float64 `json:"min_trend_strength" yaml:"min_trend_strength"`
}

// ScoringThresholds feed the additive point rubrics
type ScoringThresholds struct {
	MaxPE              float64 `json:"max_pe" yaml:"max_pe"`
	MaxDebtToEquity    float64 `json:"max_debt_to_equity" yaml:"max_debt_to_equity"`
	MinOperatingMargin float64 `json:"min_operating_margin" yaml:"min_operating_margin"`
	RSIBandLow         float64 `json:"rsi_band_low" yaml:"rsi_band_low"`
	RSIBandHigh        float64 `json:"rsi_band_high" yaml:"rsi_band_high"`
	TrendStrength      float64 `json:"trend_strength" yaml:"trend_strength"`
}

// RiskConfig tunes screening and the exit decision engine
type RiskConfig struct {
	ATRLength              int                 `json:"atr_length" yaml:"atr_length"`
	RSILength              int                 `json:"rsi_length" yaml:"rsi_length"`
	EMAFast                int                 `json:"ema_fast" yaml:"ema_fast"`
	EMASlow                int                 `json:"ema_slow" yaml:"ema_slow"`
	SlopeLookback          int                 `json:"slope_lookback" yaml:"slope_lookback"`
	InitialATRMult         float64             `json:"initial_atr_mult" yaml:"initial_atr_mult"`
	ChandelierMult         float64             `json:"chandelier_mult" yaml:"chandelier_mult"`
	ChandelierLookback     int                 `json:"chandelier_lookback" yaml:"chandelier_lookback"`
	StructureLookback      int                 `json:"structure_lookback" yaml:"structure_lookback"`
	ATRPercentileLookback  int                 `json:"atr_percentile_lookback" yaml:"atr_percentile_lookback"`
	VolExpansionPercentile float64             `json:"vol_expansion_percentile" yaml:"vol_expansion_percentile"`
	RSIOverbought          float64             `json:"rsi_overbought" yaml:"rsi_overbought"`
	RSIOversold            float64             `json:"rsi_oversold" yaml:"rsi_oversold"`
	RSIStressBand          float64             `json:"rsi_stress_band" yaml:"rsi_stress_band"`
	MaxIntradeDrawdownR    float64             `json:"max_intrade_drawdown_r" yaml:"max_intrade_drawdown_r"`
	MaxBarsInTrade         int                 `json:"max_bars_in_trade" yaml:"max_bars_in_trade"`
	Weights                FactorWeights       `json:"weights" yaml:"weights"`
	ExitThreshold          float64             `json:"exit_threshold" yaml:"exit_threshold"`
	PanicThreshold         float64             `json:"panic_threshold" yaml:"panic_threshold"`
	ScaleOutEnabled        bool                `json:"scale_out_enabled" yaml:"scale_out_enabled"`
	TakeProfitLevels       []float64           `json:"take_profit_levels" yaml:"take_profit_levels"`
	ScaleOutPercents       []float64           `json:"scale_out_percents" yaml:"scale_out_percents"`
	Screening              ScreeningThresholds `json:"screening" yaml:"screening"`
	Scoring                ScoringThresholds   `json:"scoring" yaml:"scoring"`
}

// AISettings holds the allocation preferences
type AISettings struct {
	RiskTolerance      string             `json:"risk_tolerance" yaml:"risk_tolerance"`
	InvestmentAmount   float64            `json:"investment_amount" yaml:"investment_amount"`
	MaxPositions       int                `json:"max_positions" yaml:"max_positions"`
	SectorLimits       map[string]float64 `json:"sector_limits" yaml:"sector_limits"`
	DefaultSectorLimit float64            `json:"default_sector_limit" yaml:"default_sector_limit"`
	MaxPositionWeight  float64            `json:"max_position_weight" yaml:"max_position_weight"`
	StopLossEnabled    bool               `json:"stop_loss_enabled" yaml:"stop_loss_enabled"`
	StopLossPercent    float64            `json:"stop_loss_percent" yaml:"stop_loss_percent"`
	TakeProfitEnabled  bool               `json:"take_profit_enabled" yaml:"take_profit_enabled"`
	TakeProfitPercent  float64            `json:"take_profit_percent" yaml:"take_profit_percent"`
	MaxDrawdownPercent float64            `json:"max_drawdown_percent" yaml:"max_drawdown_percent"`
}

// StopLossSettings configures the position monitor
type StopLossSettings struct {
	Enabled                  bool          `json:"enabled" yaml:"enabled"`
	TrailingEnabled          bool          `json:"trailing_enabled" yaml:"trailing_enabled"`
	DefaultStopPercent       float64       `json:"default_stop_percent" yaml:"default_stop_percent"`
	DefaultTakeProfitPercent float64       `json:"default_take_profit_percent" yaml:"default_take_profit_percent"`
	DefaultTrailingPercent   float64       `json:"default_trailing_percent" yaml:"default_trailing_percent"`
	EmergencyStopPercent     float64       `json:"emergency_stop_percent" yaml:"emergency_stop_percent"`
	AutoRebalance            bool          `json:"auto_rebalance" yaml:"auto_rebalance"`
	OrderTTL                 time.Duration `json:"order_ttl" yaml:"order_ttl"`
	MonitorInterval          time.Duration `json:"monitor_interval" yaml:"monitor_interval"`
}

// DefaultSettings returns the full default document
func DefaultSettings() Settings {
	return Settings{
		Risk:     DefaultRiskConfig(),
		AI:       DefaultAISettings(),
		StopLoss: DefaultStopLossSettings(),
	}
}

// DefaultRiskConfig returns the default RiskConfig
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		ATRLength:              14,
		RSILength:              14,
		EMAFast:                9,
		EMASlow:                21,
		SlopeLookback:          5,
		InitialATRMult:         2,
		ChandelierMult:         3,
		ChandelierLookback:     22,
		StructureLookback:      10,
		ATRPercentileLookback:  100,
		VolExpansionPercentile: 0.8,
		RSIOverbought:          70,
		RSIOversold:            30,
		RSIStressBand:          20,
		MaxIntradeDrawdownR:    1.5,
		MaxBarsInTrade:         40,
		Weights: FactorWeights{
			Momentum:       0.22,
			VolExpansion:   0.18,
			RSIStress:      0.18,
			StructureBreak: 0.22,
			Drawdown:       0.12,
			Time:           0.08,
		},
		ExitThreshold:    0.70,
		PanicThreshold:   0.85,
		ScaleOutEnabled:  true,
		TakeProfitLevels: []float64{1.0, 2.0},
		ScaleOutPercents: []float64{0.5, 0.5},
		Screening: ScreeningThresholds{
			MinEPSGrowth:     15,
			MinROE:           12,
			MinSalesGrowth:   10,
			MaxPE:            35,
			MaxDebtToEquity:  1.5,
			MinCurrentRatio:  1.0,
			MaxRSI:           75,
			MinTrendStrength: 20,
		},
		Scoring: ScoringThresholds{
			MaxPE:              25,
			MaxDebtToEquity:    1.0,
			MinOperatingMargin: 15,
			RSIBandLow:         40,
			RSIBandHigh:        70,
			TrendStrength:      25,
		},
	}
}

// DefaultAISettings returns the default AISettings
func DefaultAISettings() AISettings {
	return AISettings{
		RiskTolerance:      ToleranceModerate,
		InvestmentAmount:   100000,
		MaxPositions:       10,
		SectorLimits:       map[string]float64{},
		DefaultSectorLimit: 0.4,
		StopLossEnabled:    true,
		StopLossPercent:    8,
		TakeProfitEnabled:  true,
		TakeProfitPercent:  20,
		MaxDrawdownPercent: 15,
	}
}

// DefaultStopLossSettings returns the default StopLossSettings
func DefaultStopLossSettings() StopLossSettings {
	return StopLossSettings{
		Enabled:                  true,
		TrailingEnabled:          true,
		DefaultStopPercent:       8,
		DefaultTakeProfitPercent: 20,
		DefaultTrailingPercent:   5,
		EmergencyStopPercent:     15,
		AutoRebalance:            false,
		OrderTTL:                 0,
		MonitorInterval:          10 * time.Second,
	}
}

// Validate checks every section
func (s Settings) Validate() error {
	if err := s.Risk.Validate(); err != nil {
		return err
	}
	if err := s.AI.Validate(); err != nil {
		return err
	}
	return s.StopLoss.Validate()
}

// Clone returns a deep copy
func (s Settings) Clone() Settings {
	return Settings{Risk: s.Risk.Clone(), AI: s.AI.Clone(), StopLoss: s.StopLoss}
}

// Validate checks ranges and internal consistency
func (r RiskConfig) Validate() error {
	bad := func(field, reason string) error {
		return &ValidationError{Section: "risk", Field: field, Reason: reason}
	}

	lengths := []struct {
		name  string
		value int
		min   int
	}{
		{"atr_length", r.ATRLength, 1},
		{"rsi_length", r.RSILength, 2},
		{"ema_fast", r.EMAFast, 1},
		{"ema_slow", r.EMASlow, 2},
		{"slope_lookback", r.SlopeLookback, 1},
		{"chandelier_lookback", r.ChandelierLookback, 1},
		{"structure_lookback", r.StructureLookback, 1},
		{"atr_percentile_lookback", r.ATRPercentileLookback, 2},
		{"max_bars_in_trade", r.MaxBarsInTrade, 1},
	}
	for _, l := range lengths {
		if l.value < l.min {
			return bad(l.name, fmt.Sprintf("must be >= %d, got %d", l.min, l.value))
		}
	}
	if r.EMAFast >= r.EMASlow {
		return bad("ema_fast", "must be shorter than ema_slow")
	}
	if r.InitialATRMult <= 0 {
		return bad("initial_atr_mult", "must be positive")
	}
	if r.ChandelierMult <= 0 {
		return bad("chandelier_mult", "must be positive")
	}
	if !inRange(r.VolExpansionPercentile, 0, 1) || r.VolExpansionPercentile == 0 {
		return bad("vol_expansion_percentile", "must be in (0,1]")
	}
	if !inRange(r.RSIOversold, 0, 100) || !inRange(r.RSIOverbought, 0, 100) || r.RSIOversold >= r.RSIOverbought {
		return bad("rsi_oversold", "oversold and overbought must satisfy 0 <= oversold < overbought <= 100")
	}
	if r.RSIStressBand <= 0 {
		return bad("rsi_stress_band", "must be positive")
	}
	if r.MaxIntradeDrawdownR <= 0 {
		return bad("max_intrade_drawdown_r", "must be positive")
	}

	w := r.Weights
	for name, v := range map[string]float64{
		"momentum": w.Momentum, "vol_expansion": w.VolExpansion, "rsi_stress": w.RSIStress,
		"structure_break": w.StructureBreak, "drawdown": w.Drawdown, "time": w.Time,
	} {
		if v < 0 || math.IsNaN(v) {
			return bad("weights."+name, "must be non-negative")
		}
	}
	if math.Abs(w.Sum()-1) > weightSumTolerance {
		return bad("weights", fmt.Sprintf("must sum to 1, got %.6f", w.Sum()))
	}

	if !inRange(r.ExitThreshold, 0, 1) || r.ExitThreshold == 0 {
		return bad("exit_threshold", "must be in (0,1]")
	}
	if !inRange(r.PanicThreshold, 0, 1) || r.PanicThreshold == 0 {
		return bad("panic_threshold", "must be in (0,1]")
	}

	if len(r.TakeProfitLevels) != len(r.ScaleOutPercents) {
		return bad("scale_out_percents", "must have one entry per take profit level")
	}
	prev := 0.0
	for i, level := range r.TakeProfitLevels {
		if level <= prev {
			return bad("take_profit_levels", "must be positive and strictly increasing")
		}
		prev = level
		if p := r.ScaleOutPercents[i]; p <= 0 || p > 1 {
			return bad("scale_out_percents", fmt.Sprintf("entry %d must be in (0,1]", i))
		}
	}

	if r.Screening.MaxPE <= 0 || r.Scoring.MaxPE <= 0 {
		return bad("max_pe", "must be positive")
	}
	if r.Screening.MaxDebtToEquity < 0 || r.Scoring.MaxDebtToEquity < 0 {
		return bad("max_debt_to_equity", "must be non-negative")
	}
	if !inRange(r.Screening.MaxRSI, 0, 100) {
		return bad("screening.max_rsi", "must be in [0,100]")
	}
	if !inRange(r.Screening.MinTrendStrength, 0, 100) || !inRange(r.Scoring.TrendStrength, 0, 100) {
		return bad("trend_strength", "must be in [0,100]")
	}
	if !inRange(r.Scoring.RSIBandLow, 0, 100) || !inRange(r.Scoring.RSIBandHigh, 0, 100) || r.Scoring.RSIBandLow >= r.Scoring.RSIBandHigh {
		return bad("scoring.rsi_band_low", "band must satisfy 0 <= low < high <= 100")
	}
	return nil
}

// Clone returns a deep copy
func (r RiskConfig) Clone() RiskConfig {
	c := r
	c.TakeProfitLevels = append([]float64(nil), r.TakeProfitLevels...)
	c.ScaleOutPercents = append([]float64(nil), r.ScaleOutPercents...)
	return c
}

// Validate checks ranges
func (a AISettings) Validate() error {
	bad := func(field, reason string) error {
		return &ValidationError{Section: "ai", Field: field, Reason: reason}
	}

	switch a.RiskTolerance {
	case ToleranceConservative, ToleranceModerate, ToleranceAggressive:
	default:
		return bad("risk_tolerance", fmt.Sprintf("unknown tolerance %q", a.RiskTolerance))
	}
	if a.InvestmentAmount <= 0 || math.IsInf(a.InvestmentAmount, 0) {
		return bad("investment_amount", "must be positive")
	}
	if a.MaxPositions < 1 || a.MaxPositions > 100 {
		return bad("max_positions", "must be in [1,100]")
	}
	if a.DefaultSectorLimit <= 0 || a.DefaultSectorLimit > 1 {
		return bad("default_sector_limit", "must be in (0,1]")
	}
	for sector, limit := range a.SectorLimits {
		if strings.TrimSpace(sector) == "" {
			return bad("sector_limits", "sector name is empty")
		}
		if limit <= 0 || limit > 1 {
			return bad("sector_limits."+sector, "must be in (0,1]")
		}
	}
	if a.MaxPositionWeight < 0 || a.MaxPositionWeight > 1 {
		return bad("max_position_weight", "must be in [0,1], 0 disables the cap")
	}
	if a.StopLossPercent <= 0 || a.StopLossPercent >= 100 {
		return bad("stop_loss_percent", "must be in (0,100)")
	}
	if a.TakeProfitPercent <= 0 || a.TakeProfitPercent > 1000 {
		return bad("take_profit_percent", "must be in (0,1000]")
	}
	if a.MaxDrawdownPercent <= 0 || a.MaxDrawdownPercent > 100 {
		return bad("max_drawdown_percent", "must be in (0,100]")
	}
	return nil
}

// Clone returns a deep copy
func (a AISettings) Clone() AISettings {
	c := a
	c.SectorLimits = make(map[string]float64, len(a.SectorLimits))
	for k, v := range a.SectorLimits {
		c.SectorLimits[k] = v
	}
	return c
}

// SectorLimit returns the weight cap for sector
func (a AISettings) SectorLimit(sector string) float64 {
	if limit, ok := a.SectorLimits[sector]; ok {
		return limit
	}
	return a.DefaultSectorLimit
}

// ExitThresholdOffset shifts the composite exit threshold for the risk tolerance.
// Conservative investors exit earlier.
func (a AISettings) ExitThresholdOffset() float64 {
	switch a.RiskTolerance {
	case ToleranceConservative:
		return -0.05
	case ToleranceAggressive:
		return 0.05
	default:
		return 0
	}
}

// Validate checks ranges
func (s StopLossSettings) Validate() error {
	bad := func(field, reason string) error {
		return &ValidationError{Section: "stop_loss", Field: field, Reason: reason}
	}

	if s.DefaultStopPercent <= 0 || s.DefaultStopPercent >= 100 {
		return bad("default_stop_percent", "must be in (0,100)")
	}
	if s.DefaultTakeProfitPercent <= 0 || s.DefaultTakeProfitPercent > 1000 {
		return bad("default_take_profit_percent", "must be in (0,1000]")
	}
	if s.DefaultTrailingPercent <= 0 || s.DefaultTrailingPercent >= 100 {
		return bad("default_trailing_percent", "must be in (0,100)")
	}
	if s.EmergencyStopPercent <= 0 || s.EmergencyStopPercent >= 100 {
		return bad("emergency_stop_percent", "must be in (0,100)")
	}
	if s.OrderTTL < 0 {
		return bad("order_ttl", "must not be negative")
	}
	if s.MonitorInterval < time.Second {
		return bad("monitor_interval", "must be at least 1s")
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
