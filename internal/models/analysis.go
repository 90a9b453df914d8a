package models

import "time"

// Trend direction constants
const (
	TrendUp       = "up"
	TrendDown     = "down"
	TrendSideways = "sideways"
)

// Moving-average signal constants
const (
	MASignalBullish = "bullish"
	MASignalNeutral = "neutral"
	MASignalBearish = "bearish"
)

// FundamentalMetrics holds raw company ratios (percent values are in percent, e.g. 25 = 25%)
type FundamentalMetrics struct {
	EPSGrowth       float64 `json:"eps_growth"`
	ROE             float64 `json:"roe"`
	SalesGrowth     float64 `json:"sales_growth"`
	PERatio         float64 `json:"pe_ratio"`
	DebtToEquity    float64 `json:"debt_to_equity"`
	OperatingMargin float64 `json:"operating_margin"`
	CurrentRatio    float64 `json:"current_ratio"`
	// AnalystSentiment is in [0,1]; nil when the provider has no rating.
	AnalystSentiment *float64 `json:"analyst_sentiment,omitempty"`
	Source           string   `json:"source"`
	Score            float64  `json:"score"`
}

// TechnicalAnalysis holds derived indicators for the latest bar
type TechnicalAnalysis struct {
	RSI           float64 `json:"rsi"`
	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`
	SMA20         float64 `json:"sma_20"`
	SMA50         float64 `json:"sma_50"`
	ATR           float64 `json:"atr"`
	MASignal      string  `json:"ma_signal"`
	Breakout      bool    `json:"breakout"`
	VolumeSurge   bool    `json:"volume_surge"`
	MACDBullish   bool    `json:"macd_bullish"`
	TrendStrength float64 `json:"trend_strength"`
	Simplified    bool    `json:"simplified"`
	Score         float64 `json:"score"`
}

// MarketAnalysis is the per-cycle view of one instrument
type MarketAnalysis struct {
	Symbol         string             `json:"symbol"`
	Price          float64            `json:"price"`
	Volatility     float64            `json:"volatility"`
	Momentum       float64            `json:"momentum"`
	ValueScore     float64            `json:"value_score"`
	SentimentScore float64            `json:"sentiment_score"`
	Sector         string             `json:"sector"`
	Fundamentals   FundamentalMetrics `json:"fundamentals"`
	Technicals     TechnicalAnalysis  `json:"technicals"`
	CombinedScore  float64            `json:"combined_score"`
	TrendDirection string             `json:"trend_direction"`
	TrendStrength  float64            `json:"trend_strength"`
	Support        float64            `json:"support"`
	Resistance     float64            `json:"resistance"`
	BearishSignals int                `json:"bearish_signals"`
	Synthetic      bool               `json:"synthetic"`
	AnalyzedAt     time.Time          `json:"analyzed_at"`
}

// PortfolioAllocation is a target weight for one screened candidate
type PortfolioAllocation struct {
	Symbol         string  `json:"symbol"`
	Sector         string  `json:"sector"`
	TargetWeight   float64 `json:"target_weight"`
	CompositeScore float64 `json:"composite_score"`
	Action         string  `json:"action"`
	Priority       int     `json:"priority"`
}
