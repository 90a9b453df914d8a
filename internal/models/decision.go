package models

import "time"

// Decision action constants
const (
	ActionBuy       = "buy"
	ActionRebalance = "rebalance"
	ActionHold      = "hold"
	ActionScaleOut  = "scale_out"
	ActionExit      = "exit"
)

// Strategy tag constants
const (
	StrategyAllocationEntry = "allocation_entry"
	StrategyHardStop        = "hard_stop"
	StrategyScaleOut        = "scale_out"
	StrategyCompositeExit   = "composite_exit"
	StrategyCompositeHold   = "composite_hold"
	StrategyEmergencyExit   = "emergency_exit"
)

// Urgency constants
const (
	UrgencyLow      = "low"
	UrgencyNormal   = "normal"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// InvestmentDecision is an immutable output record of the analysis cycle
type InvestmentDecision struct {
	Symbol          string    `json:"symbol"`
	Action          string    `json:"action"`
	Quantity        float64   `json:"quantity"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
	Strategy        string    `json:"strategy"`
	RiskScore       float64   `json:"risk_score"`
	ExpectedReturn  float64   `json:"expected_return"`
	Priority        int       `json:"priority"`
	Urgency         string    `json:"urgency,omitempty"`
	TriggerType     string    `json:"trigger_type,omitempty"`
	StopLossPrice   *float64  `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *float64  `json:"take_profit_price,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CycleReport summarizes one analysis cycle
type CycleReport struct {
	StartedAt         time.Time             `json:"started_at"`
	Duration          time.Duration         `json:"duration"`
	Analyzed          int                   `json:"analyzed"`
	Screened          int                   `json:"screened"`
	Skipped           []string              `json:"skipped,omitempty"`
	Emergency         bool                  `json:"emergency"`
	EntriesSuppressed bool                  `json:"entries_suppressed"`
	Allocations       []PortfolioAllocation `json:"allocations"`
	Decisions         []InvestmentDecision  `json:"decisions"`
}
