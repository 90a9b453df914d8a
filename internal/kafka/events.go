package kafka

import (
	"time"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// Event type constants
const (
	EventInvestmentDecision = "INVESTMENT_DECISION"
	EventExitTriggered      = "EXIT_TRIGGERED"
	EventRebalanceRequested = "REBALANCE_REQUESTED"
	EventPositionsSnapshot  = "POSITIONS_SNAPSHOT"
)

// DecisionEvent carries one decision of an analysis cycle
type DecisionEvent struct {
	EventType string                    `json:"event_type"`
	Symbol    string                    `json:"symbol"`
	Decision  models.InvestmentDecision `json:"decision"`
	Timestamp time.Time                 `json:"timestamp"`
}

// TriggerMessage carries a fired protective order
type TriggerMessage struct {
	EventType string              `json:"event_type"`
	Symbol    string              `json:"symbol"`
	Trigger   models.TriggerEvent `json:"trigger"`
	Timestamp time.Time           `json:"timestamp"`
}

// RebalanceEvent asks the allocation side to re-plan
type RebalanceEvent struct {
	EventType string                  `json:"event_type"`
	Symbol    string                  `json:"symbol"`
	Request   models.RebalanceRequest `json:"request"`
	Timestamp time.Time               `json:"timestamp"`
}

// PositionsEvent is the snapshot the execution layer publishes.
// Numeric fields arrive as strings.
type PositionsEvent struct {
	EventType string             `json:"event_type"`
	Source    string             `json:"source"`
	Timestamp string             `json:"timestamp"`
	Data      PositionsEventData `json:"data"`
}

// PositionsEventData holds the snapshot body
type PositionsEventData struct {
	BuyingPower string         `json:"buying_power,omitempty"`
	Positions   []PositionData `json:"positions"`
}

// PositionData is one holding in a snapshot
type PositionData struct {
	Symbol          string `json:"symbol"`
	Side            string `json:"side,omitempty"`
	Sector          string `json:"sector,omitempty"`
	Quantity        string `json:"quantity"`
	AverageBuyPrice string `json:"average_buy_price"`
	Equity          string `json:"equity,omitempty"`
	PercentChange   string `json:"percent_change,omitempty"`
	StopPrice       string `json:"stop_price,omitempty"`
	OpenedAt        string `json:"opened_at,omitempty"`
}
