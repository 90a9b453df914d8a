package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order status constants
const (
	OrderStatusActive    = "active"
	OrderStatusTriggered = "triggered"
	OrderStatusCancelled = "cancelled"
	OrderStatusExpired   = "expired"
)

// Trigger type constants
const (
	TriggerStopLoss     = "stop_loss"
	TriggerTakeProfit   = "take_profit"
	TriggerTrailingStop = "trailing_stop"
)

// StopLossOrder is a monitored protective order
type StopLossOrder struct {
	ID              string     `json:"id"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`
	Quantity        float64    `json:"quantity"`
	OriginalPrice   float64    `json:"original_price"`
	StopLossPrice   float64    `json:"stop_loss_price"`
	TakeProfitPrice *float64   `json:"take_profit_price,omitempty"`
	Trailing        bool       `json:"trailing"`
	TrailingPercent float64    `json:"trailing_percent"`
	HighWaterMark   float64    `json:"high_water_mark"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	TriggeredAt     *time.Time `json:"triggered_at,omitempty"`
}

// IsActive reports whether the order is still monitored
func (o *StopLossOrder) IsActive() bool { return o.Status == OrderStatusActive }

// IsShort reports whether the protected position is short
func (o *StopLossOrder) IsShort() bool { return o.Side == SideShort }

// TriggerEvent is emitted when a monitored order fires
type TriggerEvent struct {
	ID          int             `json:"id,omitempty"`
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	TriggerType string          `json:"trigger_type"`
	Reason      string          `json:"reason"`
	ExitPrice   float64         `json:"exit_price"`
	Quantity    float64         `json:"quantity"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Timestamp   time.Time       `json:"timestamp"`
}

// RebalanceRequest asks the allocation side to re-plan after an exit
type RebalanceRequest struct {
	Symbol    string    `json:"symbol"`
	Reason    string    `json:"reason"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
