package models

import "time"

// Side constants
const (
	SideLong  = "long"
	SideShort = "short"
)

// Position represents an open holding reported by the execution layer.
// The engine only writes StopPrice, BarsHeld, PeakUnrealized, RealizedScaleouts and
// PendingScaleOut, the quantity its scale-outs sold that no snapshot reflects yet.
type Position struct {
	Symbol            string    `json:"symbol"`
	Sector            string    `json:"sector,omitempty"`
	Side              string    `json:"side"`
	Quantity          float64   `json:"quantity"`
	EntryPrice        float64   `json:"entry_price"`
	EntryTime         time.Time `json:"entry_time"`
	RiskPerShare      float64   `json:"risk_per_share"`
	StopPrice         float64   `json:"stop_price"`
	TakeProfitLevels  []float64 `json:"take_profit_levels,omitempty"`
	ScaleOutPercents  []float64 `json:"scale_out_percents,omitempty"`
	BarsHeld          int       `json:"bars_held"`
	PeakUnrealized    float64   `json:"peak_unrealized"`
	RealizedScaleouts int       `json:"realized_scaleouts"`
	PendingScaleOut   float64   `json:"pending_scale_out,omitempty"`
}

// IsShort reports whether the position is short
func (p *Position) IsShort() bool { return p.Side == SideShort }

// Direction is +1 for long and -1 for short
func (p *Position) Direction() float64 {
	if p.IsShort() {
		return -1
	}
	return 1
}

// Remaining is the quantity still held once pending scale-outs execute
func (p *Position) Remaining() float64 {
	return max(0, p.Quantity-p.PendingScaleOut)
}

// UnrealizedR returns the open profit at price in multiples of RiskPerShare
func (p *Position) UnrealizedR(price float64) float64 {
	if p.RiskPerShare <= 0 {
		return 0
	}
	return (price - p.EntryPrice) * p.Direction() / p.RiskPerShare
}

// UnrealizedPnL returns the open profit at price in currency
func (p *Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Direction() * p.Quantity
}

// StopHit reports whether price has crossed the stop against the position
func (p *Position) StopHit(price float64) bool {
	if p.StopPrice <= 0 {
		return false
	}
	if p.IsShort() {
		return price >= p.StopPrice
	}
	return price <= p.StopPrice
}

// Tighter reports whether candidate is a tighter stop than the current one
func (p *Position) Tighter(candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if p.StopPrice <= 0 {
		return true
	}
	if p.IsShort() {
		return candidate < p.StopPrice
	}
	return candidate > p.StopPrice
}

// Clone returns a deep copy
func (p *Position) Clone() *Position {
	c := *p
	c.TakeProfitLevels = append([]float64(nil), p.TakeProfitLevels...)
	c.ScaleOutPercents = append([]float64(nil), p.ScaleOutPercents...)
	return &c
}
