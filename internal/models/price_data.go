package models

import "time"

// PriceBar represents one daily OHLCV bar
type PriceBar struct {
	ID     int       `json:"id,omitempty"`
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// PriceSeries is an ordered (oldest first) bar series
type PriceSeries []PriceBar

// Closes returns the close prices
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Highs returns the high prices
func (s PriceSeries) Highs() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.High
	}
	return out
}

// Lows returns the low prices
func (s PriceSeries) Lows() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Low
	}
	return out
}

// Volumes returns volumes as floats
func (s PriceSeries) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = float64(b.Volume)
	}
	return out
}

// Last returns the most recent bar
func (s PriceSeries) Last() (PriceBar, bool) {
	if len(s) == 0 {
		return PriceBar{}, false
	}
	return s[len(s)-1], true
}
