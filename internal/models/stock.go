package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Quote sources
const (
	SourceFinnhub   = "finnhub"
	SourceYahoo     = "yahoo"
	SourceSynthetic = "synthetic"
)

// Instrument is a tradable symbol in the screening universe
type Instrument struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Sector string `json:"sector" yaml:"sector"`
}

// QuoteResult is either a *Quote or a *QuoteError.
type QuoteResult interface {
	QuoteSymbol() string
	isQuoteResult()
}

// Quote is a validated market quote
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
}

func (q *Quote) QuoteSymbol() string { return q.Symbol }
func (q *Quote) isQuoteResult() {}

// Synthetic reports whether the quote came from the generated fallback source.
func (q *Quote) Synthetic() bool { return q.Source == SourceSynthetic }

// QuoteError describes why no usable quote exists for a symbol
type QuoteError struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *QuoteError) QuoteSymbol() string { return e.Symbol }
func (e *QuoteError) isQuoteResult() {}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("quote %s: %s", e.Symbol, e.Reason)
}

func (e *QuoteError) Unwrap() error { return e.Err }

// RawQuote is a provider payload before validation. Nil fields were absent.
type RawQuote struct {
	Symbol        string
	Price         *float64
	Change        *float64
	ChangePercent *float64
	Volume        *int64
	Timestamp     *time.Time
	Source        string
}

// ValidateQuote turns a provider payload into a Quote or a QuoteError.
// Price and volume are required; change fields are derived from each other when one is missing.
func ValidateQuote(raw RawQuote) QuoteResult {
	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	fail := func(reason string) QuoteResult {
		return &QuoteError{Symbol: symbol, Reason: reason, Err: ErrDataUnavailable}
	}

	if symbol == "" {
		return fail("missing symbol")
	}
	if raw.Price == nil {
		return fail("missing price")
	}
	price := *raw.Price
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fail(fmt.Sprintf("invalid price %v", price))
	}
	if raw.Volume == nil {
		return fail("missing volume")
	}
	if *raw.Volume < 0 {
		return fail(fmt.Sprintf("invalid volume %d", *raw.Volume))
	}

	q := &Quote{
		Symbol: symbol,
		Price:  price,
		Volume: *raw.Volume,
		Source: raw.Source,
	}

	switch {
	case raw.ChangePercent != nil && raw.Change != nil:
		q.ChangePercent = *raw.ChangePercent
		q.Change = *raw.Change
	case raw.ChangePercent != nil:
		q.ChangePercent = *raw.ChangePercent
		prev := price / (1 + q.ChangePercent/100)
		q.Change = price - prev
	case raw.Change != nil:
		q.Change = *raw.Change
		prev := price - q.Change
		if prev <= 0 {
			return fail("change exceeds price")
		}
		q.ChangePercent = q.Change / prev * 100
	default:
		return fail("missing change and change percent")
	}
	if math.IsNaN(q.ChangePercent) || math.IsInf(q.ChangePercent, 0) {
		return fail("invalid change percent")
	}

	if raw.Timestamp != nil && !raw.Timestamp.IsZero() {
		q.Timestamp = *raw.Timestamp
	} else {
		q.Timestamp = time.Now()
	}
	return q
}
