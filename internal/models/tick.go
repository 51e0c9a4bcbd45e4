package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents one accepted quote for a canonical key.
type Tick struct {
	Key       string          `json:"key"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"` // percent
	High24h   decimal.Decimal `json:"high_24h"`
	Low24h    decimal.Decimal `json:"low_24h"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	Source    Venue           `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}

// Valid reports whether the tick carries a usable price.
func (t *Tick) Valid() bool {
	return t != nil && t.Price.IsPositive()
}

// TickResponse represents the API response format. High/low/volume are
// omitted when the source venue did not report them.
type TickResponse struct {
	Key       string `json:"key"`
	Price     string `json:"price"`
	Change24h string `json:"change_24h"`
	High24h   string `json:"high_24h,omitempty"`
	Low24h    string `json:"low_24h,omitempty"`
	Volume24h string `json:"volume_24h,omitempty"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"` // epoch seconds
}

// ToResponse converts Tick to API response format.
func (t *Tick) ToResponse() *TickResponse {
	r := &TickResponse{
		Key:       t.Key,
		Price:     t.Price.String(),
		Change24h: t.Change24h.String(),
		Source:    string(t.Source),
		Timestamp: t.Timestamp.Unix(),
	}
	if !t.High24h.IsZero() {
		r.High24h = t.High24h.String()
	}
	if !t.Low24h.IsZero() {
		r.Low24h = t.Low24h.String()
	}
	if !t.Volume24h.IsZero() {
		r.Volume24h = t.Volume24h.String()
	}
	return r
}

// ChangePercent computes a 24h change percentage from an open and a
// current price, zero when the open is not positive.
func ChangePercent(open, price decimal.Decimal) decimal.Decimal {
	if !open.IsPositive() {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	return price.Sub(open).Div(open).Mul(hundred)
}
