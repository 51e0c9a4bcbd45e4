package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is one of the fixed candle resolutions served by the
// aggregator. Arbitrary resolutions are not supported.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1H  Timeframe = "1H"
	TF4H  Timeframe = "4H"
	TF1D  Timeframe = "1D"
)

// Timeframes returns the supported resolutions in ascending order.
func Timeframes() []Timeframe {
	return []Timeframe{TF1m, TF5m, TF15m, TF1H, TF4H, TF1D}
}

// Seconds returns the bucket span, 0 for unknown timeframes.
func (tf Timeframe) Seconds() int64 {
	switch tf {
	case TF1m:
		return 60
	case TF5m:
		return 300
	case TF15m:
		return 900
	case TF1H:
		return 3600
	case TF4H:
		return 14400
	case TF1D:
		return 86400
	default:
		return 0
	}
}

// Duration returns the bucket span as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Seconds()) * time.Second
}

// Valid reports whether tf is one of the supported resolutions.
func (tf Timeframe) Valid() bool {
	return tf.Seconds() > 0
}

// ParseTimeframe accepts the canonical forms plus case-insensitive
// variants for the hour and day resolutions ("1h", "1d").
func ParseTimeframe(s string) (Timeframe, bool) {
	switch strings.TrimSpace(s) {
	case "1m":
		return TF1m, true
	case "5m":
		return TF5m, true
	case "15m":
		return TF15m, true
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1H":
		return TF1H, true
	case "4H":
		return TF4H, true
	case "1D":
		return TF1D, true
	}
	return "", false
}

// Candle is one normalized OHLCV bucket.
type Candle struct {
	Key       string          `json:"key"`
	Timeframe Timeframe       `json:"timeframe"`
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Source    Venue           `json:"source"`
}

// BucketStart returns the bucket open in epoch seconds (UTC).
func (c *Candle) BucketStart() int64 {
	return c.OpenTime.Unix()
}

// WellFormed reports whether the OHLC values are internally consistent:
// positive close, low/high bracketing open and close, and the open time
// aligned to the timeframe when one is set.
func (c *Candle) WellFormed() bool {
	if !c.Close.IsPositive() {
		return false
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return false
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return false
	}
	if sec := c.Timeframe.Seconds(); sec > 0 && c.OpenTime.Unix()%sec != 0 {
		return false
	}
	return true
}

// CandleResponse represents the API response format.
type CandleResponse struct {
	Key         string `json:"key"`
	Timeframe   string `json:"timeframe"`
	BucketStart int64  `json:"bucket_start"` // epoch seconds
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
	Source      string `json:"source"`
}

// ToResponse converts Candle to API response format.
func (c *Candle) ToResponse() *CandleResponse {
	return &CandleResponse{
		Key:         c.Key,
		Timeframe:   string(c.Timeframe),
		BucketStart: c.BucketStart(),
		Open:        c.Open.String(),
		High:        c.High.String(),
		Low:         c.Low.String(),
		Close:       c.Close.String(),
		Volume:      c.Volume.String(),
		Source:      string(c.Source),
	}
}

// CandleSeries is an ascending run of candles for one key.
type CandleSeries struct {
	Key       string    `json:"key"`
	Timeframe Timeframe `json:"timeframe"`
	Candles   []Candle  `json:"candles"`
}

// Empty reports whether the series carries no candles.
func (s *CandleSeries) Empty() bool {
	return s == nil || len(s.Candles) == 0
}
