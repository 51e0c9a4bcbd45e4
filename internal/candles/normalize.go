// Package candles holds the pure timeframe math shared by venue
// adapters and aggregators: downsampling OHLCV rows and bucketizing
// raw price samples into candles. No I/O happens here.
package candles

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"vega-market/internal/models"
)

// Point is one raw price sample, as returned by venues that serve
// price series instead of OHLC rows.
type Point struct {
	TS     int64 // epoch seconds
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// Normalize converts raw venue candles at nativeSec resolution into
// clean candles at the target timeframe. Malformed rows are dropped,
// duplicate buckets collapse keeping the last occurrence, output is
// sorted ascending and aligned to target boundaries. Downsampling
// only: a target finer than the native resolution returns nil.
func Normalize(raw []models.Candle, nativeSec int64, target models.Timeframe) []models.Candle {
	targetSec := target.Seconds()
	if nativeSec <= 0 || targetSec <= 0 || nativeSec > targetSec {
		return nil
	}

	clean := sanitize(raw)
	if len(clean) == 0 {
		return nil
	}
	return bucketize(clean, target)
}

// FromPoints bucketizes price samples into candles: the first and last
// sample of a bucket set open and close, extremes set high and low,
// volumes sum. Samples without a positive price are skipped.
func FromPoints(points []Point, target models.Timeframe) []models.Candle {
	sec := target.Seconds()
	if sec <= 0 || len(points) == 0 {
		return nil
	}

	usable := make([]Point, 0, len(points))
	for _, p := range points {
		if p.TS > 0 && p.Price.IsPositive() {
			usable = append(usable, p)
		}
	}
	if len(usable) == 0 {
		return nil
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i].TS < usable[j].TS })

	var out []models.Candle
	var cur *models.Candle
	for _, p := range usable {
		start := p.TS - p.TS%sec
		if cur == nil || cur.OpenTime.Unix() != start {
			out = append(out, models.Candle{
				Timeframe: target,
				OpenTime:  time.Unix(start, 0).UTC(),
				Open:      p.Price,
				High:      p.Price,
				Low:       p.Price,
				Close:     p.Price,
				Volume:    p.Volume,
			})
			cur = &out[len(out)-1]
			continue
		}
		if p.Price.GreaterThan(cur.High) {
			cur.High = p.Price
		}
		if p.Price.LessThan(cur.Low) {
			cur.Low = p.Price
		}
		cur.Close = p.Price
		cur.Volume = cur.Volume.Add(p.Volume)
	}
	return out
}

// sanitize drops unusable rows, dedupes by open time keeping the last
// occurrence, and sorts ascending.
func sanitize(raw []models.Candle) []models.Candle {
	byStart := make(map[int64]models.Candle, len(raw))
	for _, c := range raw {
		if !usableCandle(&c) {
			continue
		}
		byStart[c.OpenTime.Unix()] = c
	}
	if len(byStart) == 0 {
		return nil
	}

	starts := make([]int64, 0, len(byStart))
	for ts := range byStart {
		starts = append(starts, ts)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]models.Candle, 0, len(starts))
	for _, ts := range starts {
		out = append(out, byStart[ts])
	}
	return out
}

// usableCandle filters rows a venue should never have sent: padding
// rows with zero close, and OHLC values that do not bracket.
func usableCandle(c *models.Candle) bool {
	if !c.Close.IsPositive() {
		return false
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return false
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return false
	}
	return true
}

// bucketize groups clean ascending candles by target bucket: first
// sets open, last sets close, extremes set high/low, volumes sum.
func bucketize(clean []models.Candle, target models.Timeframe) []models.Candle {
	sec := target.Seconds()

	groups := make(map[int64][]models.Candle)
	starts := make([]int64, 0) // ascending because clean is sorted
	for _, c := range clean {
		ts := c.OpenTime.Unix()
		start := ts - ts%sec
		if _, seen := groups[start]; !seen {
			starts = append(starts, start)
		}
		groups[start] = append(groups[start], c)
	}

	out := make([]models.Candle, 0, len(starts))
	for _, start := range starts {
		group := groups[start]
		agg := models.Candle{
			Key:       group[0].Key,
			Timeframe: target,
			OpenTime:  time.Unix(start, 0).UTC(),
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[len(group)-1].Close,
			Source:    group[0].Source,
		}
		for _, c := range group {
			if c.High.GreaterThan(agg.High) {
				agg.High = c.High
			}
			if c.Low.LessThan(agg.Low) {
				agg.Low = c.Low
			}
			agg.Volume = agg.Volume.Add(c.Volume)
		}
		out = append(out, agg)
	}
	return out
}
