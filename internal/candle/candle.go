// Package candle defines the OHLCV bar model and the CSV ingestion used
// to feed the backtest pipeline.
package candle

import (
	"fmt"

	"backtest-engine/internal/errs"
)

// Candle is a single OHLCV bar. Bucket is the bar's start timestamp in
// seconds since epoch.
type Candle struct {
	Bucket int64   `json:"bucket"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Validate checks the OHLC ordering invariant.
func (c Candle) Validate() error {
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if c.Low > lo || hi > c.High {
		return errs.Newf(errs.CandleFormatInvalid,
			"candle violates low <= min(open,close) <= max(open,close) <= high").
			With("bucket", fmt.Sprintf("%d", c.Bucket))
	}
	return nil
}

// DetectResolution returns the bar spacing in seconds of an ascending,
// equispaced series and validates both properties along the way.
func DetectResolution(candles []Candle) (int64, error) {
	if len(candles) < 2 {
		if len(candles) == 1 {
			return 0, errs.New(errs.CandleFormatInvalid, "cannot detect resolution from a single candle")
		}
		return 0, errs.New(errs.CandleFormatInvalid, "no candles loaded")
	}
	res := candles[1].Bucket - candles[0].Bucket
	if res <= 0 {
		return 0, errs.New(errs.CandleFormatInvalid, "candle buckets are not strictly ascending")
	}
	for i := 1; i < len(candles); i++ {
		step := candles[i].Bucket - candles[i-1].Bucket
		if step != res {
			return 0, errs.Newf(errs.CandleFormatInvalid,
				"candle series is not equispaced: expected step %ds, got %ds", res, step).
				With("bucket", fmt.Sprintf("%d", candles[i].Bucket))
		}
	}
	return res, nil
}

// ValidateSeries validates every candle's OHLC invariant.
func ValidateSeries(candles []Candle) error {
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FilterRange returns the contiguous sub-series with from <= bucket <= to.
// The input is assumed ascending; the result shares the backing array.
func FilterRange(candles []Candle, from, to int64) []Candle {
	lo := 0
	for lo < len(candles) && candles[lo].Bucket < from {
		lo++
	}
	hi := len(candles)
	for hi > lo && candles[hi-1].Bucket > to {
		hi--
	}
	return candles[lo:hi]
}
