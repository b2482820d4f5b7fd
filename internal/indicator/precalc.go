package indicator

import (
	"math"

	"github.com/rs/zerolog"

	"backtest-engine/internal/errs"
	"backtest-engine/internal/mipmap"
)

// signalEntry is one pre-computed boolean sequence plus the placement
// metadata the resampler needs.
type signalEntry struct {
	signals     []bool
	resolution  int64
	startBucket int64
}

type valueEntry struct {
	values      []float64
	resolution  int64
	startBucket int64
}

// SignalCache holds every pre-computed indicator signal sequence keyed
// by cache key, at the indicator's native resolution, padded FALSE over
// the warmup prefix. Read-only after Precalculate.
type SignalCache struct {
	signals map[string]signalEntry
	values  map[string]valueEntry
}

// Precalculate evaluates every unique indicator (and every value
// factor) against the mip-map level matching its native resolution.
func Precalculate(mm *mipmap.MipMap, configs, valueConfigs []Config, logger zerolog.Logger) (*SignalCache, error) {
	cache := &SignalCache{
		signals: make(map[string]signalEntry),
		values:  make(map[string]valueEntry),
	}

	for _, cfg := range Dedupe(configs) {
		key := cfg.CacheKey()
		candles, servedRes, ok := mm.NearestLevel(cfg.Resolution)
		if !ok {
			return nil, errs.Newf(errs.ResolutionUnavailable,
				"no mip-map level at or above %ds", cfg.Resolution).
				With("indicator", key)
		}
		if servedRes != cfg.Resolution {
			logger.Warn().
				Str("indicator", key).
				Int64("requested", cfg.Resolution).
				Int64("served", servedRes).
				Msg("Exact resolution not present, serving nearest coarser level")
		} else {
			logger.Debug().Str("indicator", key).Int64("resolution", servedRes).
				Msg("Evaluating indicator at exact resolution")
		}

		sig, err := New(cfg)
		if err != nil {
			return nil, err
		}
		pts := PointsFromCandles(candles)
		raw, err := sig.Evaluate(pts)
		if err != nil {
			if e, ok := err.(*errs.Error); ok {
				return nil, e.With("indicator", key)
			}
			return nil, errs.New(errs.IndicatorEvaluationFailed, "indicator evaluation failed").
				With("indicator", key).Wrap(err)
		}
		if len(raw) != len(candles) {
			return nil, errs.Newf(errs.InternalInvariantViolated,
				"indicator returned %d signals for %d candles", len(raw), len(candles)).
				With("indicator", key)
		}
		for i := 0; i < sig.Warmup() && i < len(raw); i++ {
			raw[i] = false
		}
		start := int64(0)
		if len(candles) > 0 {
			start = candles[0].Bucket
		}
		cache.signals[key] = signalEntry{signals: raw, resolution: servedRes, startBucket: start}
	}

	for _, cfg := range Dedupe(valueConfigs) {
		key := cfg.CacheKey()
		if _, done := cache.values[key]; done {
			continue
		}
		candles, servedRes, ok := mm.NearestLevel(cfg.Resolution)
		if !ok {
			return nil, errs.Newf(errs.ResolutionUnavailable,
				"no mip-map level at or above %ds", cfg.Resolution).
				With("indicator", key)
		}
		val, err := NewValuer(cfg)
		if err != nil {
			return nil, err
		}
		raw, err := val.Values(PointsFromCandles(candles))
		if err != nil {
			return nil, errs.New(errs.IndicatorEvaluationFailed, "value factor evaluation failed").
				With("indicator", key).Wrap(err)
		}
		start := int64(0)
		if len(candles) > 0 {
			start = candles[0].Bucket
		}
		cache.values[key] = valueEntry{values: raw, resolution: servedRes, startBucket: start}
	}

	return cache, nil
}

// Signals returns the boolean sequence for a cache key along with its
// native resolution and first bucket.
func (c *SignalCache) Signals(key string) (signals []bool, resolution, startBucket int64, ok bool) {
	e, found := c.signals[key]
	if !found {
		return nil, 0, 0, false
	}
	return e.signals, e.resolution, e.startBucket, true
}

// ValueAt samples a value factor at the most recent evaluation with
// source timestamp <= ts, normalized from the indicator's 0..100 scale
// into [0,1]. Returns 0 when no defined value exists yet.
func (c *SignalCache) ValueAt(key string, ts int64) float64 {
	e, found := c.values[key]
	if !found || len(e.values) == 0 {
		return 0
	}
	k := int((ts - e.startBucket) / e.resolution)
	if k < 0 {
		return 0
	}
	if k >= len(e.values) {
		k = len(e.values) - 1
	}
	// walk back over the warmup NaN prefix
	for k >= 0 && math.IsNaN(e.values[k]) {
		k--
	}
	if k < 0 {
		return 0
	}
	v := e.values[k] / 100
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
