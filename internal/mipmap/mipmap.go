// Package mipmap aggregates base candles into a pyramid of coarser
// resolutions. Indicators read the level matching their native
// resolution; the simulator reads base candles back out of a parent bar
// as sub-bars to order stop-loss/take-profit triggers.
package mipmap

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"backtest-engine/internal/candle"
	"backtest-engine/internal/errs"
)

// memoryWarnRatio is the extra-candle overhead above which Build logs a
// warning. A 3-5 level pyramid normally costs ~33% over base.
const memoryWarnRatio = 0.5

// MipMap holds the base series plus every aggregated level, keyed by
// resolution in seconds. Read-only after Build.
type MipMap struct {
	BaseResolution int64
	levels         map[int64][]candle.Candle
}

// Build folds the base series into one level per requested resolution.
// Requests finer than base fail with ResolutionUnavailable; requests
// that are not an integer multiple of base fail with
// UnalignedAggregation.
func Build(base []candle.Candle, baseRes int64, resolutions []int64, logger zerolog.Logger) (*MipMap, error) {
	if baseRes <= 0 {
		return nil, errs.New(errs.InternalInvariantViolated, "base resolution must be positive")
	}
	mm := &MipMap{
		BaseResolution: baseRes,
		levels:         map[int64][]candle.Candle{baseRes: base},
	}

	extra := 0
	for _, res := range dedupeSorted(resolutions) {
		if res == baseRes {
			continue
		}
		if res < baseRes {
			return nil, errs.Newf(errs.ResolutionUnavailable,
				"requested resolution %ds is finer than loaded base %ds", res, baseRes).
				With("resolution", fmt.Sprintf("%d", res))
		}
		if res%baseRes != 0 {
			return nil, errs.Newf(errs.UnalignedAggregation,
				"resolution %ds is not an integer multiple of base %ds", res, baseRes).
				With("resolution", fmt.Sprintf("%d", res))
		}
		level := fold(base, res)
		mm.levels[res] = level
		extra += len(level)
	}

	if len(base) > 0 {
		ratio := float64(extra) / float64(len(base))
		if ratio > memoryWarnRatio {
			logger.Warn().
				Float64("overhead_ratio", ratio).
				Int("base_candles", len(base)).
				Int("extra_candles", extra).
				Msg("Mip-map memory overhead exceeds 50% of base level")
		}
	}
	return mm, nil
}

// fold aggregates base candles into buckets of the target resolution:
// open of the first, close of the last, max high, min low, summed
// volume. Groups align to bucket/res boundaries; a partial trailing
// group is kept.
func fold(base []candle.Candle, res int64) []candle.Candle {
	out := make([]candle.Candle, 0, len(base)/2+1)
	var cur candle.Candle
	curKey := int64(-1)
	open := false
	for _, c := range base {
		key := floorDiv(c.Bucket, res)
		if !open || key != curKey {
			if open {
				out = append(out, cur)
			}
			cur = candle.Candle{
				Bucket: key * res,
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			}
			curKey = key
			open = true
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if open {
		out = append(out, cur)
	}
	return out
}

// Level returns the candle series at an exact resolution.
func (m *MipMap) Level(res int64) ([]candle.Candle, bool) {
	l, ok := m.levels[res]
	return l, ok
}

// NearestLevel returns the level at the requested resolution, or the
// nearest coarser level when the exact one was never built. The second
// return is the resolution actually served.
func (m *MipMap) NearestLevel(res int64) ([]candle.Candle, int64, bool) {
	if l, ok := m.levels[res]; ok {
		return l, res, true
	}
	best := int64(-1)
	for r := range m.levels {
		if r > res && (best == -1 || r < best) {
			best = r
		}
	}
	if best == -1 {
		return nil, 0, false
	}
	return m.levels[best], best, true
}

// Resolutions lists the built levels in ascending order.
func (m *MipMap) Resolutions() []int64 {
	out := make([]int64, 0, len(m.levels))
	for r := range m.levels {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SubBars returns the base candles folding into the parent bar starting
// at parentBucket with the given parent resolution. When the parent
// resolution is the base resolution there is nothing finer; the caller
// falls back to parent OHLC.
func (m *MipMap) SubBars(parentRes, parentBucket int64) []candle.Candle {
	if parentRes <= m.BaseResolution {
		return nil
	}
	base := m.levels[m.BaseResolution]
	lo := sort.Search(len(base), func(i int) bool { return base[i].Bucket >= parentBucket })
	hi := lo
	for hi < len(base) && base[hi].Bucket < parentBucket+parentRes {
		hi++
	}
	return base[lo:hi]
}

func dedupeSorted(in []int64) []int64 {
	out := make([]int64, 0, len(in))
	seen := make(map[int64]bool, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
