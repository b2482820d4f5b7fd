package mipmap

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-engine/internal/candle"
	"backtest-engine/internal/errs"
)

func baseCandles(n int, res int64) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = candle.Candle{
			Bucket: int64(i) * res,
			Open:   p,
			High:   p + 2,
			Low:    p - 1,
			Close:  p + 1,
			Volume: 10,
		}
	}
	return out
}

func TestBuildFoldLaw(t *testing.T) {
	base := baseCandles(12, 60)
	mm, err := Build(base, 60, []int64{180}, zerolog.Nop())
	require.NoError(t, err)

	level, ok := mm.Level(180)
	require.True(t, ok)
	require.Len(t, level, 4)

	for i, parent := range level {
		group := base[i*3 : i*3+3]
		assert.Equal(t, group[0].Open, parent.Open, "open must come from the first base candle")
		assert.Equal(t, group[2].Close, parent.Close, "close must come from the last base candle")

		maxHigh, minLow, sumVol := group[0].High, group[0].Low, 0.0
		for _, c := range group {
			if c.High > maxHigh {
				maxHigh = c.High
			}
			if c.Low < minLow {
				minLow = c.Low
			}
			sumVol += c.Volume
		}
		assert.Equal(t, maxHigh, parent.High)
		assert.Equal(t, minLow, parent.Low)
		assert.Equal(t, sumVol, parent.Volume)
		assert.Equal(t, int64(i)*180, parent.Bucket)
	}
}

func TestBuildKeepsPartialTrailingGroup(t *testing.T) {
	base := baseCandles(5, 60)
	mm, err := Build(base, 60, []int64{180}, zerolog.Nop())
	require.NoError(t, err)
	level, _ := mm.Level(180)
	require.Len(t, level, 2)
	assert.Equal(t, base[3].Open, level[1].Open)
	assert.Equal(t, base[4].Close, level[1].Close)
}

func TestBuildRejectsFinerThanBase(t *testing.T) {
	_, err := Build(baseCandles(4, 300), 300, []int64{60}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.ResolutionUnavailable))
}

func TestBuildRejectsUnalignedFactor(t *testing.T) {
	_, err := Build(baseCandles(4, 60), 60, []int64{90}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.UnalignedAggregation))
}

func TestNearestLevel(t *testing.T) {
	mm, err := Build(baseCandles(12, 60), 60, []int64{120, 360}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []int64{60, 120, 360}, mm.Resolutions())

	_, res, ok := mm.NearestLevel(120)
	require.True(t, ok)
	assert.Equal(t, int64(120), res, "exact match preferred")

	_, res, ok = mm.NearestLevel(180)
	require.True(t, ok)
	assert.Equal(t, int64(360), res, "nearest coarser serves a missing level")

	_, _, ok = mm.NearestLevel(720)
	assert.False(t, ok)
}

func TestSubBars(t *testing.T) {
	base := baseCandles(9, 60)
	mm, err := Build(base, 60, []int64{180}, zerolog.Nop())
	require.NoError(t, err)

	subs := mm.SubBars(180, 180)
	require.Len(t, subs, 3)
	assert.Equal(t, int64(180), subs[0].Bucket)
	assert.Equal(t, int64(300), subs[2].Bucket)

	assert.Nil(t, mm.SubBars(60, 0), "no sub-bars below base resolution")
}
