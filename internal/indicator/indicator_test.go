package indicator

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-engine/internal/candle"
	"backtest-engine/internal/errs"
	"backtest-engine/internal/mipmap"
)

func TestCacheKeyCanonical(t *testing.T) {
	a := Config{Type: "rsi_above", Resolution: 60, Params: map[string]float64{"period": 14, "threshold": 70}}
	b := Config{Type: "rsi_above", Resolution: 60, Params: map[string]float64{"threshold": 70, "period": 14}}
	assert.Equal(t, a.CacheKey(), b.CacheKey(), "param order must not matter")

	c := Config{Type: "rsi_above", Resolution: 120, Params: map[string]float64{"period": 14, "threshold": 70}}
	assert.NotEqual(t, a.CacheKey(), c.CacheKey(), "resolution is part of the identity")
}

func TestDedupe(t *testing.T) {
	a := Config{Type: "rsi_above", Resolution: 60, Params: map[string]float64{"period": 14}}
	b := Config{Type: "rsi_above", Resolution: 60, Params: map[string]float64{"period": 14}}
	c := Config{Type: "rsi_below", Resolution: 60, Params: map[string]float64{"period": 14}}
	got := Dedupe([]Config{a, b, c})
	assert.Len(t, got, 2)
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(Config{Type: "astrology", Resolution: 60})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.ConfigInvalid))
}

func risingCandles(n int, res int64) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = candle.Candle{Bucket: int64(i) * res, Open: p, High: p + 0.5, Low: p - 0.5, Close: p, Volume: 10}
	}
	return out
}

func TestEMACrossAboveOnRisingPrices(t *testing.T) {
	cfg := Config{Type: TypeEMACrossAbove, Resolution: 60, Params: map[string]float64{"fast": 3, "slow": 5}}
	sig, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, sig.Warmup())

	pts := PointsFromCandles(risingCandles(20, 60))
	out, err := sig.Evaluate(pts)
	require.NoError(t, err)
	require.Len(t, out, 20)

	// the fast average leads the slow one on a monotone ramp
	for i := 5; i < 20; i++ {
		assert.True(t, out[i], "bar %d", i)
	}
}

func TestMomentumNegativeOnRisingPrices(t *testing.T) {
	cfg := Config{Type: TypeMomentumNegative, Resolution: 60, Params: map[string]float64{"period": 2}}
	sig, err := New(cfg)
	require.NoError(t, err)
	out, err := sig.Evaluate(PointsFromCandles(risingCandles(10, 60)))
	require.NoError(t, err)
	for _, v := range out {
		assert.False(t, v)
	}
}

func TestPrecalculatePadsWarmupFalse(t *testing.T) {
	base := risingCandles(30, 60)
	cfg := Config{Type: TypeEMACrossAbove, Resolution: 60, Params: map[string]float64{"fast": 3, "slow": 5}}
	mm, err := mipmap.Build(base, 60, []int64{60}, zerolog.Nop())
	require.NoError(t, err)

	cache, err := Precalculate(mm, []Config{cfg}, nil, zerolog.Nop())
	require.NoError(t, err)

	signals, res, start, ok := cache.Signals(cfg.CacheKey())
	require.True(t, ok)
	assert.Equal(t, int64(60), res)
	assert.Equal(t, int64(0), start)
	require.Len(t, signals, 30)
	for i := 0; i < 5; i++ {
		assert.False(t, signals[i], "warmup prefix must be false at %d", i)
	}
	assert.True(t, signals[10])
}

func TestPrecalculateServesNearestCoarser(t *testing.T) {
	base := risingCandles(40, 60)
	mm, err := mipmap.Build(base, 60, []int64{240}, zerolog.Nop())
	require.NoError(t, err)

	// requests 120s, only 240s exists above it
	cfg := Config{Type: TypeMomentumPositive, Resolution: 120, Params: map[string]float64{"period": 2}}
	cache, err := Precalculate(mm, []Config{cfg}, nil, zerolog.Nop())
	require.NoError(t, err)

	_, res, _, ok := cache.Signals(cfg.CacheKey())
	require.True(t, ok)
	assert.Equal(t, int64(240), res)
}

func TestValueAtNormalizesAndClamps(t *testing.T) {
	base := risingCandles(40, 60)
	mm, err := mipmap.Build(base, 60, []int64{60}, zerolog.Nop())
	require.NoError(t, err)

	cfg := Config{Type: TypeRSIAbove, Resolution: 60, Params: map[string]float64{"period": 5}}
	cache, err := Precalculate(mm, nil, []Config{cfg}, zerolog.Nop())
	require.NoError(t, err)

	// monotone rising closes keep RSI pinned at 100 -> factor 1
	v := cache.ValueAt(cfg.CacheKey(), 39*60)
	assert.InDelta(t, 1.0, v, 1e-9)

	// before any defined value the factor is zero
	assert.Equal(t, 0.0, cache.ValueAt(cfg.CacheKey(), -600))
}

func TestMaxWarmupSeconds(t *testing.T) {
	cfgs := []Config{
		{Type: TypeEMACrossAbove, Resolution: 60, Params: map[string]float64{"fast": 3, "slow": 5}},
		{Type: TypeMomentumPositive, Resolution: 300, Params: map[string]float64{"period": 4}},
	}
	w, err := MaxWarmupSeconds(cfgs)
	require.NoError(t, err)
	// momentum: 4 bars x 300s = 1200s beats ema: 5 x 60s
	assert.Equal(t, int64(1200), w)
}
