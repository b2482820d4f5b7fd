package signal

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-engine/internal/algo"
	"backtest-engine/internal/candle"
	"backtest-engine/internal/indicator"
	"backtest-engine/internal/mipmap"
)

func TestSimulationResolution(t *testing.T) {
	cfgs := []indicator.Config{
		{Type: indicator.TypeMomentumPositive, Resolution: 300},
		{Type: indicator.TypeMomentumPositive, Resolution: 120},
	}
	assert.Equal(t, int64(120), SimulationResolution(cfgs, 60, 0), "minimum indicator resolution wins")
	assert.Equal(t, int64(300), SimulationResolution(cfgs, 300, 0), "floored at base resolution")
	assert.Equal(t, int64(60), SimulationResolution(nil, 60, 0), "no indicators falls back to the floor")
	assert.Equal(t, int64(60), SimulationResolution(nil, 30, 0), "never below 60s")
	assert.Equal(t, int64(240), SimulationResolution(cfgs, 60, 240), "configured minimum applies")
}

// precalcSingle builds a cache holding one signal series directly
// through the real pre-calculator.
func precalcSingle(t *testing.T, closes []float64, res int64, cfg indicator.Config) *indicator.SignalCache {
	t.Helper()
	candles := make([]candle.Candle, len(closes))
	for i, c := range closes {
		candles[i] = candle.Candle{Bucket: int64(i) * res, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	mm, err := mipmap.Build(candles, res, []int64{res}, zerolog.Nop())
	require.NoError(t, err)
	cache, err := indicator.Precalculate(mm, []indicator.Config{cfg}, nil, zerolog.Nop())
	require.NoError(t, err)
	return cache
}

func TestResampleForwardFillLaw(t *testing.T) {
	// momentum(1) at 120s over closes 1,2,1,3: signal F,T,F,T
	cfg := indicator.Config{Type: indicator.TypeMomentumPositive, Resolution: 120, Params: map[string]float64{"period": 1}}
	cache := precalcSingle(t, []float64{1, 2, 1, 3}, 120, cfg)

	timestamps := []int64{0, 60, 120, 180, 240, 300, 360, 420}
	res := Resample(cache, []indicator.Config{cfg}, 60, timestamps, 0)

	got, ok := res.Signal(cfg.CacheKey())
	require.True(t, ok)
	// source samples land at 0,120,240,360; each holds until the next
	want := []bool{false, false, true, true, false, false, true, true}
	assert.Equal(t, want, got)
}

func TestResampleIdempotence(t *testing.T) {
	cfg := indicator.Config{Type: indicator.TypeMomentumPositive, Resolution: 60, Params: map[string]float64{"period": 1}}
	cache := precalcSingle(t, []float64{1, 2, 1, 3, 4}, 60, cfg)

	timestamps := []int64{0, 60, 120, 180, 240}
	res := Resample(cache, []indicator.Config{cfg}, 60, timestamps, 0)

	src, _, _, _ := cache.Signals(cfg.CacheKey())
	got, ok := res.Signal(cfg.CacheKey())
	require.True(t, ok)
	assert.Equal(t, src, got, "resampling at the source resolution is the identity")
}

func TestResampleBeforeFirstSampleIsFalse(t *testing.T) {
	cfg := indicator.Config{Type: indicator.TypeMomentumPositive, Resolution: 120, Params: map[string]float64{"period": 1}}
	candles := []candle.Candle{
		{Bucket: 240, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Bucket: 360, Open: 2, High: 2, Low: 2, Close: 2, Volume: 1},
	}
	mm, err := mipmap.Build(candles, 120, []int64{120}, zerolog.Nop())
	require.NoError(t, err)
	cache, err := indicator.Precalculate(mm, []indicator.Config{cfg}, nil, zerolog.Nop())
	require.NoError(t, err)

	res := Resample(cache, []indicator.Config{cfg}, 60, []int64{0, 60, 120, 180, 240, 300, 360}, 0)
	got, _ := res.Signal(cfg.CacheKey())
	for i := 0; i < 4; i++ {
		assert.False(t, got[i], "before the first source sample the value is false")
	}
	assert.True(t, got[6])
}

func TestWarmupBarsCeiling(t *testing.T) {
	res := Resample(indicatorCacheStub(t), nil, 60, []int64{0}, 130)
	assert.Equal(t, 3, res.WarmupBars)
}

func indicatorCacheStub(t *testing.T) *indicator.SignalCache {
	t.Helper()
	mm, err := mipmap.Build([]candle.Candle{{Bucket: 0, Open: 1, High: 1, Low: 1, Close: 1}, {Bucket: 60, Open: 1, High: 1, Low: 1, Close: 1}}, 60, nil, zerolog.Nop())
	require.NoError(t, err)
	cache, err := indicator.Precalculate(mm, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	return cache
}

func TestConditionBitsRequiredAndOptional(t *testing.T) {
	reqCfg := indicator.Config{Type: indicator.TypeMomentumPositive, Resolution: 60, Params: map[string]float64{"period": 1}}
	optCfg := indicator.Config{Type: indicator.TypeMomentumNegative, Resolution: 60, Params: map[string]float64{"period": 1}}

	// closes 1,2,3,2: required(up) F,T,T,F ; optional(down) F,F,F,T
	candles := make([]candle.Candle, 4)
	for i, c := range []float64{1, 2, 3, 2} {
		candles[i] = candle.Candle{Bucket: int64(i) * 60, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	mm, err := mipmap.Build(candles, 60, nil, zerolog.Nop())
	require.NoError(t, err)
	cache, err := indicator.Precalculate(mm, []indicator.Config{reqCfg, optCfg}, nil, zerolog.Nop())
	require.NoError(t, err)
	res := Resample(cache, []indicator.Config{reqCfg, optCfg}, 60, []int64{0, 60, 120, 180}, 0)

	cond := &algo.Condition{Required: []indicator.Config{reqCfg}, Optional: []indicator.Config{optCfg}}
	bits := res.ConditionBits(cond)
	assert.Equal(t, []bool{false, false, false, false}, bits,
		"required true never coincides with any optional true")

	noOpt := &algo.Condition{Required: []indicator.Config{reqCfg}}
	assert.Equal(t, []bool{false, true, true, false}, res.ConditionBits(noOpt))

	empty := &algo.Condition{}
	assert.Equal(t, []bool{true, true, true, true}, res.ConditionBits(empty),
		"a condition with no indicators is constantly true")
}

func TestExtractOrderingAndWarmupDiscard(t *testing.T) {
	cfg := indicator.Config{Type: indicator.TypeMomentumPositive, Resolution: 60, Params: map[string]float64{"period": 1}}
	cache := precalcSingle(t, []float64{1, 2, 1, 3, 2}, 60, cfg)
	res := Resample(cache, []indicator.Config{cfg}, 60, []int64{0, 60, 120, 180, 240}, 0)

	conds := map[algo.ConditionType]*algo.Condition{
		algo.LongEntry: {Required: []indicator.Config{cfg}},
	}

	h, bits := Extract(res, conds, 0)
	require.NotNil(t, bits[algo.LongEntry])

	var prev Event
	first := true
	count := 0
	for {
		ev, ok := h.Pop()
		if !ok {
			break
		}
		count++
		if !first {
			require.True(t, ev.Timestamp > prev.Timestamp ||
				(ev.Timestamp == prev.Timestamp && ev.ID > prev.ID),
				"heap must drain in (timestamp, id) order")
		}
		prev, first = ev, false
	}
	// signal edges: rising@1, falling@2, rising@3, falling@4
	// condition edges mirror them
	assert.Equal(t, 8, count)

	// with a trading start at bar 3, earlier events disappear
	h2, _ := Extract(res, conds, 3)
	for {
		ev, ok := h2.Pop()
		if !ok {
			break
		}
		assert.GreaterOrEqual(t, ev.BarIndex, 3)
	}
}

func TestExtractDeterministicIDs(t *testing.T) {
	cfg := indicator.Config{Type: indicator.TypeMomentumPositive, Resolution: 60, Params: map[string]float64{"period": 1}}
	cache := precalcSingle(t, []float64{1, 2, 1, 3, 2}, 60, cfg)
	res := Resample(cache, []indicator.Config{cfg}, 60, []int64{0, 60, 120, 180, 240}, 0)
	conds := map[algo.ConditionType]*algo.Condition{algo.LongEntry: {Required: []indicator.Config{cfg}}}

	drain := func() []Event {
		h, _ := Extract(res, conds, 0)
		var out []Event
		for {
			ev, ok := h.Pop()
			if !ok {
				return out
			}
			out = append(out, ev)
		}
	}
	assert.Equal(t, drain(), drain(), "two extractions produce identical event streams")
}

func TestEventHeapTieBreakByID(t *testing.T) {
	h := NewEventHeap([]Event{
		{ID: 2, Timestamp: 100},
		{ID: 0, Timestamp: 100},
		{ID: 1, Timestamp: 50},
	})
	ev, _ := h.Pop()
	assert.Equal(t, int64(1), ev.ID)
	ev, _ = h.Pop()
	assert.Equal(t, int64(0), ev.ID)
	ev, _ = h.Pop()
	assert.Equal(t, int64(2), ev.ID)
}
