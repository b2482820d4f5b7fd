package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-engine/internal/algo"
)

func TestStopLossFixedLevels(t *testing.T) {
	tests := []struct {
		name      string
		direction algo.Direction
		cfg       algo.ValueConfig
		entry     float64
		level     float64
	}{
		{"long rel", algo.Long, algo.ValueConfig{Kind: algo.Rel, Value: 0.10}, 100, 90},
		{"long abs", algo.Long, algo.ValueConfig{Kind: algo.Abs, Value: 5}, 100, 95},
		{"short rel", algo.Short, algo.ValueConfig{Kind: algo.Rel, Value: 0.03}, 100, 103},
		{"short abs", algo.Short, algo.ValueConfig{Kind: algo.Abs, Value: 5}, 100, 105},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl := NewStopLoss(tt.cfg, tt.direction, false, tt.entry, 0)
			assert.InDelta(t, tt.level, sl.Level(), 1e-9)
			assert.False(t, sl.Triggered())
		})
	}
}

func TestStopLossTriggerIsMonotonic(t *testing.T) {
	sl := NewStopLoss(algo.ValueConfig{Kind: algo.Rel, Value: 0.10}, algo.Long, false, 100, 0)

	assert.False(t, sl.Observe(95))
	assert.False(t, sl.Triggered())

	assert.True(t, sl.Observe(90), "price at the level triggers")
	assert.True(t, sl.Triggered())

	// once triggered, stays triggered regardless of later prices
	assert.True(t, sl.Observe(200))
	assert.True(t, sl.Triggered())
}

func TestStopLossShortTrigger(t *testing.T) {
	sl := NewStopLoss(algo.ValueConfig{Kind: algo.Rel, Value: 0.03}, algo.Short, false, 100, 0)
	assert.False(t, sl.Observe(102.9))
	assert.True(t, sl.Observe(103))
}

func TestTrailingStopRatchetLong(t *testing.T) {
	sl := NewStopLoss(algo.ValueConfig{Kind: algo.Rel, Value: 0.02}, algo.Long, true, 100, 0)
	require.True(t, sl.Trailing())
	assert.InDelta(t, 98, sl.Level(), 1e-9)

	sl.Ratchet(105)
	assert.InDelta(t, 105, sl.Extreme(), 1e-9)
	assert.InDelta(t, 105*0.98, sl.Level(), 1e-9)

	// the extreme never moves backwards
	sl.Ratchet(103)
	assert.InDelta(t, 105, sl.Extreme(), 1e-9)

	sl.Ratchet(110)
	assert.InDelta(t, 110, sl.Extreme(), 1e-9)
	assert.InDelta(t, 107.8, sl.Level(), 1e-9)

	assert.True(t, sl.Observe(107), "price below the ratcheted level triggers")
}

func TestTrailingStopRatchetShort(t *testing.T) {
	sl := NewStopLoss(algo.ValueConfig{Kind: algo.Rel, Value: 0.02}, algo.Short, true, 100, 0)
	assert.InDelta(t, 102, sl.Level(), 1e-9)

	sl.Ratchet(90)
	assert.InDelta(t, 90, sl.Extreme(), 1e-9)
	assert.InDelta(t, 91.8, sl.Level(), 1e-9)

	sl.Ratchet(95)
	assert.InDelta(t, 90, sl.Extreme(), 1e-9, "trough never moves up")

	assert.False(t, sl.Observe(91))
	assert.True(t, sl.Observe(91.8))
}

func TestFixedStopIgnoresRatchet(t *testing.T) {
	sl := NewStopLoss(algo.ValueConfig{Kind: algo.Rel, Value: 0.10}, algo.Long, false, 100, 0)
	sl.Ratchet(150)
	assert.InDelta(t, 90, sl.Level(), 1e-9)
}

func TestStopLossDynModulation(t *testing.T) {
	cfg := algo.ValueConfig{Kind: algo.Dyn, Value: 0.10}

	sl := NewStopLoss(cfg, algo.Long, false, 100, 0.5)
	assert.InDelta(t, 95, sl.Level(), 1e-9, "factor 0.5 halves the REL distance")

	cfg.Inverted = true
	sl = NewStopLoss(cfg, algo.Long, false, 100, 0.2)
	assert.InDelta(t, 92, sl.Level(), 1e-9, "inverted uses 1-factor")

	// factors clamp into [0,1]
	sl = NewStopLoss(algo.ValueConfig{Kind: algo.Dyn, Value: 0.10}, algo.Long, false, 100, 7)
	assert.InDelta(t, 90, sl.Level(), 1e-9)
}

func TestTakeProfitLevelsAndTrigger(t *testing.T) {
	tp := NewTakeProfit(algo.ValueConfig{Kind: algo.Rel, Value: 0.05}, algo.Long, 100, 0)
	assert.InDelta(t, 105, tp.Level(), 1e-9)
	assert.False(t, tp.Observe(104.9))
	assert.False(t, tp.Triggered())
	assert.True(t, tp.Observe(105))
	assert.True(t, tp.Triggered())
	assert.True(t, tp.Observe(50), "stays triggered")

	short := NewTakeProfit(algo.ValueConfig{Kind: algo.Abs, Value: 5}, algo.Short, 100, 0)
	assert.InDelta(t, 95, short.Level(), 1e-9)
	assert.False(t, short.Observe(96))
	assert.True(t, short.Observe(95))
}

func TestBalanceLongNoCosts(t *testing.T) {
	b := NewBalance(algo.Long, 100, 10000, algo.ValueConfig{Kind: algo.Rel, Value: 1}, 0, 0, 0)
	assert.InDelta(t, 100, b.EffectiveEntry, 1e-9)
	assert.InDelta(t, 10000, b.PositionUSD, 1e-9)
	assert.InDelta(t, 100, b.Quantity, 1e-9)
	assert.InDelta(t, 0, b.EntryFee, 1e-9)

	assert.InDelta(t, 500, b.UnrealizedPnL(105), 1e-9)
	assert.InDelta(t, 500, b.RealizedPnL(105), 1e-9)
	assert.InDelta(t, -300, b.RealizedPnL(97), 1e-9)
}

func TestBalanceShortNoCosts(t *testing.T) {
	b := NewBalance(algo.Short, 100, 10000, algo.ValueConfig{Kind: algo.Rel, Value: 1}, 0, 0, 0)
	assert.InDelta(t, 100, b.Quantity, 1e-9)
	assert.InDelta(t, 1000, b.UnrealizedPnL(90), 1e-9)
	assert.InDelta(t, 1000, b.RealizedPnL(90), 1e-9)
	assert.InDelta(t, -300, b.RealizedPnL(103), 1e-9)
}

func TestBalanceFeesAndSlippage(t *testing.T) {
	// 10 bps fee, 5 bps slippage
	b := NewBalance(algo.Long, 100, 10000, algo.ValueConfig{Kind: algo.Rel, Value: 1}, 0, 10, 5)

	assert.InDelta(t, 100.05, b.EffectiveEntry, 1e-9, "long pays slippage on entry")
	qty := 10000 / 100.05
	assert.InDelta(t, qty, b.Quantity, 1e-9)
	assert.InDelta(t, 10, b.EntryFee, 1e-9)

	effExit := 110 * (1 - 0.0005)
	assert.InDelta(t, effExit, b.EffectiveExit(110), 1e-9, "long sells lower on exit")
	exitFee := qty * effExit * 0.001
	assert.InDelta(t, exitFee, b.ExitFee(110), 1e-9)

	want := qty*(effExit-100.05) - 10 - exitFee
	assert.InDelta(t, want, b.RealizedPnL(110), 1e-9)

	// short side: receives less on entry, pays up on exit
	s := NewBalance(algo.Short, 100, 10000, algo.ValueConfig{Kind: algo.Rel, Value: 1}, 0, 10, 5)
	assert.InDelta(t, 99.95, s.EffectiveEntry, 1e-9)
	assert.InDelta(t, 90*(1+0.0005), s.EffectiveExit(90), 1e-9)
}

func TestBalancePositionSizing(t *testing.T) {
	abs := NewBalance(algo.Long, 100, 10000, algo.ValueConfig{Kind: algo.Abs, Value: 2500}, 0, 0, 0)
	assert.InDelta(t, 2500, abs.PositionUSD, 1e-9)

	rel := NewBalance(algo.Long, 100, 10000, algo.ValueConfig{Kind: algo.Rel, Value: 0.25}, 0, 0, 0)
	assert.InDelta(t, 2500, rel.PositionUSD, 1e-9)

	dyn := NewBalance(algo.Long, 100, 10000, algo.ValueConfig{Kind: algo.Dyn, Value: 0.8}, 0.5, 0, 0)
	assert.InDelta(t, 4000, dyn.PositionUSD, 1e-9, "DYN = capital * value * factor")

	inv := NewBalance(algo.Long, 100, 10000, algo.ValueConfig{Kind: algo.Dyn, Value: 0.8, Inverted: true}, 0.25, 0, 0)
	assert.InDelta(t, 6000, inv.PositionUSD, 1e-9)

	capped := NewBalance(algo.Long, 100, 10000, algo.ValueConfig{Kind: algo.Abs, Value: 50000}, 0, 0, 0)
	assert.InDelta(t, 10000, capped.PositionUSD, 1e-9, "position never exceeds capital")
}

func TestBalanceExpandingRange(t *testing.T) {
	b := NewBalance(algo.Long, 100, 10000, algo.ValueConfig{Kind: algo.Rel, Value: 1}, 0, 0, 0)

	runUp, drawdown := b.Range()
	assert.Zero(t, runUp)
	assert.Zero(t, drawdown)

	b.Observe(110)
	b.Observe(95)
	b.Observe(105)

	runUp, drawdown = b.Range()
	assert.InDelta(t, 1000, runUp, 1e-9)
	assert.InDelta(t, -500, drawdown, 1e-9)

	// the range only expands
	b.Observe(100)
	runUp2, drawdown2 := b.Range()
	assert.Equal(t, runUp, runUp2)
	assert.Equal(t, drawdown, drawdown2)
}
