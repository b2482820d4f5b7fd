package risk

import "backtest-engine/internal/algo"

// bpsDenominator converts basis points into fractions.
const bpsDenominator = 10000.0

// Balance is the non-triggering per-trade tracker: it resolves the
// effective entry price (slippage applied against the trader), the
// position size, fees, and the intra-trade run-up/drawdown range, and
// computes realized PnL on exit.
type Balance struct {
	direction   algo.Direction
	feeBps      float64
	slippageBps float64

	EffectiveEntry float64
	PositionUSD    float64
	Quantity       float64
	EntryFee       float64

	maxRunUpUSD    float64
	maxDrawdownUSD float64
}

// NewBalance opens the tracker. Position size resolves per ValueConfig:
// REL is a fraction of capital, ABS a fixed USD amount, DYN the REL
// fraction modulated by the entry-time factor. Longs pay slippage on
// top of the entry price; shorts receive less.
func NewBalance(direction algo.Direction, entryPrice, capitalUSD float64, size algo.ValueConfig, dynFactor, feeBps, slippageBps float64) *Balance {
	b := &Balance{
		direction:   direction,
		feeBps:      feeBps,
		slippageBps: slippageBps,
	}

	slip := slippageBps / bpsDenominator
	if direction == algo.Long {
		b.EffectiveEntry = entryPrice * (1 + slip)
	} else {
		b.EffectiveEntry = entryPrice * (1 - slip)
	}

	kind, magnitude := effectiveMagnitude(size, dynFactor)
	if kind == algo.Abs {
		b.PositionUSD = magnitude
	} else {
		b.PositionUSD = capitalUSD * magnitude
	}
	if b.PositionUSD > capitalUSD {
		b.PositionUSD = capitalUSD
	}

	b.Quantity = b.PositionUSD / b.EffectiveEntry
	b.EntryFee = b.PositionUSD * feeBps / bpsDenominator
	return b
}

// UnrealizedPnL marks the open position at a price, gross of exit
// costs.
func (b *Balance) UnrealizedPnL(price float64) float64 {
	if b.direction == algo.Long {
		return b.Quantity * (price - b.EffectiveEntry)
	}
	return b.Quantity * (b.EffectiveEntry - price)
}

// Observe updates the intra-trade expanding range with a new price.
func (b *Balance) Observe(price float64) {
	pnl := b.UnrealizedPnL(price)
	if pnl > b.maxRunUpUSD {
		b.maxRunUpUSD = pnl
	}
	if pnl < b.maxDrawdownUSD {
		b.maxDrawdownUSD = pnl
	}
}

// EffectiveExit applies exit slippage against the trader: longs sell
// lower, shorts buy back higher.
func (b *Balance) EffectiveExit(price float64) float64 {
	slip := b.slippageBps / bpsDenominator
	if b.direction == algo.Long {
		return price * (1 - slip)
	}
	return price * (1 + slip)
}

// ExitFee is the fee on the exit notional at a given exit price.
func (b *Balance) ExitFee(price float64) float64 {
	return b.Quantity * b.EffectiveExit(price) * b.feeBps / bpsDenominator
}

// RealizedPnL computes the net trade PnL at an exit price: quantity
// times the effective entry/exit spread, minus both fees.
func (b *Balance) RealizedPnL(exitPrice float64) float64 {
	effExit := b.EffectiveExit(exitPrice)
	gross := b.Quantity * (effExit - b.EffectiveEntry)
	if b.direction == algo.Short {
		gross = b.Quantity * (b.EffectiveEntry - effExit)
	}
	return gross - b.EntryFee - b.ExitFee(exitPrice)
}

// Range returns the intra-trade max run-up and max drawdown in USD.
func (b *Balance) Range() (maxRunUpUSD, maxDrawdownUSD float64) {
	return b.maxRunUpUSD, b.maxDrawdownUSD
}
