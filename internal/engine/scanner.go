package engine

import (
	"backtest-engine/internal/algo"
	"backtest-engine/internal/candle"
	"backtest-engine/internal/mipmap"
	"backtest-engine/internal/risk"
)

// priceTrigger is a stop-loss / take-profit / trailing hit located
// inside a bar by the sub-bar scanner.
type priceTrigger struct {
	barIndex  int
	timestamp int64
	price     float64
	reason    ExitReason
}

// scanBar orders SL/TP triggers inside one parent bar. When the
// mip-map holds finer candles for the parent, they are walked in
// ascending order: a trailing stop ratchets on each sub-bar's favorable
// extreme before the hit checks, and when one sub-bar touches both
// levels the stop wins. Without sub-bars the parent's OHLC range is
// checked with the same conservative tie-break and the trailing extreme
// only ratchets after the checks.
func scanBar(mm *mipmap.MipMap, simRes int64, bar candle.Candle, barIndex int, direction algo.Direction, sl *risk.StopLoss, tp *risk.TakeProfit) *priceTrigger {
	if sl == nil && tp == nil {
		return nil
	}

	subs := mm.SubBars(simRes, bar.Bucket)
	if len(subs) == 0 {
		return scanParentFallback(bar, barIndex, direction, sl, tp)
	}

	for _, sub := range subs {
		if sl != nil {
			sl.Ratchet(favorableExtreme(sub, direction))
		}
		slHit := sl != nil && sl.Observe(adverseExtreme(sub, direction))
		tpHit := tp != nil && tp.Observe(favorableExtreme(sub, direction))
		if slHit {
			return &priceTrigger{
				barIndex:  barIndex,
				timestamp: sub.Bucket,
				price:     sl.Level(),
				reason:    stopReason(sl),
			}
		}
		if tpHit {
			return &priceTrigger{
				barIndex:  barIndex,
				timestamp: sub.Bucket,
				price:     tp.Level(),
				reason:    ExitTakeProfit,
			}
		}
	}
	return nil
}

// scanParentFallback checks SL/TP against the parent OHLC range when no
// finer data exists. Ordering within the bar is unknowable, so the stop
// wins any tie, and the trailing extreme ratchets only after the checks
// (no intra-bar ratchet).
func scanParentFallback(bar candle.Candle, barIndex int, direction algo.Direction, sl *risk.StopLoss, tp *risk.TakeProfit) *priceTrigger {
	slHit := sl != nil && sl.Observe(adverseExtreme(bar, direction))
	tpHit := tp != nil && tp.Observe(favorableExtreme(bar, direction))

	var trig *priceTrigger
	if slHit {
		trig = &priceTrigger{
			barIndex:  barIndex,
			timestamp: bar.Bucket,
			price:     sl.Level(),
			reason:    stopReason(sl),
		}
	} else if tpHit {
		trig = &priceTrigger{
			barIndex:  barIndex,
			timestamp: bar.Bucket,
			price:     tp.Level(),
			reason:    ExitTakeProfit,
		}
	}

	if trig == nil && sl != nil {
		sl.Ratchet(favorableExtreme(bar, direction))
	}
	return trig
}

// favorableExtreme is the bar price furthest in the trade's favor.
func favorableExtreme(c candle.Candle, direction algo.Direction) float64 {
	if direction == algo.Long {
		return c.High
	}
	return c.Low
}

// adverseExtreme is the bar price furthest against the trade.
func adverseExtreme(c candle.Candle, direction algo.Direction) float64 {
	if direction == algo.Long {
		return c.Low
	}
	return c.High
}

func stopReason(sl *risk.StopLoss) ExitReason {
	if sl.Trailing() {
		return ExitTrailingStop
	}
	return ExitStopLoss
}
