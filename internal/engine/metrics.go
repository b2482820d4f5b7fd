package engine

import (
	"math"

	"backtest-engine/internal/algo"
)

// buildOutput assembles the final result from the simulator's journals.
func buildOutput(in *Input, sim *simulator) *Output {
	totalBars := len(sim.simCandles) - sim.tradingStart
	out := &Output{
		Config: runConfig(in),
		Events: Events{
			SwapEvents: sim.swaps,
			AlgoEvents: sim.algoEvents,
		},
		Trades:             sim.trades,
		EquityCurve:        sim.equity,
		TotalBarsProcessed: totalBars,
		IsEmpty:            totalBars == 0,
	}
	out.SwapMetrics = buildSwapMetrics(in, sim)
	out.AlgoMetrics = buildAlgoMetrics(sim, totalBars)
	return out
}

func buildSwapMetrics(in *Input, sim *simulator) SwapMetrics {
	m := SwapMetrics{}
	trades := sim.trades
	m.TotalTrades = len(trades)

	returns := make([]float64, 0, len(trades))
	var sumBars int
	var sumSeconds int64

	for i, t := range trades {
		m.TotalPnlUSD += t.PnlUSD
		m.TotalFeesUSD += t.EntrySwap.Fees + t.ExitSwap.Fees
		returns = append(returns, t.PnlPct)

		if t.PnlUSD > 0 {
			m.WinningTrades++
			m.GrossProfitUSD += t.PnlUSD
			if t.PnlUSD > m.LargestWinUSD {
				m.LargestWinUSD = t.PnlUSD
			}
		} else {
			m.LosingTrades++
			m.GrossLossUSD += t.PnlUSD
			if t.PnlUSD < m.LargestLossUSD {
				m.LargestLossUSD = t.PnlUSD
			}
		}

		d := &m.Long
		if t.Direction == algo.Short {
			d = &m.Short
		}
		d.Trades++
		d.PnlUSD += t.PnlUSD
		if t.PnlUSD > 0 {
			d.Wins++
		}

		sumBars += t.DurationBars
		sumSeconds += t.DurationSeconds
		if i == 0 || t.DurationBars < m.Duration.MinBars {
			m.Duration.MinBars = t.DurationBars
		}
		if t.DurationBars > m.Duration.MaxBars {
			m.Duration.MaxBars = t.DurationBars
		}
		if i == 0 || t.DurationSeconds < m.Duration.MinSeconds {
			m.Duration.MinSeconds = t.DurationSeconds
		}
		if t.DurationSeconds > m.Duration.MaxSeconds {
			m.Duration.MaxSeconds = t.DurationSeconds
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.Duration.AvgBars = float64(sumBars) / float64(m.TotalTrades)
		m.Duration.AvgSeconds = float64(sumSeconds) / float64(m.TotalTrades)
	}
	if m.Long.Trades > 0 {
		m.Long.WinRate = float64(m.Long.Wins) / float64(m.Long.Trades)
	}
	if m.Short.Trades > 0 {
		m.Short.WinRate = float64(m.Short.Wins) / float64(m.Short.Trades)
	}
	if m.WinningTrades > 0 {
		m.AverageWinUSD = m.GrossProfitUSD / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLossUSD = m.GrossLossUSD / float64(m.LosingTrades)
	}

	switch {
	case m.GrossLossUSD != 0:
		m.ProfitFactor = m.GrossProfitUSD / math.Abs(m.GrossLossUSD)
	case m.GrossProfitUSD > 0:
		m.ProfitFactor = math.Inf(1)
	}

	n := float64(len(trades))
	if in.Run.AnnualizationPeriods > 0 {
		n = float64(in.Run.AnnualizationPeriods)
	}
	m.SharpeRatio = ratioOverStd(returns, n, false)
	m.SortinoRatio = ratioOverStd(returns, n, true)

	// drawdown over the equity curve
	for _, p := range sim.equity {
		if p.DrawdownPct > m.MaxDrawdownPct {
			m.MaxDrawdownPct = p.DrawdownPct
		}
	}
	runningMax := 0.0
	for _, p := range sim.equity {
		if p.Equity > runningMax {
			runningMax = p.Equity
		}
		if dd := runningMax - p.Equity; dd > m.MaxDrawdownUSD {
			m.MaxDrawdownUSD = dd
		}
	}

	capital := capitalUSD(in)
	if capital > 0 && len(sim.equity) > 0 {
		m.TotalReturnPct = (sim.equity[len(sim.equity)-1].Equity - capital) / capital
	}
	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.TotalReturnPct / m.MaxDrawdownPct
	}
	return m
}

// ratioOverStd computes mean(returns)/stddev(subset) * sqrt(n), the
// shared Sharpe/Sortino shape. Sortino restricts the deviation to the
// negative returns.
func ratioOverStd(returns []float64, n float64, negativeOnly bool) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	subset := returns
	if negativeOnly {
		subset = subset[:0:0]
		for _, r := range returns {
			if r < 0 {
				subset = append(subset, r)
			}
		}
		if len(subset) == 0 {
			return 0
		}
	}
	center := 0.0
	for _, r := range subset {
		center += r
	}
	center /= float64(len(subset))
	variance := 0.0
	for _, r := range subset {
		d := r - center
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(subset)))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(n)
}

func buildAlgoMetrics(sim *simulator, totalBars int) AlgoMetrics {
	m := AlgoMetrics{
		StateDistribution:      map[PositionState]float64{},
		ExitReasonCounts:       map[ExitReason]int{},
		ConditionTriggerCounts: map[algo.ConditionType]int{},
	}
	if totalBars > 0 {
		for state, bars := range sim.barsInState {
			m.StateDistribution[state] = float64(bars) / float64(totalBars)
		}
	}
	for _, t := range sim.trades {
		m.ExitReasonCounts[t.ExitReason]++
	}
	for _, ev := range sim.algoEvents {
		switch ev.Type {
		case AlgoConditionMet:
			m.ConditionTriggerCounts[ev.Condition]++
		case AlgoSignalCrossing:
			m.SignalCrossingCount++
		case AlgoEntrySuppressed:
			m.SuppressedEntryCount++
		}
	}
	return m
}
