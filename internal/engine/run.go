package engine

import (
	"time"

	"github.com/rs/zerolog"

	"backtest-engine/internal/candle"
	"backtest-engine/internal/errs"
	"backtest-engine/internal/indicator"
	"backtest-engine/internal/mipmap"
	"backtest-engine/internal/signal"
)

type options struct {
	logger   zerolog.Logger
	progress func(Progress)
}

// Option customizes a run.
type Option func(*options)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProgress attaches a listener receiving equity points and trades
// while the simulator executes.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.progress = fn }
}

// Run executes the full pipeline over a candle series and returns the
// complete in-memory output. Stages run sequentially; every stage's
// product is read-only for the stages after it. All errors are fatal —
// there is no partial result. An empty candle range is not an error:
// the output comes back well-formed with zeroed metrics.
func Run(candles []candle.Candle, in *Input, opts ...Option) (*Output, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With().Str("component", "engine").Logger()
	started := time.Now()

	// Stage 1: validate and clamp.
	data, err := prepare(candles, in)
	if err != nil {
		return nil, err
	}
	if data.empty {
		logger.Info().Msg("No candles in requested range, returning empty output")
		return emptyOutput(in), nil
	}

	allCfgs := append(append([]indicator.Config{}, data.signalCfgs...), data.valueCfgs...)
	simRes := signal.SimulationResolution(allCfgs, data.baseRes, in.Run.MinSimResolution)

	// Stage 2: mip-map over every needed resolution.
	resolutions := append(indicator.Resolutions(allCfgs), simRes)
	mm, err := mipmap.Build(data.candles, data.baseRes, resolutions, logger)
	if err != nil {
		return nil, err
	}
	simCandles, ok := mm.Level(simRes)
	if !ok || len(simCandles) == 0 {
		return emptyOutput(in), nil
	}

	// Stage 4: indicator pre-calculation.
	cache, err := indicator.Precalculate(mm, data.signalCfgs, data.valueCfgs, logger)
	if err != nil {
		return nil, err
	}

	// Stage 5: resample onto the simulation timestamp vector.
	timestamps := make([]int64, len(simCandles))
	for i, c := range simCandles {
		timestamps[i] = c.Bucket
	}
	res := signal.Resample(cache, data.signalCfgs, simRes, timestamps, data.warmupSeconds)

	tradingStart := tradingStartIndex(simCandles, in.Run.StartTime)
	if tradingStart >= len(simCandles) {
		return emptyOutput(in), nil
	}

	// Stage 6: extract the event heap.
	heapQ, _ := signal.Extract(res, in.Algo.Conditions(), tradingStart)
	logger.Debug().
		Int64("sim_resolution", simRes).
		Int("sim_bars", len(simCandles)).
		Int("trading_start", tradingStart).
		Int("events", heapQ.Len()).
		Msg("Pipeline pre-computation complete")

	// Stage 7: simulate.
	sim := newSimulator(in, mm, simRes, simCandles, cache, res, heapQ, tradingStart, logger, o.progress)
	if err := sim.run(); err != nil {
		return nil, err
	}

	// Stage 8: aggregate.
	out := buildOutput(in, sim)
	out.CompletedAt = time.Now().Unix()
	out.DurationMs = time.Since(started).Milliseconds()

	if err := checkInvariants(out); err != nil {
		return nil, err
	}

	logger.Info().
		Int("trades", len(out.Trades)).
		Int("bars", out.TotalBarsProcessed).
		Float64("total_pnl_usd", out.SwapMetrics.TotalPnlUSD).
		Int64("duration_ms", out.DurationMs).
		Msg("Backtest complete")
	return out, nil
}

// checkInvariants verifies the structural output guarantees before the
// result leaves the engine.
func checkInvariants(out *Output) error {
	if len(out.EquityCurve) != out.TotalBarsProcessed {
		return errs.Newf(errs.InternalInvariantViolated,
			"equity curve length %d != bars processed %d", len(out.EquityCurve), out.TotalBarsProcessed)
	}
	for i := 1; i < len(out.EquityCurve); i++ {
		if out.EquityCurve[i].BarIndex != out.EquityCurve[i-1].BarIndex+1 {
			return errs.New(errs.InternalInvariantViolated, "equity bar indexes are not contiguous")
		}
	}
	prevEntry := false
	for i, sw := range out.Events.SwapEvents {
		if i > 0 && sw.IsEntry == prevEntry {
			return errs.New(errs.InternalInvariantViolated, "swap events do not alternate entry/exit")
		}
		prevEntry = sw.IsEntry
	}
	for _, t := range out.Trades {
		if t.EntrySwap.BarIndex > t.ExitSwap.BarIndex {
			return errs.New(errs.InternalInvariantViolated, "trade entry bar after exit bar")
		}
	}
	return nil
}
