package engine

import (
	"sort"

	"backtest-engine/internal/algo"
	"backtest-engine/internal/candle"
	"backtest-engine/internal/errs"
	"backtest-engine/internal/indicator"
)

// loadedData is the validated, range-filtered view of the input the
// rest of the pipeline works from.
type loadedData struct {
	candles       []candle.Candle // [start - warmup, end]
	baseRes       int64
	warmupSeconds int64
	signalCfgs    []indicator.Config
	valueCfgs     []indicator.Config
	empty         bool
}

// prepare is stage 1: validate both configuration halves, detect the
// base resolution, compute the run warmup, and clamp the candle series
// to [startTime - warmup, endTime].
func prepare(candles []candle.Candle, in *Input) (*loadedData, error) {
	if in == nil || in.Algo == nil || in.Run == nil {
		return nil, errs.New(errs.ConfigInvalid, "algo params and run settings are required")
	}
	if err := in.Algo.Validate(); err != nil {
		return nil, err
	}
	if err := in.Run.Validate(); err != nil {
		return nil, err
	}

	if len(candles) == 0 {
		return &loadedData{empty: true}, nil
	}
	if !sort.SliceIsSorted(candles, func(i, j int) bool { return candles[i].Bucket < candles[j].Bucket }) {
		return nil, errs.New(errs.CandleFormatInvalid, "candle buckets are not ascending")
	}
	if err := candle.ValidateSeries(candles); err != nil {
		return nil, err
	}
	baseRes, err := candle.DetectResolution(candles)
	if err != nil {
		return nil, err
	}

	signalCfgs := in.Algo.Indicators()
	valueCfgs := in.Algo.ValueFactors()
	warmup, err := indicator.MaxWarmupSeconds(append(append([]indicator.Config{}, signalCfgs...), valueCfgs...))
	if err != nil {
		return nil, err
	}

	filtered := candle.FilterRange(candles, in.Run.StartTime-warmup, in.Run.EndTime)
	return &loadedData{
		candles:       filtered,
		baseRes:       baseRes,
		warmupSeconds: warmup,
		signalCfgs:    signalCfgs,
		valueCfgs:     valueCfgs,
		empty:         len(filtered) == 0,
	}, nil
}

// tradingStartIndex finds the first simulation bar inside the trading
// window proper (bucket >= startTime).
func tradingStartIndex(simCandles []candle.Candle, startTime int64) int {
	return sort.Search(len(simCandles), func(i int) bool {
		return simCandles[i].Bucket >= startTime
	})
}

// capitalUSD resolves the effective starting capital of a run.
func capitalUSD(in *Input) float64 {
	return in.Algo.StartingCapitalUSD * in.Run.CapitalScaler
}

// emptyOutput builds the well-formed zero result for a range with no
// candles.
func emptyOutput(in *Input) *Output {
	return &Output{
		Config:      runConfig(in),
		Events:      Events{SwapEvents: []Swap{}, AlgoEvents: []AlgoEvent{}},
		Trades:      []Trade{},
		EquityCurve: []EquityPoint{},
		SwapMetrics: SwapMetrics{},
		AlgoMetrics: AlgoMetrics{
			StateDistribution:      map[PositionState]float64{},
			ExitReasonCounts:       map[ExitReason]int{},
			ConditionTriggerCounts: map[algo.ConditionType]int{},
		},
		IsEmpty:            true,
		TotalBarsProcessed: 0,
	}
}

func runConfig(in *Input) RunConfig {
	return RunConfig{
		AlgoID:             in.Algo.ID,
		Version:            in.Algo.Version,
		Symbol:             in.Run.Symbol,
		StartTime:          in.Run.StartTime,
		EndTime:            in.Run.EndTime,
		StartingCapitalUSD: capitalUSD(in),
		FeeBps:             in.Run.FeeBps,
		SlippageBps:        in.Run.SlippageBps,
	}
}
