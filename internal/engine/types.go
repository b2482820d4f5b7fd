// Package engine wires the backtest pipeline end to end: data loading
// and validation, mip-map construction, indicator pre-calculation,
// resampling, event extraction, the event-driven simulator, and the
// output builder.
package engine

import (
	"encoding/json"
	"math"

	"backtest-engine/internal/algo"
	"backtest-engine/internal/signal"
)

// PositionState is the simulator's position, at most one at a time.
type PositionState string

const (
	Flat  PositionState = "FLAT"
	Long  PositionState = "LONG"
	Short PositionState = "SHORT"
)

// ExitReason records what closed a trade.
type ExitReason string

const (
	ExitSignal        ExitReason = "signal"
	ExitStopLoss      ExitReason = "stop_loss"
	ExitTakeProfit    ExitReason = "take_profit"
	ExitTrailingStop  ExitReason = "trailing_stop"
	ExitEndOfBacktest ExitReason = "end_of_backtest"
)

// Swap is one executed leg of a trade: an exchange between USD and the
// traded asset. Amounts are net of fees; Price is the effective fill
// after slippage.
type Swap struct {
	BarIndex       int            `json:"barIndex"`
	Timestamp      int64          `json:"timestamp"`
	FromAsset      string         `json:"fromAsset"`
	ToAsset        string         `json:"toAsset"`
	FromAmount     float64        `json:"fromAmount"`
	ToAmount       float64        `json:"toAmount"`
	Price          float64        `json:"price"`
	IsEntry        bool           `json:"isEntry"`
	TradeDirection algo.Direction `json:"tradeDirection"`
	Fees           float64        `json:"fees"`
	Slippage       float64        `json:"slippage"`
}

// Trade pairs an entry swap with its exit swap.
type Trade struct {
	ID              int64          `json:"id"`
	Direction       algo.Direction `json:"direction"`
	EntrySwap       Swap           `json:"entrySwap"`
	ExitSwap        Swap           `json:"exitSwap"`
	PnlUSD          float64        `json:"pnlUSD"`
	PnlPct          float64        `json:"pnlPct"`
	DurationBars    int            `json:"durationBars"`
	DurationSeconds int64          `json:"durationSeconds"`
	ExitReason      ExitReason     `json:"exitReason"`
	MaxRunUpUSD     float64        `json:"maxRunUpUSD"`
	MaxDrawdownUSD  float64        `json:"maxDrawdownUSD"`
}

// EquityPoint is the account value at one simulation bar close.
type EquityPoint struct {
	Timestamp   int64   `json:"timestamp"`
	BarIndex    int     `json:"barIndex"`
	Equity      float64 `json:"equity"`
	DrawdownPct float64 `json:"drawdownPct"`
}

// AlgoEventType tags a state-machine journal entry.
type AlgoEventType string

const (
	AlgoEntryOpened        AlgoEventType = "ENTRY_OPENED"
	AlgoPositionClosed     AlgoEventType = "POSITION_CLOSED"
	AlgoEntrySuppressed    AlgoEventType = "ENTRY_SUPPRESSED"
	AlgoConditionMet       AlgoEventType = "CONDITION_MET"
	AlgoConditionUnmet     AlgoEventType = "CONDITION_UNMET"
	AlgoSignalCrossing     AlgoEventType = "SIGNAL_CROSSING"
)

// AlgoEvent journals one state-machine occurrence.
type AlgoEvent struct {
	ID        int64              `json:"id"`
	Timestamp int64              `json:"timestamp"`
	BarIndex  int                `json:"barIndex"`
	Type      AlgoEventType      `json:"type"`
	Condition algo.ConditionType `json:"condition,omitempty"`
	Detail    string             `json:"detail,omitempty"`
}

// RunConfig echoes the identifying parameters of a run into the output.
type RunConfig struct {
	AlgoID             string  `json:"algoId"`
	Version            string  `json:"version"`
	Symbol             string  `json:"symbol"`
	StartTime          int64   `json:"startTime"`
	EndTime            int64   `json:"endTime"`
	StartingCapitalUSD float64 `json:"startingCapitalUSD"`
	FeeBps             float64 `json:"feeBps"`
	SlippageBps        float64 `json:"slippageBps"`
}

// DirectionMetrics is the per-direction breakdown.
type DirectionMetrics struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"winRate"`
	PnlUSD  float64 `json:"pnlUSD"`
}

// DurationStats summarizes trade durations.
type DurationStats struct {
	MinBars    int     `json:"minBars"`
	AvgBars    float64 `json:"avgBars"`
	MaxBars    int     `json:"maxBars"`
	MinSeconds int64   `json:"minSeconds"`
	AvgSeconds float64 `json:"avgSeconds"`
	MaxSeconds int64   `json:"maxSeconds"`
}

// SwapMetrics aggregates trade and equity outcomes.
type SwapMetrics struct {
	TotalTrades    int     `json:"totalTrades"`
	WinningTrades  int     `json:"winningTrades"`
	LosingTrades   int     `json:"losingTrades"`
	WinRate        float64 `json:"winRate"`
	TotalPnlUSD    float64 `json:"totalPnlUSD"`
	TotalFeesUSD   float64 `json:"totalFeesUSD"`
	GrossProfitUSD float64 `json:"grossProfitUSD"`
	GrossLossUSD   float64 `json:"grossLossUSD"`
	ProfitFactor   float64 `json:"profitFactor"`
	SharpeRatio    float64 `json:"sharpeRatio"`
	SortinoRatio   float64 `json:"sortinoRatio"`
	MaxDrawdownPct float64 `json:"maxDrawdownPct"`
	MaxDrawdownUSD float64 `json:"maxDrawdownUSD"`
	CalmarRatio    float64 `json:"calmarRatio"`
	TotalReturnPct float64 `json:"totalReturnPct"`
	AverageWinUSD  float64 `json:"averageWinUSD"`
	AverageLossUSD float64 `json:"averageLossUSD"`
	LargestWinUSD  float64 `json:"largestWinUSD"`
	LargestLossUSD float64 `json:"largestLossUSD"`

	Long  DirectionMetrics `json:"long"`
	Short DirectionMetrics `json:"short"`

	Duration DurationStats `json:"duration"`
}

// MarshalJSON renders an infinite profit factor as a string so the
// output stays valid JSON.
func (m SwapMetrics) MarshalJSON() ([]byte, error) {
	type alias SwapMetrics
	shadow := struct {
		alias
		ProfitFactor interface{} `json:"profitFactor"`
	}{alias: alias(m), ProfitFactor: m.ProfitFactor}
	if math.IsInf(m.ProfitFactor, 1) {
		shadow.ProfitFactor = "inf"
	}
	return json.Marshal(shadow)
}

// AlgoMetrics aggregates state-machine behavior.
type AlgoMetrics struct {
	StateDistribution      map[PositionState]float64  `json:"stateDistribution"`
	ExitReasonCounts       map[ExitReason]int         `json:"exitReasonCounts"`
	ConditionTriggerCounts map[algo.ConditionType]int `json:"conditionTriggerCounts"`
	SignalCrossingCount    int                        `json:"signalCrossingCount"`
	SuppressedEntryCount   int                        `json:"suppressedEntryCount"`
}

// Events groups the two event journals in the output.
type Events struct {
	SwapEvents []Swap      `json:"swapEvents"`
	AlgoEvents []AlgoEvent `json:"algoEvents"`
}

// Output is the complete in-memory backtest result.
type Output struct {
	Config             RunConfig     `json:"config"`
	Events             Events        `json:"events"`
	Trades             []Trade       `json:"trades"`
	EquityCurve        []EquityPoint `json:"equityCurve"`
	SwapMetrics        SwapMetrics   `json:"swapMetrics"`
	AlgoMetrics        AlgoMetrics   `json:"algoMetrics"`
	IsEmpty            bool          `json:"isEmpty"`
	CompletedAt        int64         `json:"completedAt"`
	DurationMs         int64         `json:"durationMs"`
	TotalBarsProcessed int           `json:"totalBarsProcessed"`
}

// Progress is pushed to an optional listener while a run executes.
type Progress struct {
	Equity     *EquityPoint `json:"equity,omitempty"`
	Trade      *Trade       `json:"trade,omitempty"`
	BarIndex   int          `json:"barIndex"`
	TotalBars  int          `json:"totalBars"`
	Stage      string       `json:"stage"`
}

// Input bundles the two configuration halves of a run.
type Input struct {
	Algo *algo.Params      `json:"algo"`
	Run  *algo.RunSettings `json:"run"`
}

// eventTypeToAlgo maps extractor event types onto journal entry types.
func eventTypeToAlgo(t signal.EventType) AlgoEventType {
	switch t {
	case signal.ConditionMet:
		return AlgoConditionMet
	case signal.ConditionUnmet:
		return AlgoConditionUnmet
	default:
		return AlgoSignalCrossing
	}
}
