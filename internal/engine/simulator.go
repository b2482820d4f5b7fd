package engine

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"backtest-engine/internal/algo"
	"backtest-engine/internal/candle"
	"backtest-engine/internal/errs"
	"backtest-engine/internal/indicator"
	"backtest-engine/internal/mipmap"
	"backtest-engine/internal/risk"
	"backtest-engine/internal/signal"
)

// openPosition carries the active trade's state and its exclusively
// owned trackers. Released when the trade closes.
type openPosition struct {
	direction    algo.Direction
	entryBar     int
	entryTime    int64
	entrySwap    Swap
	entryDebit   float64
	balance      *risk.Balance
	sl           *risk.StopLoss
	tp           *risk.TakeProfit
}

// simulator is the event-driven state machine. All state transitions
// are serialized by the event heap ordering; the heap is the sole
// source of time progression.
type simulator struct {
	in         *Input
	mm         *mipmap.MipMap
	simRes     int64
	simCandles []candle.Candle
	cache      *indicator.SignalCache
	res        *signal.Resampled
	events     *signal.EventHeap
	logger     zerolog.Logger
	progress   func(Progress)

	tradingStart   int
	effectiveStart int

	position             PositionState
	cash                 float64
	open                 *openPosition
	tradesCompleted      int
	cooldownExpiresAtBar int
	scanCursor           int

	trades     []Trade
	swaps      []Swap
	algoEvents []AlgoEvent
	equity     []EquityPoint
	maxEquity  float64

	barsInState     map[PositionState]int
	nextAlgoEventID int64
}

func newSimulator(in *Input, mm *mipmap.MipMap, simRes int64, simCandles []candle.Candle, cache *indicator.SignalCache, res *signal.Resampled, events *signal.EventHeap, tradingStart int, logger zerolog.Logger, progress func(Progress)) *simulator {
	effectiveStart := tradingStart
	if res.WarmupBars > effectiveStart {
		effectiveStart = res.WarmupBars
	}
	return &simulator{
		in:           in,
		mm:           mm,
		simRes:       simRes,
		simCandles:   simCandles,
		cache:        cache,
		res:          res,
		events:       events,
		logger:       logger,
		progress:     progress,
		tradingStart: tradingStart,
		effectiveStart: effectiveStart,
		position:     Flat,
		cash:         capitalUSD(in),
		trades:       []Trade{},
		swaps:        []Swap{},
		algoEvents:   []AlgoEvent{},
		equity:       make([]EquityPoint, 0, len(simCandles)-tradingStart),
		barsInState:  map[PositionState]int{},
		scanCursor:   tradingStart,
	}
}

// run consumes the event heap in (timestamp, id) order. While a
// position is open, the sub-bar scanner looks for the earliest price
// trigger up to and including the popped event's bar; price triggers
// out-rank bar-close signal exits on the same bar because they fire
// intra-bar first.
func (s *simulator) run() error {
	for {
		ev, ok := s.events.Pop()
		if !ok {
			break
		}
		if s.position != Flat {
			if trig := s.scanForTrigger(ev.BarIndex); trig != nil {
				if err := s.closePosition(trig.barIndex, trig.price, trig.reason); err != nil {
					return err
				}
			}
		}
		if err := s.service(ev); err != nil {
			return err
		}
	}

	last := len(s.simCandles) - 1
	if s.position != Flat {
		if trig := s.scanForTrigger(last); trig != nil {
			if err := s.closePosition(trig.barIndex, trig.price, trig.reason); err != nil {
				return err
			}
		}
	}
	if s.position != Flat && s.in.Run.ClosePositionOnExit {
		if err := s.closePosition(last, s.simCandles[last].Close, ExitEndOfBacktest); err != nil {
			return err
		}
	}
	return s.fillEquityTo(last)
}

// scanForTrigger walks bars from the scan cursor through toBar looking
// for the earliest SL/TP/trailing hit. Bars scanned without a hit are
// never revisited, so trailing extremes ratchet exactly once per bar.
func (s *simulator) scanForTrigger(toBar int) *priceTrigger {
	if s.open == nil {
		return nil
	}
	if toBar > len(s.simCandles)-1 {
		toBar = len(s.simCandles) - 1
	}
	for bar := s.scanCursor; bar <= toBar; bar++ {
		c := s.simCandles[bar]
		s.open.balance.Observe(c.Low)
		s.open.balance.Observe(c.High)
		if trig := scanBar(s.mm, s.simRes, c, bar, s.open.direction, s.open.sl, s.open.tp); trig != nil {
			s.scanCursor = bar + 1
			return trig
		}
		s.scanCursor = bar + 1
	}
	return nil
}

// service applies one extracted event to the state machine.
func (s *simulator) service(ev signal.Event) error {
	s.journal(ev)

	if ev.Type != signal.ConditionMet {
		return nil
	}

	if ev.Condition.IsEntry() {
		return s.tryOpen(ev)
	}
	return s.tryExit(ev)
}

// tryOpen opens a position on an entry condition-met event, unless the
// warmup window, cooldown, trade limit, or an existing position
// suppresses it.
func (s *simulator) tryOpen(ev signal.Event) error {
	if s.position != Flat {
		return nil
	}
	if ev.BarIndex < s.effectiveStart {
		s.suppress(ev, "warmup")
		return nil
	}
	if ev.BarIndex < s.cooldownExpiresAtBar {
		s.suppress(ev, "cooldown")
		return nil
	}
	if limit := s.in.Run.TradesLimit; limit > 0 && s.tradesCompleted >= limit {
		s.suppress(ev, "trades_limit")
		return nil
	}

	direction := ev.Condition.Direction()
	cond := s.in.Algo.Conditions()[ev.Condition]
	bar := ev.BarIndex
	price := s.simCandles[bar].Close
	ts := s.simCandles[bar].Bucket

	if err := s.fillEquityTo(bar - 1); err != nil {
		return err
	}

	balance := risk.NewBalance(direction, price, s.cash, s.in.Algo.PositionSize,
		s.dynFactor(&s.in.Algo.PositionSize, ts), s.in.Run.FeeBps, s.in.Run.SlippageBps)

	pos := &openPosition{
		direction:  direction,
		entryBar:   bar,
		entryTime:  ts,
		balance:    balance,
		entryDebit: balance.PositionUSD + balance.EntryFee,
	}
	if cond != nil && cond.StopLoss != nil {
		pos.sl = risk.NewStopLoss(*cond.StopLoss, direction, cond.TrailingSL,
			balance.EffectiveEntry, s.dynFactor(cond.StopLoss, ts))
	}
	if cond != nil && cond.TakeProfit != nil {
		pos.tp = risk.NewTakeProfit(*cond.TakeProfit, direction,
			balance.EffectiveEntry, s.dynFactor(cond.TakeProfit, ts))
	}

	pos.entrySwap = s.entrySwap(pos, bar, ts)
	s.cash -= pos.entryDebit
	s.swaps = append(s.swaps, pos.entrySwap)
	s.open = pos
	if direction == algo.Long {
		s.position = Long
	} else {
		s.position = Short
	}
	s.scanCursor = bar + 1

	s.record(AlgoEntryOpened, ev.Condition, bar, ts,
		fmt.Sprintf("%s @ %.8g", direction, balance.EffectiveEntry))
	s.logger.Debug().
		Str("direction", string(direction)).
		Int("bar", bar).
		Float64("price", balance.EffectiveEntry).
		Float64("size_usd", balance.PositionUSD).
		Msg("Position opened")
	return nil
}

// tryExit closes the position on a matching exit condition-met event,
// at the close of the signal bar.
func (s *simulator) tryExit(ev signal.Event) error {
	if s.open == nil || s.open.direction != ev.Condition.Direction() {
		return nil
	}
	return s.closePosition(ev.BarIndex, s.simCandles[ev.BarIndex].Close, ExitSignal)
}

// closePosition executes the exit leg, emits the trade, and starts the
// cooldown clock.
func (s *simulator) closePosition(bar int, price float64, reason ExitReason) error {
	if err := s.fillEquityTo(bar - 1); err != nil {
		return err
	}

	pos := s.open
	ts := s.simCandles[bar].Bucket
	realized := pos.balance.RealizedPnL(price)
	if math.IsNaN(realized) || math.IsInf(realized, 0) {
		return errs.Newf(errs.NumericInvalid, "realized pnl is not finite at bar %d", bar)
	}
	pos.balance.Observe(price)

	exit := s.exitSwap(pos, bar, ts, price)
	s.cash += pos.entryDebit + realized
	s.swaps = append(s.swaps, exit)

	runUp, drawdown := pos.balance.Range()
	trade := Trade{
		ID:              int64(len(s.trades) + 1),
		Direction:       pos.direction,
		EntrySwap:       pos.entrySwap,
		ExitSwap:        exit,
		PnlUSD:          realized,
		PnlPct:          realized / pos.balance.PositionUSD,
		DurationBars:    bar - pos.entryBar,
		DurationSeconds: ts - pos.entryTime,
		ExitReason:      reason,
		MaxRunUpUSD:     runUp,
		MaxDrawdownUSD:  drawdown,
	}
	s.trades = append(s.trades, trade)
	s.tradesCompleted++
	if s.in.Algo.TimeoutBars > 0 {
		s.cooldownExpiresAtBar = bar + s.in.Algo.TimeoutBars
	}

	s.position = Flat
	s.open = nil

	s.record(AlgoPositionClosed, "", bar, ts, string(reason))
	s.logger.Debug().
		Str("direction", string(trade.Direction)).
		Str("reason", string(reason)).
		Int("bar", bar).
		Float64("pnl_usd", realized).
		Msg("Position closed")
	if s.progress != nil {
		t := trade
		s.progress(Progress{Trade: &t, BarIndex: bar, TotalBars: len(s.simCandles), Stage: "trade"})
	}
	return nil
}

// fillEquityTo appends one equity point per simulation bar through the
// given bar, using the position state in effect during those bars.
func (s *simulator) fillEquityTo(bar int) error {
	if bar > len(s.simCandles)-1 {
		bar = len(s.simCandles) - 1
	}
	start := s.tradingStart + len(s.equity)
	for i := start; i <= bar; i++ {
		c := s.simCandles[i]
		eq := s.cash
		if s.open != nil {
			switch s.open.direction {
			case algo.Long:
				eq = s.cash + s.open.balance.Quantity*c.Close
			case algo.Short:
				eq = s.cash + s.open.balance.Quantity*(2*s.open.balance.EffectiveEntry-c.Close)
			}
		}
		if math.IsNaN(eq) || math.IsInf(eq, 0) {
			return errs.Newf(errs.NumericInvalid, "equity is not finite at bar %d", i)
		}
		if eq > s.maxEquity {
			s.maxEquity = eq
		}
		dd := 0.0
		if s.maxEquity > 0 {
			dd = (s.maxEquity - eq) / s.maxEquity
		}
		point := EquityPoint{
			Timestamp:   c.Bucket,
			BarIndex:    i,
			Equity:      eq,
			DrawdownPct: dd,
		}
		s.equity = append(s.equity, point)
		s.barsInState[s.position]++
		if s.progress != nil {
			p := point
			s.progress(Progress{Equity: &p, BarIndex: i, TotalBars: len(s.simCandles), Stage: "equity"})
		}
	}
	return nil
}

// dynFactor samples a DYN value config's factor indicator at the entry
// timestamp, already normalized into [0,1].
func (s *simulator) dynFactor(v *algo.ValueConfig, ts int64) float64 {
	if v == nil || v.Kind != algo.Dyn || v.ValueFactor == nil {
		return 0
	}
	return s.cache.ValueAt(v.ValueFactor.CacheKey(), ts)
}

func (s *simulator) entrySwap(pos *openPosition, bar int, ts int64) Swap {
	b := pos.balance
	symbol := s.in.Run.Symbol
	raw := s.simCandles[bar].Close
	slipUSD := math.Abs(b.EffectiveEntry-raw) * b.Quantity
	if pos.direction == algo.Long {
		return Swap{
			BarIndex: bar, Timestamp: ts,
			FromAsset: "USD", ToAsset: symbol,
			FromAmount: b.PositionUSD + b.EntryFee, ToAmount: b.Quantity,
			Price: b.EffectiveEntry, IsEntry: true, TradeDirection: algo.Long,
			Fees: b.EntryFee, Slippage: slipUSD,
		}
	}
	return Swap{
		BarIndex: bar, Timestamp: ts,
		FromAsset: symbol, ToAsset: "USD",
		FromAmount: b.Quantity, ToAmount: b.PositionUSD - b.EntryFee,
		Price: b.EffectiveEntry, IsEntry: true, TradeDirection: algo.Short,
		Fees: b.EntryFee, Slippage: slipUSD,
	}
}

func (s *simulator) exitSwap(pos *openPosition, bar int, ts int64, price float64) Swap {
	b := pos.balance
	symbol := s.in.Run.Symbol
	effExit := b.EffectiveExit(price)
	exitFee := b.ExitFee(price)
	slipUSD := math.Abs(effExit-price) * b.Quantity
	if pos.direction == algo.Long {
		return Swap{
			BarIndex: bar, Timestamp: ts,
			FromAsset: symbol, ToAsset: "USD",
			FromAmount: b.Quantity, ToAmount: b.Quantity*effExit - exitFee,
			Price: effExit, IsEntry: false, TradeDirection: algo.Long,
			Fees: exitFee, Slippage: slipUSD,
		}
	}
	return Swap{
		BarIndex: bar, Timestamp: ts,
		FromAsset: "USD", ToAsset: symbol,
		FromAmount: b.Quantity*effExit + exitFee, ToAmount: b.Quantity,
		Price: effExit, IsEntry: false, TradeDirection: algo.Short,
		Fees: exitFee, Slippage: slipUSD,
	}
}

func (s *simulator) journal(ev signal.Event) {
	detail := ev.Indicator
	s.record(eventTypeToAlgo(ev.Type), ev.Condition, ev.BarIndex, ev.Timestamp, detail)
}

func (s *simulator) suppress(ev signal.Event, why string) {
	s.record(AlgoEntrySuppressed, ev.Condition, ev.BarIndex, ev.Timestamp, why)
}

func (s *simulator) record(t AlgoEventType, cond algo.ConditionType, bar int, ts int64, detail string) {
	s.algoEvents = append(s.algoEvents, AlgoEvent{
		ID:        s.nextAlgoEventID,
		Timestamp: ts,
		BarIndex:  bar,
		Type:      t,
		Condition: cond,
		Detail:    detail,
	})
	s.nextAlgoEventID++
}
