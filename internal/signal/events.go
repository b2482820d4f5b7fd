package signal

import (
	"backtest-engine/internal/algo"
	"backtest-engine/internal/indicator"
)

// EventType tags an extracted event.
type EventType string

const (
	// SignalRising / SignalFalling are per-indicator edges.
	SignalRising  EventType = "SIGNAL_RISING"
	SignalFalling EventType = "SIGNAL_FALLING"
	// ConditionMet / ConditionUnmet are edges of the combined
	// condition bit.
	ConditionMet   EventType = "CONDITION_MET"
	ConditionUnmet EventType = "CONDITION_UNMET"
)

// Event is one typed occurrence on the simulation timeline. IDs are
// allocated monotonically at extraction time and are the deterministic
// tie-break for events sharing a timestamp.
type Event struct {
	ID        int64
	Timestamp int64
	BarIndex  int
	Condition algo.ConditionType
	Type      EventType
	Indicator string // cache key, set on signal crossings
}

// Extract walks every active condition and emits signal crossings plus
// condition met/unmet transitions, then heapifies them ordered by
// (timestamp asc, id asc). The pre-warming region before
// tradingStartIndex never emits: signal state re-baselines to false at
// the trading start, so a signal or condition already true on the first
// tradable bar yields its rising edge there rather than being lost with
// the discarded warmup bars.
func Extract(res *Resampled, conditions map[algo.ConditionType]*algo.Condition, tradingStartIndex int) (*EventHeap, map[algo.ConditionType][]bool) {
	var events []Event
	var nextID int64

	if tradingStartIndex < 0 {
		tradingStartIndex = 0
	}

	emit := func(barIndex int, condType algo.ConditionType, evType EventType, indicatorKey string) {
		events = append(events, Event{
			ID:        nextID,
			Timestamp: res.Timestamps[barIndex],
			BarIndex:  barIndex,
			Condition: condType,
			Type:      evType,
			Indicator: indicatorKey,
		})
		nextID++
	}

	emitEdges := func(condType algo.ConditionType, configs []indicator.Config) {
		for _, ic := range configs {
			key := ic.CacheKey()
			sig, found := res.Signal(key)
			if !found {
				continue
			}
			prev := false
			for i := tradingStartIndex; i < len(sig); i++ {
				if sig[i] && !prev {
					emit(i, condType, SignalRising, key)
				} else if !sig[i] && prev {
					emit(i, condType, SignalFalling, key)
				}
				prev = sig[i]
			}
		}
	}

	bits := make(map[algo.ConditionType][]bool, len(conditions))

	// Fixed iteration order keeps event IDs deterministic.
	for _, condType := range []algo.ConditionType{algo.LongEntry, algo.LongExit, algo.ShortEntry, algo.ShortExit} {
		cond, ok := conditions[condType]
		if !ok {
			continue
		}

		emitEdges(condType, cond.Required)
		emitEdges(condType, cond.Optional)

		condBits := res.ConditionBits(cond)
		bits[condType] = condBits
		prev := false
		for i := tradingStartIndex; i < len(condBits); i++ {
			if condBits[i] && !prev {
				emit(i, condType, ConditionMet, "")
			} else if !condBits[i] && prev {
				emit(i, condType, ConditionUnmet, "")
			}
			prev = condBits[i]
		}
	}

	return NewEventHeap(events), bits
}
