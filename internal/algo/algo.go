// Package algo defines the strategy configuration consumed by the
// engine: entry/exit conditions, value configs for risk levels and
// position sizing, and the run settings.
package algo

import (
	"fmt"

	"backtest-engine/internal/errs"
	"backtest-engine/internal/indicator"
)

// Direction of an open position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// DirectionMode selects which directions the strategy trades.
type DirectionMode string

const (
	ModeLong  DirectionMode = "LONG"
	ModeShort DirectionMode = "SHORT"
	ModeBoth  DirectionMode = "BOTH"
)

// ValueKind selects how a ValueConfig magnitude is interpreted.
type ValueKind string

const (
	// Abs is a fixed USD amount.
	Abs ValueKind = "ABS"
	// Rel is a fraction of the entry price (or of capital, for
	// position sizing).
	Rel ValueKind = "REL"
	// Dyn is Rel modulated at trade entry by an indicator value
	// normalized into [0,1].
	Dyn ValueKind = "DYN"
)

// OrderStyle selects the entry fill policy. Bar-close is the canonical
// event-driven fill: entries execute at the close of the bar whose
// signal triggered them.
type OrderStyle string

const (
	OrderStyleBarClose OrderStyle = "BAR_CLOSE"
	OrderStyleNextOpen OrderStyle = "NEXT_OPEN"
)

// ValueConfig describes a configurable magnitude (stop distance, take
// profit distance, position size).
type ValueConfig struct {
	Kind        ValueKind         `json:"kind"`
	Value       float64           `json:"value"`
	ValueFactor *indicator.Config `json:"valueFactor,omitempty"`
	Inverted    bool              `json:"inverted,omitempty"`
}

// Condition gates an entry or exit: all required indicators must be
// true, and when optional indicators exist at least one must be true.
// Risk controls ride on the entry condition.
type Condition struct {
	Required   []indicator.Config `json:"required"`
	Optional   []indicator.Config `json:"optional,omitempty"`
	StopLoss   *ValueConfig       `json:"stopLoss,omitempty"`
	TakeProfit *ValueConfig       `json:"takeProfit,omitempty"`
	TrailingSL bool               `json:"trailingSL,omitempty"`
}

// Params is the full strategy definition.
type Params struct {
	ID                 string        `json:"id"`
	Version            string        `json:"version"`
	Mode               DirectionMode `json:"mode"`
	LongEntry          *Condition    `json:"longEntry,omitempty"`
	LongExit           *Condition    `json:"longExit,omitempty"`
	ShortEntry         *Condition    `json:"shortEntry,omitempty"`
	ShortExit          *Condition    `json:"shortExit,omitempty"`
	PositionSize       ValueConfig   `json:"positionSize"`
	StartingCapitalUSD float64       `json:"startingCapitalUSD"`
	TimeoutBars        int           `json:"timeoutBars,omitempty"`
	OrderStyle         OrderStyle    `json:"orderStyle,omitempty"`
}

// RunSettings scopes a single backtest run.
type RunSettings struct {
	Symbol               string  `json:"symbol"`
	CapitalScaler        float64 `json:"capitalScaler"`
	StartTime            int64   `json:"startTime"`
	EndTime              int64   `json:"endTime"`
	TradesLimit          int     `json:"tradesLimit,omitempty"`
	ClosePositionOnExit  bool    `json:"closePositionOnExit"`
	FeeBps               float64 `json:"feeBps"`
	SlippageBps          float64 `json:"slippageBps"`
	AnnualizationPeriods int     `json:"annualizationPeriods,omitempty"`
	MinSimResolution     int64   `json:"minSimResolution,omitempty"`
}

// Validate checks the strategy definition. The first failure aborts
// with a ConfigInvalid error naming the offending field.
func (p *Params) Validate() error {
	if p.ID == "" {
		return errs.New(errs.ConfigInvalid, "algo id must not be empty").With("field", "id")
	}
	if p.StartingCapitalUSD <= 0 {
		return errs.New(errs.ConfigInvalid, "starting capital must be positive").
			With("field", "startingCapitalUSD")
	}
	switch p.Mode {
	case ModeLong:
		if p.LongEntry == nil {
			return errs.New(errs.ConfigInvalid, "mode LONG requires longEntry").With("field", "longEntry")
		}
	case ModeShort:
		if p.ShortEntry == nil {
			return errs.New(errs.ConfigInvalid, "mode SHORT requires shortEntry").With("field", "shortEntry")
		}
	case ModeBoth:
		if p.LongEntry == nil {
			return errs.New(errs.ConfigInvalid, "mode BOTH requires longEntry").With("field", "longEntry")
		}
		if p.ShortEntry == nil {
			return errs.New(errs.ConfigInvalid, "mode BOTH requires shortEntry").With("field", "shortEntry")
		}
	default:
		return errs.Newf(errs.ConfigInvalid, "unknown direction mode %q", p.Mode).With("field", "mode")
	}

	conds := map[string]*Condition{
		"longEntry": p.LongEntry, "longExit": p.LongExit,
		"shortEntry": p.ShortEntry, "shortExit": p.ShortExit,
	}
	for field, cond := range conds {
		if cond == nil {
			continue
		}
		if err := cond.validate(field); err != nil {
			return err
		}
	}

	if err := validateValueConfig(&p.PositionSize, "positionSize"); err != nil {
		return err
	}
	if p.TimeoutBars < 0 {
		return errs.New(errs.ConfigInvalid, "timeout bars must not be negative").With("field", "timeoutBars")
	}
	switch p.OrderStyle {
	case "", OrderStyleBarClose:
	case OrderStyleNextOpen:
		return errs.New(errs.ConfigInvalid, "next-open order style is not supported; use bar close").
			With("field", "orderStyle")
	default:
		return errs.Newf(errs.ConfigInvalid, "unknown order style %q", p.OrderStyle).With("field", "orderStyle")
	}
	return nil
}

func (c *Condition) validate(field string) error {
	if c.TrailingSL && c.StopLoss == nil {
		return errs.New(errs.ConfigInvalid, "trailing stop requires a stop loss").
			With("field", field+".trailingSL")
	}
	if c.StopLoss != nil {
		if err := validateValueConfig(c.StopLoss, field+".stopLoss"); err != nil {
			return err
		}
	}
	if c.TakeProfit != nil {
		if err := validateValueConfig(c.TakeProfit, field+".takeProfit"); err != nil {
			return err
		}
	}
	for i, ic := range append(append([]indicator.Config{}, c.Required...), c.Optional...) {
		if _, err := indicator.New(ic); err != nil {
			if e, ok := err.(*errs.Error); ok {
				return e.With("field", fmt.Sprintf("%s.indicator[%d]", field, i))
			}
			return err
		}
		if ic.Resolution <= 0 {
			return errs.New(errs.ConfigInvalid, "indicator resolution must be positive").
				With("field", fmt.Sprintf("%s.indicator[%d].resolution", field, i))
		}
	}
	return nil
}

func validateValueConfig(v *ValueConfig, field string) error {
	switch v.Kind {
	case Abs, Rel:
	case Dyn:
		if v.ValueFactor == nil {
			return errs.New(errs.ConfigInvalid, "DYN value requires a value factor").
				With("field", field+".valueFactor")
		}
		if _, err := indicator.NewValuer(*v.ValueFactor); err != nil {
			if e, ok := err.(*errs.Error); ok {
				return e.With("field", field+".valueFactor")
			}
			return err
		}
	default:
		return errs.Newf(errs.ConfigInvalid, "unknown value kind %q", v.Kind).With("field", field+".kind")
	}
	if v.Value <= 0 {
		return errs.New(errs.ConfigInvalid, "value must be positive").With("field", field+".value")
	}
	return nil
}

// Validate checks the run settings.
func (r *RunSettings) Validate() error {
	if r.Symbol == "" {
		return errs.New(errs.ConfigInvalid, "symbol must not be empty").With("field", "symbol")
	}
	if r.CapitalScaler <= 0 {
		return errs.New(errs.ConfigInvalid, "capital scaler must be positive").With("field", "capitalScaler")
	}
	if r.EndTime <= r.StartTime {
		return errs.New(errs.ConfigInvalid, "end time must be after start time").With("field", "endTime")
	}
	if r.TradesLimit < 0 {
		return errs.New(errs.ConfigInvalid, "trades limit must not be negative").With("field", "tradesLimit")
	}
	if r.FeeBps < 0 || r.SlippageBps < 0 {
		return errs.New(errs.ConfigInvalid, "fee and slippage bps must not be negative").With("field", "feeBps")
	}
	return nil
}

// Conditions returns the configured conditions keyed by their role.
func (p *Params) Conditions() map[ConditionType]*Condition {
	out := make(map[ConditionType]*Condition, 4)
	if p.LongEntry != nil && (p.Mode == ModeLong || p.Mode == ModeBoth) {
		out[LongEntry] = p.LongEntry
	}
	if p.LongExit != nil && (p.Mode == ModeLong || p.Mode == ModeBoth) {
		out[LongExit] = p.LongExit
	}
	if p.ShortEntry != nil && (p.Mode == ModeShort || p.Mode == ModeBoth) {
		out[ShortEntry] = p.ShortEntry
	}
	if p.ShortExit != nil && (p.Mode == ModeShort || p.Mode == ModeBoth) {
		out[ShortExit] = p.ShortExit
	}
	return out
}

// ConditionType names the four condition roles.
type ConditionType string

const (
	LongEntry  ConditionType = "LONG_ENTRY"
	LongExit   ConditionType = "LONG_EXIT"
	ShortEntry ConditionType = "SHORT_ENTRY"
	ShortExit  ConditionType = "SHORT_EXIT"
)

// IsEntry reports whether the condition type opens a position.
func (t ConditionType) IsEntry() bool { return t == LongEntry || t == ShortEntry }

// Direction returns the position direction a condition type concerns.
func (t ConditionType) Direction() Direction {
	if t == LongEntry || t == LongExit {
		return Long
	}
	return Short
}

// Indicators collects every indicator config referenced by the active
// conditions (signal indicators only; DYN factors are separate).
func (p *Params) Indicators() []indicator.Config {
	var out []indicator.Config
	for _, cond := range p.Conditions() {
		out = append(out, cond.Required...)
		out = append(out, cond.Optional...)
	}
	return indicator.Dedupe(out)
}

// ValueFactors collects every DYN factor config across position sizing
// and risk controls.
func (p *Params) ValueFactors() []indicator.Config {
	var out []indicator.Config
	add := func(v *ValueConfig) {
		if v != nil && v.Kind == Dyn && v.ValueFactor != nil {
			out = append(out, *v.ValueFactor)
		}
	}
	add(&p.PositionSize)
	for _, cond := range p.Conditions() {
		add(cond.StopLoss)
		add(cond.TakeProfit)
	}
	return indicator.Dedupe(out)
}
