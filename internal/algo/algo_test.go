package algo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-engine/internal/errs"
	"backtest-engine/internal/indicator"
)

func validParams() *Params {
	return &Params{
		ID:                 "test-algo",
		Mode:               ModeLong,
		LongEntry:          &Condition{},
		PositionSize:       ValueConfig{Kind: Rel, Value: 1},
		StartingCapitalUSD: 10000,
	}
}

func TestValidateAcceptsMinimalLong(t *testing.T) {
	require.NoError(t, validParams().Validate())
}

func TestValidateRejections(t *testing.T) {
	rsi := &indicator.Config{Type: indicator.TypeRSIAbove, Resolution: 60, Params: map[string]float64{"period": 14}}

	tests := []struct {
		name   string
		mutate func(*Params)
		field  string
	}{
		{"empty id", func(p *Params) { p.ID = "" }, "id"},
		{"zero capital", func(p *Params) { p.StartingCapitalUSD = 0 }, "startingCapitalUSD"},
		{"long mode without entry", func(p *Params) { p.LongEntry = nil }, "longEntry"},
		{"both mode without short entry", func(p *Params) { p.Mode = ModeBoth }, "shortEntry"},
		{"unknown mode", func(p *Params) { p.Mode = "SIDEWAYS" }, "mode"},
		{"trailing without stop", func(p *Params) { p.LongEntry = &Condition{TrailingSL: true} }, "longEntry.trailingSL"},
		{"dyn without factor", func(p *Params) {
			p.LongEntry = &Condition{StopLoss: &ValueConfig{Kind: Dyn, Value: 0.1}}
		}, "longEntry.stopLoss.valueFactor"},
		{"negative timeout", func(p *Params) { p.TimeoutBars = -1 }, "timeoutBars"},
		{"next open unsupported", func(p *Params) { p.OrderStyle = OrderStyleNextOpen }, "orderStyle"},
		{"zero position size", func(p *Params) { p.PositionSize = ValueConfig{Kind: Rel, Value: 0} }, "positionSize.value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, errs.ConfigInvalid))
			e := err.(*errs.Error)
			assert.Equal(t, tt.field, e.Context["field"])
		})
	}

	t.Run("dyn with valuer-capable factor passes", func(t *testing.T) {
		p := validParams()
		p.LongEntry = &Condition{StopLoss: &ValueConfig{Kind: Dyn, Value: 0.1, ValueFactor: rsi}}
		require.NoError(t, p.Validate())
	})
}

func TestRunSettingsValidate(t *testing.T) {
	valid := RunSettings{Symbol: "BTCUSD", CapitalScaler: 1, StartTime: 0, EndTime: 3600}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*RunSettings)
	}{
		{"empty symbol", func(r *RunSettings) { r.Symbol = "" }},
		{"zero scaler", func(r *RunSettings) { r.CapitalScaler = 0 }},
		{"end equals start", func(r *RunSettings) { r.EndTime = r.StartTime }},
		{"negative limit", func(r *RunSettings) { r.TradesLimit = -1 }},
		{"negative fee", func(r *RunSettings) { r.FeeBps = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, errs.ConfigInvalid))
		})
	}
}

func TestConditionsFilteredByMode(t *testing.T) {
	p := validParams()
	p.ShortEntry = &Condition{}
	p.ShortExit = &Condition{}

	conds := p.Conditions()
	assert.Contains(t, conds, LongEntry)
	assert.NotContains(t, conds, ShortEntry, "short conditions inactive in LONG mode")

	p.Mode = ModeBoth
	conds = p.Conditions()
	assert.Contains(t, conds, ShortEntry)
	assert.Contains(t, conds, ShortExit)
}

func TestValueFactorsCollected(t *testing.T) {
	rsi := &indicator.Config{Type: indicator.TypeRSIAbove, Resolution: 60, Params: map[string]float64{"period": 14}}
	p := validParams()
	p.PositionSize = ValueConfig{Kind: Dyn, Value: 0.5, ValueFactor: rsi}
	p.LongEntry = &Condition{StopLoss: &ValueConfig{Kind: Dyn, Value: 0.1, ValueFactor: rsi}}

	factors := p.ValueFactors()
	assert.Len(t, factors, 1, "identical factors deduplicate")
}

func TestConditionTypeHelpers(t *testing.T) {
	assert.True(t, LongEntry.IsEntry())
	assert.False(t, ShortExit.IsEntry())
	assert.Equal(t, Long, LongExit.Direction())
	assert.Equal(t, Short, ShortEntry.Direction())
}
