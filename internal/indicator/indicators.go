package indicator

import (
	"math"

	"backtest-engine/internal/errs"
)

// Signaler evaluates a boolean signal over a full chart. Position i of
// the result refers to the candle at position i; the first Warmup()
// positions are not meaningful and are forced to false by the
// pre-calculator.
type Signaler interface {
	Warmup() int
	Evaluate(pts ChartPoints) ([]bool, error)
}

// Valuer produces a raw numeric series, used to modulate DYN value
// configs at trade entry. Values follow the indicator's native scale
// (oscillators are 0..100).
type Valuer interface {
	Warmup() int
	Values(pts ChartPoints) ([]float64, error)
}

// Indicator type tags.
const (
	TypeEMACrossAbove      = "ema_cross_above"
	TypeEMACrossBelow      = "ema_cross_below"
	TypeSMACrossAbove      = "sma_cross_above"
	TypeSMACrossBelow      = "sma_cross_below"
	TypeRSIAbove           = "rsi_above"
	TypeRSIBelow           = "rsi_below"
	TypeMACDBullish        = "macd_bullish"
	TypeMACDBearish        = "macd_bearish"
	TypePriceAboveEMA      = "price_above_ema"
	TypePriceBelowEMA      = "price_below_ema"
	TypeBollingerLower     = "bollinger_lower_touch"
	TypeBollingerUpper     = "bollinger_upper_touch"
	TypeMomentumPositive   = "momentum_positive"
	TypeMomentumNegative   = "momentum_negative"
	TypeVolumeSpike        = "volume_spike"
	TypeStochasticAbove    = "stochastic_above"
	TypeStochasticBelow    = "stochastic_below"
)

// New builds the evaluator for a config. Unknown types fail with
// ConfigInvalid so validation catches them before the pipeline starts.
func New(cfg Config) (Signaler, error) {
	switch cfg.Type {
	case TypeEMACrossAbove, TypeEMACrossBelow, TypeSMACrossAbove, TypeSMACrossBelow:
		return &maCross{
			fast:   cfg.intParam("fast", 9),
			slow:   cfg.intParam("slow", 21),
			ema:    cfg.Type == TypeEMACrossAbove || cfg.Type == TypeEMACrossBelow,
			above:  cfg.Type == TypeEMACrossAbove || cfg.Type == TypeSMACrossAbove,
		}, nil
	case TypeRSIAbove, TypeRSIBelow:
		return &rsiThreshold{
			period:    cfg.intParam("period", 14),
			threshold: cfg.param("threshold", 50),
			above:     cfg.Type == TypeRSIAbove,
		}, nil
	case TypeMACDBullish, TypeMACDBearish:
		return &macdCross{
			fast:    cfg.intParam("fast", 12),
			slow:    cfg.intParam("slow", 26),
			signal:  cfg.intParam("signal", 9),
			bullish: cfg.Type == TypeMACDBullish,
		}, nil
	case TypePriceAboveEMA, TypePriceBelowEMA:
		return &priceVsEMA{
			period: cfg.intParam("period", 20),
			above:  cfg.Type == TypePriceAboveEMA,
		}, nil
	case TypeBollingerLower, TypeBollingerUpper:
		return &bollingerTouch{
			period: cfg.intParam("period", 20),
			mult:   cfg.param("stddev", 2),
			lower:  cfg.Type == TypeBollingerLower,
		}, nil
	case TypeMomentumPositive, TypeMomentumNegative:
		return &momentum{
			period:   cfg.intParam("period", 10),
			positive: cfg.Type == TypeMomentumPositive,
		}, nil
	case TypeVolumeSpike:
		return &volumeSpike{
			period: cfg.intParam("period", 20),
			mult:   cfg.param("multiplier", 2),
		}, nil
	case TypeStochasticAbove, TypeStochasticBelow:
		return &stochThreshold{
			kPeriod:   cfg.intParam("k_period", 14),
			threshold: cfg.param("threshold", 50),
			above:     cfg.Type == TypeStochasticAbove,
		}, nil
	}
	return nil, errs.Newf(errs.ConfigInvalid, "unknown indicator type %q", cfg.Type)
}

// NewValuer builds the numeric evaluator for configs usable as DYN
// value factors. Only oscillators with a bounded scale qualify.
func NewValuer(cfg Config) (Valuer, error) {
	switch cfg.Type {
	case TypeRSIAbove, TypeRSIBelow:
		return &rsiThreshold{period: cfg.intParam("period", 14)}, nil
	case TypeStochasticAbove, TypeStochasticBelow:
		return &stochThreshold{kPeriod: cfg.intParam("k_period", 14)}, nil
	}
	return nil, errs.Newf(errs.ConfigInvalid,
		"indicator type %q cannot serve as a value factor", cfg.Type)
}

type maCross struct {
	fast, slow int
	ema        bool
	above      bool
}

func (m *maCross) Warmup() int { return maxInt(m.fast, m.slow) }

func (m *maCross) Evaluate(pts ChartPoints) ([]bool, error) {
	if m.fast <= 0 || m.slow <= 0 || m.fast >= m.slow {
		return nil, errs.Newf(errs.IndicatorEvaluationFailed,
			"ma cross requires 0 < fast < slow, got fast=%d slow=%d", m.fast, m.slow)
	}
	var fast, slow []float64
	if m.ema {
		fast = emaSeries(pts.Close, m.fast)
		slow = emaSeries(pts.Close, m.slow)
	} else {
		fast = smaSeries(pts.Close, m.fast)
		slow = smaSeries(pts.Close, m.slow)
	}
	return compareSeries(fast, slow, m.above), nil
}

type rsiThreshold struct {
	period    int
	threshold float64
	above     bool
}

func (r *rsiThreshold) Warmup() int { return r.period + 1 }

func (r *rsiThreshold) Evaluate(pts ChartPoints) ([]bool, error) {
	if r.period <= 0 {
		return nil, errs.New(errs.IndicatorEvaluationFailed, "rsi period must be positive")
	}
	rsi := rsiSeries(pts.Close, r.period)
	out := make([]bool, len(rsi))
	for i, v := range rsi {
		if math.IsNaN(v) {
			continue
		}
		if r.above {
			out[i] = v > r.threshold
		} else {
			out[i] = v < r.threshold
		}
	}
	return out, nil
}

func (r *rsiThreshold) Values(pts ChartPoints) ([]float64, error) {
	if r.period <= 0 {
		return nil, errs.New(errs.IndicatorEvaluationFailed, "rsi period must be positive")
	}
	return rsiSeries(pts.Close, r.period), nil
}

type macdCross struct {
	fast, slow, signal int
	bullish            bool
}

func (m *macdCross) Warmup() int { return m.slow + m.signal }

func (m *macdCross) Evaluate(pts ChartPoints) ([]bool, error) {
	if m.fast <= 0 || m.slow <= m.fast || m.signal <= 0 {
		return nil, errs.New(errs.IndicatorEvaluationFailed, "macd requires 0 < fast < slow and signal > 0")
	}
	macd, signalLine := macdSeries(pts.Close, m.fast, m.slow, m.signal)
	return compareSeries(macd, signalLine, m.bullish), nil
}

type priceVsEMA struct {
	period int
	above  bool
}

func (p *priceVsEMA) Warmup() int { return p.period }

func (p *priceVsEMA) Evaluate(pts ChartPoints) ([]bool, error) {
	if p.period <= 0 {
		return nil, errs.New(errs.IndicatorEvaluationFailed, "ema period must be positive")
	}
	ema := emaSeries(pts.Close, p.period)
	return compareSeries(pts.Close, ema, p.above), nil
}

type bollingerTouch struct {
	period int
	mult   float64
	lower  bool
}

func (b *bollingerTouch) Warmup() int { return b.period }

func (b *bollingerTouch) Evaluate(pts ChartPoints) ([]bool, error) {
	if b.period <= 1 || b.mult <= 0 {
		return nil, errs.New(errs.IndicatorEvaluationFailed, "bollinger requires period > 1 and stddev > 0")
	}
	upper, lower := bollingerSeries(pts.Close, b.period, b.mult)
	out := make([]bool, pts.Len())
	for i := range out {
		if b.lower {
			if !math.IsNaN(lower[i]) {
				out[i] = pts.Close[i] <= lower[i]
			}
		} else {
			if !math.IsNaN(upper[i]) {
				out[i] = pts.Close[i] >= upper[i]
			}
		}
	}
	return out, nil
}

type momentum struct {
	period   int
	positive bool
}

func (m *momentum) Warmup() int { return m.period }

func (m *momentum) Evaluate(pts ChartPoints) ([]bool, error) {
	if m.period <= 0 {
		return nil, errs.New(errs.IndicatorEvaluationFailed, "momentum period must be positive")
	}
	out := make([]bool, pts.Len())
	for i := m.period; i < pts.Len(); i++ {
		diff := pts.Close[i] - pts.Close[i-m.period]
		if m.positive {
			out[i] = diff > 0
		} else {
			out[i] = diff < 0
		}
	}
	return out, nil
}

type volumeSpike struct {
	period int
	mult   float64
}

func (v *volumeSpike) Warmup() int { return v.period }

func (v *volumeSpike) Evaluate(pts ChartPoints) ([]bool, error) {
	if v.period <= 0 || v.mult <= 0 {
		return nil, errs.New(errs.IndicatorEvaluationFailed, "volume spike requires period > 0 and multiplier > 0")
	}
	avg := smaSeries(pts.Volume, v.period)
	out := make([]bool, pts.Len())
	for i := range out {
		if !math.IsNaN(avg[i]) && avg[i] > 0 {
			out[i] = pts.Volume[i] > avg[i]*v.mult
		}
	}
	return out, nil
}

type stochThreshold struct {
	kPeriod   int
	threshold float64
	above     bool
}

func (s *stochThreshold) Warmup() int { return s.kPeriod }

func (s *stochThreshold) Evaluate(pts ChartPoints) ([]bool, error) {
	if s.kPeriod <= 0 {
		return nil, errs.New(errs.IndicatorEvaluationFailed, "stochastic k period must be positive")
	}
	k := stochasticKSeries(pts, s.kPeriod)
	out := make([]bool, len(k))
	for i, v := range k {
		if math.IsNaN(v) {
			continue
		}
		if s.above {
			out[i] = v > s.threshold
		} else {
			out[i] = v < s.threshold
		}
	}
	return out, nil
}

func (s *stochThreshold) Values(pts ChartPoints) ([]float64, error) {
	if s.kPeriod <= 0 {
		return nil, errs.New(errs.IndicatorEvaluationFailed, "stochastic k period must be positive")
	}
	return stochasticKSeries(pts, s.kPeriod), nil
}

// compareSeries emits a > b (or a < b) where both sides are defined.
func compareSeries(a, b []float64, above bool) []bool {
	out := make([]bool, len(a))
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		if above {
			out[i] = a[i] > b[i]
		} else {
			out[i] = a[i] < b[i]
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
