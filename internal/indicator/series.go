package indicator

import "math"

// Series math shared by the evaluators. Each function returns a slice
// the same length as the input; positions before the warmup hold NaN so
// downstream comparisons come out false.

func smaSeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func emaSeries(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	// seed with the SMA of the first period, then roll forward
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	ema := seed / float64(period)
	out[period-1] = ema
	mult := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = values[i]*mult + ema*(1-mult)
		out[i] = ema
	}
	return out
}

// rsiSeries uses Wilder smoothing over close-to-close changes.
func rsiSeries(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) < period+1 {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func macdSeries(closes []float64, fast, slow, signal int) (macd, signalLine []float64) {
	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)
	macd = nanSlice(len(closes))
	for i := range closes {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	// the signal line is an EMA over the defined region of the macd line
	signalLine = nanSlice(len(closes))
	start := firstDefined(macd)
	if start < 0 || len(macd)-start < signal {
		return macd, signalLine
	}
	sub := emaSeries(macd[start:], signal)
	copy(signalLine[start:], sub)
	return macd, signalLine
}

func bollingerSeries(closes []float64, period int, mult float64) (upper, lower []float64) {
	mid := smaSeries(closes, period)
	upper = nanSlice(len(closes))
	lower = nanSlice(len(closes))
	if period <= 1 || len(closes) < period {
		return upper, lower
	}
	for i := period - 1; i < len(closes); i++ {
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mid[i]
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = mid[i] + mult*sd
		lower[i] = mid[i] - mult*sd
	}
	return upper, lower
}

func stochasticKSeries(pts ChartPoints, kPeriod int) []float64 {
	out := nanSlice(pts.Len())
	if kPeriod <= 0 || pts.Len() < kPeriod {
		return out
	}
	for i := kPeriod - 1; i < pts.Len(); i++ {
		hi := pts.High[i]
		lo := pts.Low[i]
		for j := i - kPeriod + 1; j <= i; j++ {
			if pts.High[j] > hi {
				hi = pts.High[j]
			}
			if pts.Low[j] < lo {
				lo = pts.Low[j]
			}
		}
		if hi == lo {
			out[i] = 50
			continue
		}
		out[i] = (pts.Close[i] - lo) / (hi - lo) * 100
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func firstDefined(values []float64) int {
	for i, v := range values {
		if !math.IsNaN(v) {
			return i
		}
	}
	return -1
}
