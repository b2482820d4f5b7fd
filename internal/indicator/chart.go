package indicator

import "backtest-engine/internal/candle"

// ChartPoints is the column view of a candle series that evaluators
// consume.
type ChartPoints struct {
	Buckets []int64
	Open    []float64
	High    []float64
	Low     []float64
	Close   []float64
	Volume  []float64
}

// PointsFromCandles builds the column view from a candle slice.
func PointsFromCandles(candles []candle.Candle) ChartPoints {
	pts := ChartPoints{
		Buckets: make([]int64, len(candles)),
		Open:    make([]float64, len(candles)),
		High:    make([]float64, len(candles)),
		Low:     make([]float64, len(candles)),
		Close:   make([]float64, len(candles)),
		Volume:  make([]float64, len(candles)),
	}
	for i, c := range candles {
		pts.Buckets[i] = c.Bucket
		pts.Open[i] = c.Open
		pts.High[i] = c.High
		pts.Low[i] = c.Low
		pts.Close[i] = c.Close
		pts.Volume[i] = c.Volume
	}
	return pts
}

// Len returns the number of points.
func (p ChartPoints) Len() int { return len(p.Close) }
