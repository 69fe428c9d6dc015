package indicator

import "github.com/markcheno/go-talib"

// BollingerResult holds the three aligned band series.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger returns SMA(period) plus and minus k rolling population standard
// deviations. The first period-1 entries of every band are undefined.
func Bollinger(x []float64, period int, k float64) BollingerResult {
	n := len(x)
	if period < 1 || n < period {
		return BollingerResult{Upper: nanSeries(n), Middle: nanSeries(n), Lower: nanSeries(n)}
	}
	if period == 1 {
		// A single bar has zero deviation.
		mid := SMA(x, 1)
		return BollingerResult{
			Upper:  append([]float64(nil), mid...),
			Middle: mid,
			Lower:  append([]float64(nil), mid...),
		}
	}
	upper, middle, lower := talib.BBands(x, period, k, k, talib.SMA)
	lookback := period - 1
	return BollingerResult{
		Upper:  mask(upper, lookback),
		Middle: mask(middle, lookback),
		Lower:  mask(lower, lookback),
	}
}
