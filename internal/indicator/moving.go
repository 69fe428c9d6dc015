package indicator

import "github.com/markcheno/go-talib"

// SMA returns the trailing arithmetic mean over period bars. The first
// period-1 entries are undefined.
func SMA(x []float64, period int) []float64 {
	if period < 1 || len(x) < period {
		return nanSeries(len(x))
	}
	return mask(talib.Sma(x, period), period-1)
}

// EMA returns the exponential moving average with alpha = 2/(period+1),
// seeded with the first input value so every entry is defined.
func EMA(x []float64, period int) []float64 {
	if period < 1 {
		return nanSeries(len(x))
	}
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = x[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}
