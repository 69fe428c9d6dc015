package indicator

import "github.com/markcheno/go-talib"

// The functions below delegate to TA-Lib. TA-Lib zero-fills its lookback
// window; those entries are masked to NaN so callers see the same undefined
// convention as the rest of the package. Inputs too short to cover the
// lookback are never passed through.

// ATR returns the Average True Range.
func ATR(high, low, close []float64, period int) []float64 {
	if period < 1 || len(close) <= period {
		return nanSeries(len(close))
	}
	return mask(talib.Atr(high, low, close, period), period)
}

// StochasticResult holds slow %K and %D.
type StochasticResult struct {
	K []float64
	D []float64
}

// Stochastic returns the slow stochastic oscillator using simple moving
// averages for both smoothing steps.
func Stochastic(high, low, close []float64, fastK, slowK, slowD int) StochasticResult {
	lookback := fastK - 1 + slowK - 1 + slowD - 1
	if fastK < 1 || slowK < 1 || slowD < 1 || len(close) <= lookback {
		return StochasticResult{K: nanSeries(len(close)), D: nanSeries(len(close))}
	}
	k, d := talib.Stoch(high, low, close, fastK, slowK, talib.SMA, slowD, talib.SMA)
	return StochasticResult{K: mask(k, lookback), D: mask(d, lookback)}
}

// WilliamsR returns Williams %R in the range [-100, 0].
func WilliamsR(high, low, close []float64, period int) []float64 {
	if period < 1 || len(close) < period {
		return nanSeries(len(close))
	}
	return mask(talib.WillR(high, low, close, period), period-1)
}

// ADX returns the Average Directional Movement Index.
func ADX(high, low, close []float64, period int) []float64 {
	lookback := 2*period - 1
	if period < 1 || len(close) <= lookback {
		return nanSeries(len(close))
	}
	return mask(talib.Adx(high, low, close, period), lookback)
}

// OBV returns On Balance Volume. It is defined from the first bar.
func OBV(close, volume []float64) []float64 {
	if len(close) == 0 {
		return []float64{}
	}
	return talib.Obv(close, volume)
}

// VWAP returns the cumulative volume-weighted typical price from the start
// of the series. Entries are undefined until some volume has traded.
func VWAP(high, low, close, volume []float64) []float64 {
	out := nanSeries(len(close))
	var pv, vol float64
	for i := range close {
		tp := (high[i] + low[i] + close[i]) / 3
		pv += tp * volume[i]
		vol += volume[i]
		if vol > 0 {
			out[i] = pv / vol
		}
	}
	return out
}

