package indicator

// RSI returns the Relative Strength Index using Wilder smoothing and the
// default saturation value.
func RSI(x []float64, period int) []float64 {
	return RSIWithSaturation(x, period, DefaultRSISaturation)
}

// RSIWithSaturation is RSI with an explicit value for bars whose average
// loss is zero. The smoothing is seeded at index period with the mean of the
// first period gains and losses; earlier entries are undefined.
func RSIWithSaturation(x []float64, period int, saturation float64) []float64 {
	out := nanSeries(len(x))
	if period < 1 || len(x) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		g, l := change(x[i-1], x[i])
		avgGain += g
		avgLoss += l
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss, saturation)

	p := float64(period)
	for i := period + 1; i < len(x); i++ {
		g, l := change(x[i-1], x[i])
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
		out[i] = rsiValue(avgGain, avgLoss, saturation)
	}
	return out
}

func change(prev, cur float64) (gain, loss float64) {
	d := cur - prev
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

func rsiValue(avgGain, avgLoss, saturation float64) float64 {
	if avgLoss == 0 {
		return saturation
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds the three aligned MACD outputs.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD returns EMA(fast) - EMA(slow), its signal EMA and the histogram.
func MACD(x []float64, fast, slow, signal int) MACDResult {
	fastEMA := EMA(x, fast)
	slowEMA := EMA(x, slow)
	line := make([]float64, len(x))
	for i := range x {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(line, signal)
	hist := make([]float64, len(x))
	for i := range x {
		hist[i] = line[i] - sig[i]
	}
	return MACDResult{Line: line, Signal: sig, Histogram: hist}
}
