// Package indicator implements technical indicators over aligned float64
// series. Every function returns a slice of the same length as its input;
// entries inside an indicator's warm-up window are NaN.
package indicator

import "math"

// Default parameters used when a reference omits them.
const (
	DefaultSMAPeriod       = 20
	DefaultEMAPeriod       = 20
	DefaultRSIPeriod       = 14
	DefaultMACDFast        = 12
	DefaultMACDSlow        = 26
	DefaultMACDSignal      = 9
	DefaultBollingerPeriod = 20
	DefaultBollingerK      = 2.0
	DefaultATRPeriod       = 14
	DefaultStochK          = 14
	DefaultStochSlowK      = 3
	DefaultStochD          = 3
	DefaultWillRPeriod     = 14
	DefaultADXPeriod       = 14

	// DefaultRSISaturation is the RSI reported when the average loss is
	// zero and the ratio is undefined.
	DefaultRSISaturation = 50.0
)

// Defined reports whether v is a usable value.
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// mask overwrites the first lookback entries of s with NaN.
func mask(s []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(s); i++ {
		s[i] = math.NaN()
	}
	return s
}
