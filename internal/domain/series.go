package domain

import (
	"fmt"
)

// Series is an ordered, validated sequence of bars for one symbol. Bars are
// addressed by integer index; there is no negative or wrap-around indexing.
type Series struct {
	symbol string
	bars   []Bar
}

// NewSeries validates that timestamps are strictly increasing and returns a
// Series over a copy of bars.
func NewSeries(symbol string, bars []Bar) (*Series, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("series %s: bar %d at %s is not after %s",
				symbol, i, bars[i].Timestamp.Format("2006-01-02T15:04:05"),
				bars[i-1].Timestamp.Format("2006-01-02T15:04:05"))
		}
	}
	cp := make([]Bar, len(bars))
	copy(cp, bars)
	return &Series{symbol: symbol, bars: cp}, nil
}

// Symbol returns the symbol the series belongs to.
func (s *Series) Symbol() string { return s.symbol }

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.bars) }

// At returns the bar at index i.
func (s *Series) At(i int) (Bar, error) {
	if i < 0 || i >= len(s.bars) {
		return Bar{}, fmt.Errorf("bar %d of %d: %w", i, len(s.bars), ErrIndexOutOfRange)
	}
	return s.bars[i], nil
}

// Last returns the final bar. ok is false for an empty series.
func (s *Series) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Closes returns the close column.
func (s *Series) Closes() []float64 { return s.column(func(b Bar) float64 { return b.Close }) }

// Opens returns the open column.
func (s *Series) Opens() []float64 { return s.column(func(b Bar) float64 { return b.Open }) }

// Highs returns the high column.
func (s *Series) Highs() []float64 { return s.column(func(b Bar) float64 { return b.High }) }

// Lows returns the low column.
func (s *Series) Lows() []float64 { return s.column(func(b Bar) float64 { return b.Low }) }

// Volumes returns the volume column.
func (s *Series) Volumes() []float64 { return s.column(func(b Bar) float64 { return b.Volume }) }

func (s *Series) column(f func(Bar) float64) []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = f(b)
	}
	return out
}
