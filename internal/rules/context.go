package rules

import (
	"fmt"

	"strategylab/internal/domain"
	"strategylab/internal/indicator"
)

// Context evaluates references against one symbol's series and memoizes
// computed indicator series by canonical key. A Context must not be reused
// across symbols; create a new one for every pass.
type Context struct {
	series     *domain.Series
	cache      map[string][]float64
	saturation float64
}

// ContextOption customises a Context.
type ContextOption func(*Context)

// WithRSISaturation sets the RSI value reported when the average loss is
// zero.
func WithRSISaturation(v float64) ContextOption {
	return func(c *Context) { c.saturation = v }
}

// NewContext returns an evaluation context over s.
func NewContext(s *domain.Series, opts ...ContextOption) *Context {
	c := &Context{
		series:     s,
		cache:      make(map[string][]float64),
		saturation: indicator.DefaultRSISaturation,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Series returns the series the context evaluates.
func (c *Context) Series() *domain.Series { return c.series }

// Value resolves ref at bar idx.
func (c *Context) Value(ref Ref, idx int) (float64, error) {
	if idx < 0 {
		return 0, fmt.Errorf("%s at bar %d: %w", ref.Key(), idx, domain.ErrInsufficientHistory)
	}
	if idx >= c.series.Len() {
		return 0, fmt.Errorf("%s at bar %d of %d: %w", ref.Key(), idx, c.series.Len(), domain.ErrIndexOutOfRange)
	}
	vals := c.lookup(ref)
	if vals == nil {
		return 0, fmt.Errorf("%s: %w", ref.Key(), domain.ErrUnknownIndicator)
	}
	v := vals[idx]
	if !indicator.Defined(v) {
		return 0, fmt.Errorf("%s undefined at bar %d: %w", ref.Key(), idx, domain.ErrInsufficientHistory)
	}
	return v, nil
}

func (c *Context) lookup(ref Ref) []float64 {
	key := ref.Key()
	if s, ok := c.cache[key]; ok {
		return s
	}
	for comp, s := range c.compute(ref) {
		r := ref
		r.Component = comp
		c.cache[r.Key()] = s
	}
	return c.cache[key]
}

// compute returns every component series for ref's family and period.
func (c *Context) compute(ref Ref) map[Component][]float64 {
	s := c.series
	one := func(v []float64) map[Component][]float64 {
		return map[Component][]float64{ComponentNone: v}
	}

	switch ref.Family {
	case FamilyClose:
		return one(s.Closes())
	case FamilyOpen:
		return one(s.Opens())
	case FamilyHigh:
		return one(s.Highs())
	case FamilyLow:
		return one(s.Lows())
	case FamilyVolume:
		return one(s.Volumes())
	case FamilySMA:
		return one(indicator.SMA(c.base(), ref.Period))
	case FamilyEMA:
		return one(indicator.EMA(c.base(), ref.Period))
	case FamilyRSI:
		return one(indicator.RSIWithSaturation(c.base(), ref.Period, c.saturation))
	case FamilyMACD:
		m := indicator.MACD(c.base(), indicator.DefaultMACDFast, indicator.DefaultMACDSlow, indicator.DefaultMACDSignal)
		return map[Component][]float64{
			ComponentLine:      m.Line,
			ComponentSignal:    m.Signal,
			ComponentHistogram: m.Histogram,
		}
	case FamilyBollinger:
		bb := indicator.Bollinger(c.base(), ref.Period, indicator.DefaultBollingerK)
		return map[Component][]float64{
			ComponentUpper:  bb.Upper,
			ComponentMiddle: bb.Middle,
			ComponentLower:  bb.Lower,
		}
	case FamilyATR:
		return one(indicator.ATR(s.Highs(), s.Lows(), s.Closes(), ref.Period))
	case FamilyStochastic:
		st := indicator.Stochastic(s.Highs(), s.Lows(), s.Closes(), ref.Period, indicator.DefaultStochSlowK, indicator.DefaultStochD)
		return map[Component][]float64{ComponentK: st.K, ComponentD: st.D}
	case FamilyWilliamsR:
		return one(indicator.WilliamsR(s.Highs(), s.Lows(), s.Closes(), ref.Period))
	case FamilyADX:
		return one(indicator.ADX(s.Highs(), s.Lows(), s.Closes(), ref.Period))
	case FamilyOBV:
		return one(indicator.OBV(s.Closes(), s.Volumes()))
	case FamilyVWAP:
		return one(indicator.VWAP(s.Highs(), s.Lows(), s.Closes(), s.Volumes()))
	}
	panic(fmt.Sprintf("rules: unhandled indicator family %v", ref.Family))
}

// base is the close column shared by every close-derived indicator.
func (c *Context) base() []float64 {
	key := Ref{Family: FamilyClose}.Key()
	if s, ok := c.cache[key]; ok {
		return s
	}
	s := c.series.Closes()
	c.cache[key] = s
	return s
}
