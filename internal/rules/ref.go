// Package rules compiles declarative conditions into typed operands and
// evaluates them bar by bar against a single symbol's series.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"strategylab/internal/domain"
	"strategylab/internal/indicator"
)

// Family selects a raw price field or an indicator family.
type Family int

const (
	FamilyClose Family = iota
	FamilyOpen
	FamilyHigh
	FamilyLow
	FamilyVolume
	FamilySMA
	FamilyEMA
	FamilyRSI
	FamilyMACD
	FamilyBollinger
	FamilyATR
	FamilyStochastic
	FamilyWilliamsR
	FamilyADX
	FamilyOBV
	FamilyVWAP
)

var familyNames = map[string]Family{
	"close":  FamilyClose,
	"open":   FamilyOpen,
	"high":   FamilyHigh,
	"low":    FamilyLow,
	"volume": FamilyVolume,
	"sma":    FamilySMA,
	"ema":    FamilyEMA,
	"rsi":    FamilyRSI,
	"macd":   FamilyMACD,
	"bb":     FamilyBollinger,
	"atr":    FamilyATR,
	"stoch":  FamilyStochastic,
	"willr":  FamilyWilliamsR,
	"adx":    FamilyADX,
	"obv":    FamilyOBV,
	"vwap":   FamilyVWAP,
}

var familyTokens = [...]string{
	FamilyClose:      "close",
	FamilyOpen:       "open",
	FamilyHigh:       "high",
	FamilyLow:        "low",
	FamilyVolume:     "volume",
	FamilySMA:        "sma",
	FamilyEMA:        "ema",
	FamilyRSI:        "rsi",
	FamilyMACD:       "macd",
	FamilyBollinger:  "bb",
	FamilyATR:        "atr",
	FamilyStochastic: "stoch",
	FamilyWilliamsR:  "willr",
	FamilyADX:        "adx",
	FamilyOBV:        "obv",
	FamilyVWAP:       "vwap",
}

// String returns the token used in indicator names.
func (f Family) String() string {
	if f < 0 || int(f) >= len(familyTokens) {
		return fmt.Sprintf("family(%d)", int(f))
	}
	return familyTokens[f]
}

// Component selects one output of a multi-series indicator.
type Component int

const (
	ComponentNone Component = iota
	ComponentLine
	ComponentSignal
	ComponentHistogram
	ComponentUpper
	ComponentMiddle
	ComponentLower
	ComponentK
	ComponentD
)

var componentNames = map[Component]string{
	ComponentNone:      "",
	ComponentLine:      "line",
	ComponentSignal:    "signal",
	ComponentHistogram: "histogram",
	ComponentUpper:     "upper",
	ComponentMiddle:    "middle",
	ComponentLower:     "lower",
	ComponentK:         "k",
	ComponentD:         "d",
}

// String returns the component token.
func (c Component) String() string { return componentNames[c] }

// Ref is a parsed indicator reference such as "sma_50" or "bb_upper".
type Ref struct {
	Family    Family
	Period    int
	Component Component
}

// ParseRef parses an indicator name. Names are split on "_": the first
// token picks the family, a numeric token sets the period and any other
// token selects a component.
func ParseRef(name string) (Ref, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(name)), "_")
	fam, ok := familyNames[parts[0]]
	if !ok {
		return Ref{}, fmt.Errorf("%q: %w", name, domain.ErrUnknownIndicator)
	}
	ref := Ref{Family: fam}
	args := parts[1:]

	switch fam {
	case FamilyClose, FamilyOpen, FamilyHigh, FamilyLow, FamilyVolume, FamilyOBV, FamilyVWAP:
		if len(args) > 0 {
			return Ref{}, fmt.Errorf("%q takes no arguments: %w", name, domain.ErrUnknownIndicator)
		}

	case FamilySMA, FamilyEMA, FamilyRSI, FamilyATR, FamilyWilliamsR, FamilyADX:
		ref.Period = defaultPeriod(fam)
		if len(args) > 1 {
			return Ref{}, fmt.Errorf("%q: %w", name, domain.ErrUnknownIndicator)
		}
		if len(args) == 1 {
			p, err := parsePeriod(name, args[0])
			if err != nil {
				return Ref{}, err
			}
			ref.Period = p
		}

	case FamilyMACD:
		ref.Component = ComponentLine
		if len(args) > 1 {
			return Ref{}, fmt.Errorf("%q: %w", name, domain.ErrUnknownIndicator)
		}
		if len(args) == 1 {
			c, err := parseComponent(name, args[0], ComponentLine, ComponentSignal, ComponentHistogram)
			if err != nil {
				return Ref{}, err
			}
			ref.Component = c
		}

	case FamilyBollinger:
		ref.Period = indicator.DefaultBollingerPeriod
		ref.Component = ComponentMiddle
		for _, a := range args {
			if _, err := strconv.Atoi(a); err == nil {
				p, err := parsePeriod(name, a)
				if err != nil {
					return Ref{}, err
				}
				ref.Period = p
				continue
			}
			c, err := parseComponent(name, a, ComponentUpper, ComponentMiddle, ComponentLower)
			if err != nil {
				return Ref{}, err
			}
			ref.Component = c
		}

	case FamilyStochastic:
		ref.Period = indicator.DefaultStochK
		ref.Component = ComponentK
		if len(args) > 1 {
			return Ref{}, fmt.Errorf("%q: %w", name, domain.ErrUnknownIndicator)
		}
		if len(args) == 1 {
			c, err := parseComponent(name, args[0], ComponentK, ComponentD)
			if err != nil {
				return Ref{}, err
			}
			ref.Component = c
		}
	}
	return ref, nil
}

func defaultPeriod(f Family) int {
	switch f {
	case FamilySMA:
		return indicator.DefaultSMAPeriod
	case FamilyEMA:
		return indicator.DefaultEMAPeriod
	case FamilyRSI:
		return indicator.DefaultRSIPeriod
	case FamilyATR:
		return indicator.DefaultATRPeriod
	case FamilyWilliamsR:
		return indicator.DefaultWillRPeriod
	case FamilyADX:
		return indicator.DefaultADXPeriod
	}
	return 0
}

func parsePeriod(name, tok string) (int, error) {
	p, err := strconv.Atoi(tok)
	if err != nil || p < 1 {
		return 0, fmt.Errorf("%q: bad period %q: %w", name, tok, domain.ErrUnknownIndicator)
	}
	return p, nil
}

func parseComponent(name, tok string, allowed ...Component) (Component, error) {
	for _, c := range allowed {
		if componentNames[c] == tok {
			return c, nil
		}
	}
	return ComponentNone, fmt.Errorf("%q: unknown component %q: %w", name, tok, domain.ErrUnknownIndicator)
}

// Key returns the canonical cache key. Equivalent spellings such as "sma"
// and "sma_20" share a key.
func (r Ref) Key() string {
	var b strings.Builder
	b.WriteString(r.Family.String())
	if r.Period > 0 {
		b.WriteString("_")
		b.WriteString(strconv.Itoa(r.Period))
	}
	if r.Component != ComponentNone {
		b.WriteString("_")
		b.WriteString(r.Component.String())
	}
	return b.String()
}

// seriesKey identifies the underlying computation, ignoring the component.
func (r Ref) seriesKey() string {
	s := r
	s.Component = ComponentNone
	return s.Key()
}

// Lookback returns the index of the first defined value for this reference.
func (r Ref) Lookback() int {
	switch r.Family {
	case FamilySMA, FamilyBollinger:
		return r.Period - 1
	case FamilyRSI, FamilyATR:
		return r.Period
	case FamilyWilliamsR:
		return r.Period - 1
	case FamilyADX:
		return 2*r.Period - 1
	case FamilyStochastic:
		return r.Period - 1 + indicator.DefaultStochSlowK - 1 + indicator.DefaultStochD - 1
	}
	return 0
}
