package engine

import (
	"fmt"
	"time"

	"strategylab/internal/domain"
)

// Limits enforces admission rules on submitted backtests. Zero fields are
// not enforced.
type Limits struct {
	// MaxSymbols caps the number of symbols in one run.
	MaxSymbols int
	// MaxCapital caps the starting capital.
	MaxCapital float64
	// MaxSpan caps End - Start.
	MaxSpan time.Duration
}

// NewLimits creates Limits with the specified thresholds.
//
//   - maxSymbols: most symbols a single run may simulate.
//   - maxCapital: largest allowed initial capital.
//   - maxSpan: longest allowed date range.
func NewLimits(maxSymbols int, maxCapital float64, maxSpan time.Duration) *Limits {
	return &Limits{MaxSymbols: maxSymbols, MaxCapital: maxCapital, MaxSpan: maxSpan}
}

// Check evaluates whether req may run against st. Violations wrap
// domain.ErrInvalidRule.
func (l *Limits) Check(st domain.Strategy, req SubmitRequest) error {
	if req.InitialCapital <= 0 {
		return fmt.Errorf("%w: initial capital %v must be positive", domain.ErrInvalidRule, req.InitialCapital)
	}
	if l.MaxCapital > 0 && req.InitialCapital > l.MaxCapital {
		return fmt.Errorf("%w: initial capital %v exceeds %v", domain.ErrInvalidRule, req.InitialCapital, l.MaxCapital)
	}

	if !req.Start.IsZero() && !req.End.IsZero() {
		if req.End.Before(req.Start) {
			return fmt.Errorf("%w: end %s before start %s", domain.ErrInvalidRule,
				req.End.Format(time.DateOnly), req.Start.Format(time.DateOnly))
		}
		if l.MaxSpan > 0 && req.End.Sub(req.Start) > l.MaxSpan {
			return fmt.Errorf("%w: range %s exceeds %s", domain.ErrInvalidRule, req.End.Sub(req.Start), l.MaxSpan)
		}
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = st.Symbols
	}
	if len(symbols) == 0 {
		return fmt.Errorf("%w: no symbols to simulate", domain.ErrInvalidRule)
	}
	if l.MaxSymbols > 0 && len(symbols) > l.MaxSymbols {
		return fmt.Errorf("%w: %d symbols exceeds limit of %d", domain.ErrInvalidRule, len(symbols), l.MaxSymbols)
	}

	if req.Timeframe != "" {
		if _, err := domain.ParseTimeframe(req.Timeframe); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInvalidRule, err)
		}
	}
	return nil
}
