package strategy

import (
	"fmt"

	"strategylab/internal/domain"
)

// RiskLimits holds position sizing and fixed exit thresholds. TakeProfit and
// StopLoss are fractions of the entry price; a zero value disables the
// threshold.
type RiskLimits struct {
	PositionFraction float64
	TakeProfit       float64
	StopLoss         float64
}

// DefaultRiskLimits returns 95% sizing with a 5% take-profit and a 2%
// stop-loss.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		PositionFraction: 0.95,
		TakeProfit:       0.05,
		StopLoss:         0.02,
	}
}

// Validate rejects fractions outside (0, 1] and negative thresholds.
func (l RiskLimits) Validate() error {
	if l.PositionFraction <= 0 || l.PositionFraction > 1 {
		return fmt.Errorf("position fraction %v not in (0, 1]", l.PositionFraction)
	}
	if l.TakeProfit < 0 || l.StopLoss < 0 {
		return fmt.Errorf("take profit %v and stop loss %v must be non-negative", l.TakeProfit, l.StopLoss)
	}
	return nil
}

// Size returns the quantity bought with PositionFraction of cash at price.
func (l RiskLimits) Size(cash, price float64) float64 {
	if price <= 0 || cash <= 0 {
		return 0
	}
	return cash * l.PositionFraction / price
}

// ThresholdExit reports whether price breaches a fixed threshold relative
// to entry.
func (l RiskLimits) ThresholdExit(entry, price float64) (domain.ExitReason, bool) {
	if entry <= 0 {
		return "", false
	}
	pnl := (price - entry) / entry
	switch {
	case l.TakeProfit > 0 && pnl >= l.TakeProfit:
		return domain.ExitTakeProfit, true
	case l.StopLoss > 0 && pnl <= -l.StopLoss:
		return domain.ExitStopLoss, true
	}
	return "", false
}
