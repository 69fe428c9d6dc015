// Package builtins provides rule-based strategy definitions that ship with
// strategylab.
package builtins

import (
	"fmt"

	"strategylab/internal/domain"
	"strategylab/internal/strategy"
)

// SMACross buys when the short SMA crosses above the long SMA and sells when
// it crosses back below.
func SMACross(short, long int) domain.Strategy {
	fast := fmt.Sprintf("sma_%d", short)
	slow := fmt.Sprintf("$sma_%d", long)
	return domain.Strategy{
		ID:          "sma-cross",
		Name:        fmt.Sprintf("SMA %d/%d crossover", short, long),
		Description: "Trend following on a fast/slow simple moving average crossover.",
		Entry: domain.RuleSet{
			Name:       "golden-cross",
			Conditions: []domain.Condition{{Indicator: fast, Operator: "crosses_above", Value: slow}},
		},
		Exits: []domain.RuleSet{{
			Name:       "death-cross",
			Conditions: []domain.Condition{{Indicator: fast, Operator: "crosses_below", Value: slow}},
		}},
		Timeframe: string(domain.Timeframe1Day),
	}
}

// RSIReversion buys when RSI recovers above the oversold level and sells
// once it exceeds the overbought level.
func RSIReversion(period int, oversold, overbought float64) domain.Strategy {
	rsi := fmt.Sprintf("rsi_%d", period)
	return domain.Strategy{
		ID:          "rsi-reversion",
		Name:        fmt.Sprintf("RSI(%d) %.0f/%.0f reversion", period, oversold, overbought),
		Description: "Mean reversion on RSI leaving oversold territory.",
		Entry: domain.RuleSet{
			Name:       "oversold-recovery",
			Conditions: []domain.Condition{{Indicator: rsi, Operator: "crosses_above", Value: oversold}},
		},
		Exits: []domain.RuleSet{{
			Name:       "overbought",
			Conditions: []domain.Condition{{Indicator: rsi, Operator: "gte", Value: overbought}},
		}},
		Timeframe: string(domain.Timeframe1Day),
	}
}

// BollingerRebound buys when the close crosses back above the lower band
// with MACD momentum turning up, and exits at the middle band or when the
// close falls below the lower band again.
func BollingerRebound(period int) domain.Strategy {
	lower := fmt.Sprintf("$bb_%d_lower", period)
	middle := fmt.Sprintf("$bb_%d_middle", period)
	return domain.Strategy{
		ID:          "bollinger-rebound",
		Name:        fmt.Sprintf("Bollinger(%d) rebound", period),
		Description: "Buys lower band rebounds confirmed by a rising MACD histogram.",
		Entry: domain.RuleSet{
			Name:  "lower-band-rebound",
			Logic: "and",
			Conditions: []domain.Condition{
				{Indicator: "close", Operator: "crosses_above", Value: lower},
				{Indicator: "macd_histogram", Operator: "gt", Value: "$macd_signal"},
			},
		},
		Exits: []domain.RuleSet{
			{
				Name:       "middle-band",
				Conditions: []domain.Condition{{Indicator: "close", Operator: "gte", Value: middle}},
			},
			{
				Name:       "breakdown",
				Conditions: []domain.Condition{{Indicator: "close", Operator: "crosses_below", Value: lower}},
			},
		},
		Timeframe: string(domain.Timeframe1Day),
	}
}

// Defaults returns every built-in strategy with its standard parameters.
func Defaults() []domain.Strategy {
	return []domain.Strategy{
		SMACross(20, 50),
		RSIReversion(14, 30, 70),
		BollingerRebound(20),
	}
}

// Register adds every default strategy to r.
func Register(r *strategy.Registry) error {
	for _, s := range Defaults() {
		if err := r.Register(s); err != nil {
			return fmt.Errorf("registering %s: %w", s.ID, err)
		}
	}
	return nil
}
