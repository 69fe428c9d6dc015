// Package performance reduces a trade list and equity curve into summary
// statistics.
package performance

import (
	"math"

	"strategylab/internal/domain"
)

// Default annualisation inputs.
const (
	DefaultRiskFreeRate   = 0.02
	DefaultPeriodsPerYear = 252
)

// Options controls Sharpe ratio annualisation.
type Options struct {
	RiskFreeRate   float64
	PeriodsPerYear float64
}

// DefaultOptions returns a 2% risk-free rate over 252 periods per year.
func DefaultOptions() Options {
	return Options{RiskFreeRate: DefaultRiskFreeRate, PeriodsPerYear: DefaultPeriodsPerYear}
}

// Analyze computes all metrics for one backtest.
func Analyze(initial, final float64, trades []domain.Trade, curve []domain.EquityPoint, opts Options) domain.Metrics {
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = DefaultPeriodsPerYear
	}
	m := domain.Metrics{
		TotalReturn:  TotalReturn(initial, final),
		TotalTrades:  len(trades),
		MaxDrawdown:  MaxDrawdown(curve),
		SharpeRatio:  SharpeRatio(curve, opts.RiskFreeRate, opts.PeriodsPerYear),
		ProfitFactor: ProfitFactor(trades),
	}

	var net float64
	for _, t := range trades {
		net += t.PnL
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			m.GrossProfit += t.PnL
			m.LargestWin = math.Max(m.LargestWin, t.PnL)
		case t.PnL < 0:
			m.LosingTrades++
			m.GrossLoss += t.PnL
			m.LargestLoss = math.Min(m.LargestLoss, t.PnL)
		}
	}
	if len(trades) > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(len(trades)) * 100
		m.AverageTrade = net / float64(len(trades))
	}
	return m
}

// TotalReturn returns the percentage change from initial to final. It is 0
// for a non-positive initial capital.
func TotalReturn(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (final - initial) / initial * 100
}

// MaxDrawdown returns the largest peak-to-trough decline of the curve, in
// percent.
func MaxDrawdown(curve []domain.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	var maxDD float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-p.Equity)/peak*100)
		}
	}
	return maxDD
}

// SharpeRatio annualises the mean and population standard deviation of the
// curve's simple returns. Returns are taken only where the previous equity
// is positive. It is 0 for fewer than two points or zero variance.
func SharpeRatio(curve []domain.EquityPoint, riskFree, periodsPerYear float64) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev > 0 {
			returns = append(returns, (curve[i].Equity-prev)/prev)
		}
	}
	if len(returns) == 0 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)))
	if std == 0 {
		return 0
	}

	annMean := mean * periodsPerYear
	annStd := std * math.Sqrt(periodsPerYear)
	return (annMean - riskFree) / annStd
}

// ProfitFactor returns gross profit over absolute gross loss. It is 0 when
// there are no losing trades.
func ProfitFactor(trades []domain.Trade) float64 {
	var profit, loss float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			profit += t.PnL
		case t.PnL < 0:
			loss += -t.PnL
		}
	}
	if loss == 0 {
		return 0
	}
	return profit / loss
}
