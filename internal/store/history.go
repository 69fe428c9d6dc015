package store

import (
	"context"
	"fmt"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/strategy"
)

var _ strategy.HistoryProvider = (*BarHistory)(nil)

// BarHistory serves backtest history from a BarStore for one market.
type BarHistory struct {
	bars   BarStore
	market string
}

// NewBarHistory returns a HistoryProvider over bars in market.
func NewBarHistory(bars BarStore, market string) *BarHistory {
	return &BarHistory{bars: bars, market: market}
}

// GetHistory returns bars in [start, end]. Read failures and empty results
// are reported as domain.ErrDataUnavailable.
func (h *BarHistory) GetHistory(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	bars, err := h.bars.ReadBars(ctx, h.market, tf, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", symbol, tf, domain.ErrDataUnavailable, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s %s %s..%s: %w", symbol, tf,
			start.Format("2006-01-02"), end.Format("2006-01-02"), domain.ErrDataUnavailable)
	}
	return bars, nil
}
