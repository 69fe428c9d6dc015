// Package store defines storage interfaces for historical bars, strategy
// definitions and backtest runs, with Parquet and SQLite implementations.
package store

import (
	"context"
	"time"

	"strategylab/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars for one market and timeframe.
	WriteBars(ctx context.Context, market string, tf domain.Timeframe, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end], ordered by time.
	ReadBars(ctx context.Context, market string, tf domain.Timeframe, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols stored for market and tf.
	ListSymbols(ctx context.Context, market string, tf domain.Timeframe) ([]string, error)
}

// StrategyStore persists strategy definitions.
type StrategyStore interface {
	// SaveStrategy inserts or replaces a definition.
	SaveStrategy(ctx context.Context, s domain.Strategy) error

	// GetStrategy returns the definition with the given ID.
	GetStrategy(ctx context.Context, id string) (domain.Strategy, error)

	// ListStrategies returns every definition ordered by ID.
	ListStrategies(ctx context.Context) ([]domain.Strategy, error)
}

// RunStore persists backtest runs and their results.
type RunStore interface {
	// CreateRun inserts a new run.
	CreateRun(ctx context.Context, run *domain.BacktestRun) error

	// UpdateRunStatus moves a run to status, recording errMsg for failures.
	UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, errMsg string, at time.Time) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*domain.BacktestRun, error)

	// ListRuns returns the most recent runs, optionally filtered by
	// strategy, up to limit.
	ListRuns(ctx context.Context, strategyID string, limit int) ([]domain.BacktestRun, error)

	// SaveResult stores the result of a completed run.
	SaveResult(ctx context.Context, runID string, res *domain.BacktestResult) error

	// GetResult retrieves the result of a completed run.
	GetResult(ctx context.Context, runID string) (*domain.BacktestResult, error)
}
