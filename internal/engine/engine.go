// Package engine manages the lifecycle of backtest runs: admission,
// execution, persistence and event publication.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"strategylab/internal/domain"
	"strategylab/internal/events"
	"strategylab/internal/metrics"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
)

// StrategySource resolves strategy definitions by ID. Implementations return
// an error wrapping domain.ErrNotFound for unknown IDs.
type StrategySource interface {
	GetStrategy(ctx context.Context, id string) (domain.Strategy, error)
}

// Runner executes a single backtest request.
type Runner interface {
	Run(ctx context.Context, req strategy.Request) (*domain.BacktestResult, error)
}

// Compile-time interface checks.
var (
	_ StrategySource = (*strategy.Registry)(nil)
	_ StrategySource = (store.StrategyStore)(nil)
	_ Runner         = (*strategy.Backtester)(nil)
)

// SubmitRequest asks for a backtest of a registered strategy.
type SubmitRequest struct {
	StrategyID     string
	Symbols        []string
	Timeframe      string
	Start, End     time.Time
	InitialCapital float64
}

// Engine orchestrates backtest runs by delegating to a strategy source for
// definitions, a runner for simulation and a run store for persistence.
type Engine struct {
	strategies StrategySource
	runs       store.RunStore
	runner     Runner
	events     events.Publisher
	limits     *Limits
	workers    int
	now        func() time.Time
	log        *slog.Logger
}

// NewEngine creates a new Engine wired with the given dependencies. A nil
// publisher discards events and nil limits admit every request.
func NewEngine(
	strategies StrategySource,
	runs store.RunStore,
	runner Runner,
	pub events.Publisher,
	limits *Limits,
	log *slog.Logger,
) *Engine {
	if pub == nil {
		pub = events.Discard{}
	}
	if limits == nil {
		limits = &Limits{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		strategies: strategies,
		runs:       runs,
		runner:     runner,
		events:     pub,
		limits:     limits,
		workers:    1,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log.With("component", "engine"),
	}
}

// SetWorkers bounds the number of runs RunAll executes at once.
func (e *Engine) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	e.workers = n
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Submit validates req and records a pending run.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*domain.BacktestRun, error) {
	st, err := e.strategies.GetStrategy(ctx, req.StrategyID)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", req.StrategyID, err)
	}
	if err := e.limits.Check(st, req); err != nil {
		return nil, err
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = st.Symbols
	}
	tf := req.Timeframe
	if tf == "" {
		tf = st.Timeframe
	}
	if tf == "" {
		tf = string(domain.Timeframe1Day)
	}

	run := &domain.BacktestRun{
		ID:             uuid.NewString(),
		StrategyID:     st.ID,
		Symbols:        append([]string(nil), symbols...),
		Timeframe:      tf,
		Start:          req.Start,
		End:            req.End,
		InitialCapital: req.InitialCapital,
		Status:         domain.RunPending,
		CreatedAt:      e.now(),
	}
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	e.log.Info("run submitted", "run", run.ID, "strategy", st.ID, "symbols", len(run.Symbols))
	return run, nil
}

// Execute runs a pending backtest to completion. The run is marked completed
// with its result persisted, or failed with the error message. The returned
// error is the simulation failure, if any.
func (e *Engine) Execute(ctx context.Context, runID string) (*domain.BacktestResult, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	if run.Status != domain.RunPending {
		return nil, fmt.Errorf("run %s is %s, not pending", runID, run.Status)
	}

	started := e.now()
	if err := e.runs.UpdateRunStatus(ctx, runID, domain.RunRunning, "", started); err != nil {
		return nil, fmt.Errorf("marking run %s running: %w", runID, err)
	}
	e.events.Publish(events.Event{
		Type:    events.BacktestStarted,
		RunID:   runID,
		Payload: map[string]any{"strategy_id": run.StrategyID},
		At:      started,
	})
	log := e.log.With("run", runID, "strategy", run.StrategyID)
	log.Info("run started")

	res, runErr := e.simulate(ctx, run)
	if runErr == nil {
		if err := e.runs.SaveResult(ctx, runID, res); err != nil {
			runErr = fmt.Errorf("saving result: %w", err)
		}
	}

	finished := e.now()
	elapsed := finished.Sub(started)
	// Status updates outlive ctx. A run that cannot be marked completed is
	// marked failed.
	statusCtx := context.WithoutCancel(ctx)
	if runErr == nil {
		if err := e.runs.UpdateRunStatus(statusCtx, runID, domain.RunCompleted, "", finished); err != nil {
			runErr = fmt.Errorf("marking run %s completed: %w", runID, err)
		}
	}
	if runErr != nil {
		if err := e.runs.UpdateRunStatus(statusCtx, runID, domain.RunFailed, runErr.Error(), finished); err != nil {
			log.Error("marking run failed", "error", err)
		}
		e.events.Publish(events.Event{
			Type:    events.BacktestFailed,
			RunID:   runID,
			Payload: map[string]any{"error": runErr.Error()},
			At:      finished,
		})
		metrics.ObserveRun(string(domain.RunFailed), elapsed)
		log.Error("backtest failed", "error", runErr, "elapsed", elapsed)
		return nil, runErr
	}

	e.events.Publish(events.Event{
		Type:  events.BacktestCompleted,
		RunID: runID,
		Payload: map[string]any{
			"total_return": res.Metrics.TotalReturn,
			"total_trades": res.Metrics.TotalTrades,
		},
		At: finished,
	})
	metrics.ObserveRun(string(domain.RunCompleted), elapsed)
	for _, t := range res.Trades {
		metrics.TradesTotal.WithLabelValues(string(t.ExitReason)).Inc()
	}
	metrics.SkippedSymbolsTotal.Add(float64(len(res.SkippedSymbols)))
	log.Info("run completed",
		"trades", res.Metrics.TotalTrades,
		"total_return", res.Metrics.TotalReturn,
		"skipped", len(res.SkippedSymbols),
		"elapsed", elapsed)
	return res, nil
}

func (e *Engine) simulate(ctx context.Context, run *domain.BacktestRun) (*domain.BacktestResult, error) {
	st, err := e.strategies.GetStrategy(ctx, run.StrategyID)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", run.StrategyID, err)
	}
	return e.runner.Run(ctx, strategy.Request{
		Strategy:       st,
		Symbols:        run.Symbols,
		Timeframe:      run.Timeframe,
		Start:          run.Start,
		End:            run.End,
		InitialCapital: run.InitialCapital,
	})
}

// RunBacktest submits req and executes it synchronously.
func (e *Engine) RunBacktest(ctx context.Context, req SubmitRequest) (*domain.BacktestRun, *domain.BacktestResult, error) {
	run, err := e.Submit(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	res, err := e.Execute(ctx, run.ID)
	if err != nil {
		return run, nil, err
	}
	final, err := e.runs.GetRun(ctx, run.ID)
	if err != nil {
		return run, res, err
	}
	return final, res, nil
}

// RunAll executes the given runs concurrently, at most SetWorkers at a
// time. Every run is attempted; the first failure is returned.
func (e *Engine) RunAll(ctx context.Context, runIDs []string) error {
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, id := range runIDs {
		g.Go(func() error {
			_, err := e.Execute(ctx, id)
			return err
		})
	}
	return g.Wait()
}

// Get returns a run and, once it has completed, its result.
func (e *Engine) Get(ctx context.Context, runID string) (*domain.BacktestRun, *domain.BacktestResult, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != domain.RunCompleted {
		return run, nil, nil
	}
	res, err := e.runs.GetResult(ctx, runID)
	if err != nil {
		return run, nil, fmt.Errorf("loading result for %s: %w", runID, err)
	}
	return run, res, nil
}

// List returns recent runs, optionally for a single strategy.
func (e *Engine) List(ctx context.Context, strategyID string, limit int) ([]domain.BacktestRun, error) {
	return e.runs.ListRuns(ctx, strategyID, limit)
}

// ---------------------------------------------------------------------------
// Strategy sources
// ---------------------------------------------------------------------------

// Sources tries each StrategySource in order and returns the first
// definition found.
type Sources []StrategySource

// GetStrategy implements StrategySource.
func (s Sources) GetStrategy(ctx context.Context, id string) (domain.Strategy, error) {
	for _, src := range s {
		st, err := src.GetStrategy(ctx, id)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Strategy{}, err
		}
	}
	return domain.Strategy{}, fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
}
