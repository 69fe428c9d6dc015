package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/performance"
	"strategylab/internal/rules"
)

// DefaultWarmupBars is the number of leading bars skipped before rules are
// evaluated.
const DefaultWarmupBars = 20

// HistoryProvider supplies ordered bars for a symbol. Implementations
// return domain.ErrDataUnavailable when no history exists.
type HistoryProvider interface {
	GetHistory(ctx context.Context, symbol string, timeframe domain.Timeframe, start, end time.Time) ([]domain.Bar, error)
}

// Options configures a Backtester.
type Options struct {
	// WarmupBars is the first bar index evaluated. Ignored when DeriveWarmup
	// is set.
	WarmupBars int
	// DeriveWarmup sizes the warm-up to the largest lookback referenced by
	// the strategy's rules.
	DeriveWarmup bool
	Risk         RiskLimits
	Performance  performance.Options
	// AnnualizeByTimeframe replaces Performance.PeriodsPerYear with the
	// bar count of a trading year for the run's timeframe.
	AnnualizeByTimeframe bool
	// RSISaturation overrides the RSI value used when average loss is zero.
	RSISaturation *float64
}

// DefaultOptions returns the reference simulation settings.
func DefaultOptions() Options {
	return Options{
		WarmupBars:  DefaultWarmupBars,
		Risk:        DefaultRiskLimits(),
		Performance: performance.DefaultOptions(),
	}
}

// Request describes a single backtest.
type Request struct {
	Strategy domain.Strategy
	// Symbols overrides Strategy.Symbols when non-empty.
	Symbols []string
	// Timeframe overrides Strategy.Timeframe when non-empty. Both empty
	// means daily bars.
	Timeframe      string
	Start, End     time.Time
	InitialCapital float64
}

func (r Request) symbols() []string {
	if len(r.Symbols) > 0 {
		return r.Symbols
	}
	return r.Strategy.Symbols
}

func (r Request) timeframe() (domain.Timeframe, error) {
	tf := r.Timeframe
	if tf == "" {
		tf = r.Strategy.Timeframe
	}
	if tf == "" {
		return domain.Timeframe1Day, nil
	}
	return domain.ParseTimeframe(tf)
}

// program is a strategy with compiled rule sets.
type program struct {
	entry  *rules.RuleSet
	exits  []*rules.RuleSet
	warmup int
}

// Backtester replays historical bars through a strategy's rules and
// computes performance metrics.
type Backtester struct {
	history HistoryProvider
	opts    Options
	log     *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from history.
func NewBacktester(history HistoryProvider, opts Options, log *slog.Logger) *Backtester {
	if log == nil {
		log = slog.Default()
	}
	if opts.WarmupBars < 0 {
		opts.WarmupBars = 0
	}
	return &Backtester{
		history: history,
		opts:    opts,
		log:     log.With("component", "backtest"),
	}
}

// Run simulates req. Symbols whose history cannot be loaded, or is empty, are
// skipped; cancellation and every other failure abort the run with an error
// wrapping domain.ErrSimulation and no result.
// Cash carries over from one symbol to the next in request order.
func (bt *Backtester) Run(ctx context.Context, req Request) (res *domain.BacktestResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: panic: %v", domain.ErrSimulation, r)
		}
	}()

	prog, tf, err := bt.prepare(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSimulation, err)
	}

	log := bt.log.With("strategy", req.Strategy.ID, "timeframe", tf)
	res = &domain.BacktestResult{
		InitialCapital: req.InitialCapital,
		Trades:         []domain.Trade{},
		EquityCurve:    []domain.EquityPoint{},
	}
	cash := req.InitialCapital

	for _, symbol := range req.symbols() {
		bars, err := bt.history.GetHistory(ctx, symbol, tf, req.Start, req.End)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: loading %s: %w", domain.ErrSimulation, symbol, ctx.Err())
		}
		if err != nil || len(bars) == 0 {
			reason := "no history"
			if err != nil && !errors.Is(err, domain.ErrDataUnavailable) {
				reason = "history unavailable"
			}
			log.Warn("skipping symbol", "symbol", symbol, "reason", reason, "error", err)
			res.SkippedSymbols = append(res.SkippedSymbols, symbol)
			continue
		}

		series, err := domain.NewSeries(symbol, bars)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrSimulation, err)
		}

		sim := newSimulator(series, prog, cash, bt.opts, log)
		if err := sim.run(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrSimulation, symbol, err)
		}
		pos, open, err := sim.settle()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrSimulation, symbol, err)
		}
		if open {
			res.OpenPositions = append(res.OpenPositions, pos)
		}

		cash = sim.cash
		res.Trades = append(res.Trades, sim.trades...)
		res.EquityCurve = append(res.EquityCurve, sim.curve...)
		log.Info("symbol simulated", "symbol", symbol, "bars", series.Len(), "trades", len(sim.trades))
	}

	res.FinalCapital = cash
	perf := bt.opts.Performance
	if bt.opts.AnnualizeByTimeframe {
		perf.PeriodsPerYear = tf.PeriodsPerYear()
	}
	res.Metrics = performance.Analyze(res.InitialCapital, res.FinalCapital, res.Trades, res.EquityCurve, perf)
	return res, nil
}

func (bt *Backtester) prepare(req Request) (*program, domain.Timeframe, error) {
	if req.InitialCapital <= 0 {
		return nil, "", fmt.Errorf("initial capital %v must be positive", req.InitialCapital)
	}
	if err := bt.opts.Risk.Validate(); err != nil {
		return nil, "", err
	}
	tf, err := req.timeframe()
	if err != nil {
		return nil, "", err
	}
	entry, err := rules.Compile(req.Strategy.Entry)
	if err != nil {
		return nil, "", fmt.Errorf("entry rules: %w", err)
	}
	exits, err := rules.CompileAll(req.Strategy.Exits)
	if err != nil {
		return nil, "", fmt.Errorf("exit rules: %w", err)
	}

	prog := &program{entry: entry, exits: exits, warmup: bt.opts.WarmupBars}
	if bt.opts.DeriveWarmup {
		prog.warmup = rules.MaxLookback(append([]*rules.RuleSet{entry}, exits...)...)
	}
	return prog, tf, nil
}
