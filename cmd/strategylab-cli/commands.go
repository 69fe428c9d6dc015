package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"strategylab/internal/config"
	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/events"
	"strategylab/internal/report"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
	"strategylab/internal/strategy/builtins"
	"strategylab/internal/util"
	"strategylab/pkg/strategylab"
)

const rpcTimeout = 30 * time.Second

// common holds flags shared by every subcommand.
type common struct {
	configPath string
	addr       string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", os.Getenv("STRATEGYLAB_CONFIG"), "path to the YAML config file")
	fs.StringVar(&c.addr, "addr", "", "strategylab-server address (default from config)")
}

func (c *common) load() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, "text"))
	return cfg, nil
}

func (c *common) dial(cfg *config.Config) (*strategylab.Client, error) {
	addr := c.addr
	if addr == "" {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(cfg.Server.GRPCPort))
	}
	return strategylab.NewClient(addr)
}

// runFlags describes one backtest request.
type runFlags struct {
	strategyID string
	symbols    string
	timeframe  string
	start      string
	end        string
	capital    float64
	trades     int
}

func (r *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.strategyID, "strategy", "", "strategy ID (required)")
	fs.StringVar(&r.symbols, "symbols", "", "comma-separated symbols (default: the strategy's own)")
	fs.StringVar(&r.timeframe, "tf", "", "bar timeframe (1m, 5m, 15m, 1h, 4h, 1d, 1w)")
	fs.StringVar(&r.start, "start", "", "first date, YYYY-MM-DD")
	fs.StringVar(&r.end, "end", "", "last date, YYYY-MM-DD")
	fs.Float64Var(&r.capital, "capital", 0, "initial capital (default from config)")
	fs.IntVar(&r.trades, "trades", 20, "number of trades to print (0 = all)")
}

func (r *runFlags) symbolList() []string {
	var out []string
	for _, s := range strings.Split(r.symbols, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (r *runFlags) wire(cfg *config.Config) strategylab.SubmitRequest {
	capital := r.capital
	if capital == 0 {
		capital = cfg.Backtest.InitialCapital
	}
	return strategylab.SubmitRequest{
		StrategyID:     r.strategyID,
		Symbols:        r.symbolList(),
		Timeframe:      r.timeframe,
		Start:          r.start,
		End:            r.end,
		InitialCapital: capital,
	}
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// strategies
// ---------------------------------------------------------------------------

func cmdStrategies(args []string) error {
	fs := flag.NewFlagSet("strategies", flag.ExitOnError)
	var c common
	c.register(fs)
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	client, err := c.dial(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	list, err := client.Strategies(ctx)
	if err != nil {
		return err
	}
	for i, s := range list {
		if i > 0 {
			fmt.Println()
		}
		fmt.Println(report.Strategy(s))
	}
	return nil
}

// ---------------------------------------------------------------------------
// run (local)
// ---------------------------------------------------------------------------

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var c common
	var r runFlags
	c.register(fs)
	r.register(fs)
	fs.Parse(args)

	if r.strategyID == "" {
		return errors.New("-strategy is required")
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	start, err := parseDay(r.start)
	if err != nil {
		return err
	}
	end, err := parseDay(r.end)
	if err != nil {
		return err
	}

	registry := strategy.NewRegistry()
	if err := builtins.Register(registry); err != nil {
		return err
	}
	if cfg.StrategiesFile != "" {
		if _, err := registry.LoadInto(cfg.StrategiesFile); err != nil {
			return err
		}
	}

	history := store.NewBarHistory(store.NewParquetStore(cfg.Storage.DataDir), cfg.Storage.Market)
	bt := strategy.NewBacktester(history, cfg.BacktestOptions(), slog.Default())
	eng := engine.NewEngine(registry, engine.NewMemoryRunStore(), bt, events.Discard{}, nil, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := r.wire(cfg)
	run, res, err := eng.RunBacktest(ctx, engine.SubmitRequest{
		StrategyID:     w.StrategyID,
		Symbols:        w.Symbols,
		Timeframe:      w.Timeframe,
		Start:          start,
		End:            end,
		InitialCapital: w.InitialCapital,
	})
	if err != nil {
		return err
	}
	printResult(run, res, r.trades)
	return nil
}

// ---------------------------------------------------------------------------
// submit / status (remote)
// ---------------------------------------------------------------------------

func cmdSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	var c common
	var r runFlags
	wait := fs.Bool("wait", false, "block until the run finishes and print its result")
	c.register(fs)
	r.register(fs)
	fs.Parse(args)

	if r.strategyID == "" {
		return errors.New("-strategy is required")
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	client, err := c.dial(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req := r.wire(cfg)
	reply, err := client.Submit(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(report.Run(*reply.Run))
	if !*wait {
		return nil
	}

	// Follow lifecycle events until the run reaches a terminal state.
	runID := reply.Run.ID
	err = client.Watch(ctx, runID, func(e strategylab.Event) bool {
		fmt.Printf("%s  %s\n", e.At.Local().Format(time.TimeOnly), e.Type)
		return e.Type != events.BacktestCompleted && e.Type != events.BacktestFailed
	})
	if err != nil && ctx.Err() == nil {
		return err
	}

	final, err := client.Get(ctx, runID)
	if err != nil {
		return err
	}
	if final.Result == nil {
		fmt.Println(report.Run(*final.Run))
		return nil
	}
	printResult(final.Run, final.Result, r.trades)
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var c common
	strategyID := fs.String("strategy", "", "only list runs of this strategy")
	limit := fs.Int("limit", 20, "number of runs to list")
	trades := fs.Int("trades", 20, "number of trades to print (0 = all)")
	c.register(fs)
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	client, err := c.dial(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	if id := fs.Arg(0); id != "" {
		reply, err := client.Get(ctx, id)
		if err != nil {
			return err
		}
		if reply.Result == nil {
			fmt.Println(report.Run(*reply.Run))
			return nil
		}
		printResult(reply.Run, reply.Result, *trades)
		return nil
	}

	runs, err := client.List(ctx, *strategyID, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
	}
	for _, run := range runs {
		fmt.Println(report.Run(run))
	}
	return nil
}

// ---------------------------------------------------------------------------
// import
// ---------------------------------------------------------------------------

func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	var c common
	c.register(fs)
	fs.Parse(args)

	path := fs.Arg(0)
	if path == "" {
		return errors.New("usage: strategylab-cli import <strategies.yaml>")
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}

	list, err := strategy.LoadFile(path)
	if err != nil {
		return err
	}
	sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer sqlite.Close()

	ctx := context.Background()
	for _, s := range list {
		if err := strategy.Validate(s); err != nil {
			return fmt.Errorf("strategy %q: %w", s.ID, err)
		}
		if err := sqlite.SaveStrategy(ctx, s); err != nil {
			return err
		}
		fmt.Printf("saved %s\n", s.ID)
	}
	return nil
}

func printResult(run *domain.BacktestRun, res *domain.BacktestResult, trades int) {
	title := run.StrategyID
	if len(run.Symbols) > 0 {
		title += " " + strings.Join(run.Symbols, ",")
	}
	fmt.Println(report.Summary(title, res))
	fmt.Println(report.Trades(res.Trades, trades))
}
