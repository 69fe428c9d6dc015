package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"strategylab/internal/api"
	"strategylab/internal/config"
	"strategylab/internal/engine"
	"strategylab/internal/events"
	"strategylab/internal/metrics"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
	"strategylab/internal/strategy/builtins"
	"strategylab/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to the YAML config file (default $STRATEGYLAB_CONFIG)")
	maxSymbols := flag.Int("max-symbols", 50, "most symbols one run may simulate (0 = unlimited)")
	maxCapital := flag.Float64("max-capital", 0, "largest allowed initial capital (0 = unlimited)")
	maxYears := flag.Int("max-years", 0, "longest allowed date range in years (0 = unlimited)")
	flag.Parse()

	cfgPath := *cfgFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("STRATEGYLAB_CONFIG")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Bars come from the local Parquet store; populate it with fetch-history.
	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	history := store.NewBarHistory(pstore, cfg.Storage.Market)

	sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer sqlite.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, err := loadRegistry(ctx, cfg, sqlite, logger)
	if err != nil {
		log.Fatalf("failed to load strategies: %v", err)
	}

	bus := events.NewBus(256, logger)
	limits := engine.NewLimits(*maxSymbols, *maxCapital, time.Duration(*maxYears)*365*24*time.Hour)
	bt := strategy.NewBacktester(history, cfg.BacktestOptions(), logger)

	eng := engine.NewEngine(engine.Sources{registry, sqlite}, sqlite, bt, bus, limits, logger)
	eng.SetWorkers(cfg.Backtest.MaxWorkers)

	if cfg.Server.MetricsPort > 0 {
		maddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.MetricsPort))
		msrv := metrics.Serve(maddr)
		defer msrv.Close()
		slog.Info("metrics listening", "addr", maddr)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
	srv := api.NewServer(eng, registry, bus, logger)

	slog.Info("strategylab-server starting",
		"addr", addr,
		"data_dir", cfg.Storage.DataDir,
		"market", cfg.Storage.Market,
		"strategies", len(registry.List()),
		"workers", cfg.Backtest.MaxWorkers,
	)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
	slog.Info("strategylab-server stopped")
}

// loadRegistry builds the set of strategies clients may list: the built-ins,
// then the strategies file, then definitions saved in sqlite. Later sources
// are skipped when their ID is already registered.
func loadRegistry(ctx context.Context, cfg *config.Config, saved store.StrategyStore, log *slog.Logger) (*strategy.Registry, error) {
	registry := strategy.NewRegistry()
	if err := builtins.Register(registry); err != nil {
		return nil, fmt.Errorf("built-in strategies: %w", err)
	}

	if cfg.StrategiesFile != "" {
		n, err := registry.LoadInto(cfg.StrategiesFile)
		if err != nil {
			return nil, err
		}
		log.Info("loaded strategies file", "path", cfg.StrategiesFile, "count", n)
	}

	stored, err := saved.ListStrategies(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing saved strategies: %w", err)
	}
	for _, st := range stored {
		if _, ok := registry.Get(st.ID); ok {
			continue
		}
		if err := registry.Register(st); err != nil {
			log.Warn("skipping saved strategy", "id", st.ID, "error", err)
		}
	}
	return registry, nil
}
