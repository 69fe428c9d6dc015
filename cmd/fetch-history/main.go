package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"strategylab/internal/alpaca"
	"strategylab/internal/config"
	"strategylab/internal/domain"
	"strategylab/internal/gather"
	"strategylab/internal/store"
	"strategylab/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to the YAML config file (default $STRATEGYLAB_CONFIG)")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols to fetch")
	symbolsFile := flag.String("symbols-file", "", "file with one symbol per line")
	existing := flag.Bool("existing", false, "also refresh every symbol already in the store")
	tfFlag := flag.String("tf", "1d", "bar timeframe (1m, 5m, 15m, 1h, 4h, 1d, 1w)")
	startFlag := flag.String("start", "", "first date, YYYY-MM-DD (default five years ago)")
	endFlag := flag.String("end", "", "last date, YYYY-MM-DD (default today)")
	batchSize := flag.Int("batch", 100, "symbols per request")
	workers := flag.Int("workers", 4, "concurrent requests")
	force := flag.Bool("force", false, "re-fetch a range already marked complete")
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

	tf, err := domain.ParseTimeframe(*tfFlag)
	if err != nil {
		log.Fatalf("invalid -tf: %v", err)
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(-5, 0, 0)
	end := today
	if *startFlag != "" {
		if start, err = time.Parse(time.DateOnly, *startFlag); err != nil {
			log.Fatalf("invalid -start: %v", err)
		}
	}
	if *endFlag != "" {
		if end, err = time.Parse(time.DateOnly, *endFlag); err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
	}
	// The range end is inclusive of the whole last day.
	end = end.Add(24*time.Hour - time.Nanosecond)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	symbols := splitSymbols(*symbolsFlag)
	if *symbolsFile != "" {
		fromFile, err := readSymbols(*symbolsFile)
		if err != nil {
			log.Fatalf("failed to read symbols file: %v", err)
		}
		symbols = append(symbols, fromFile...)
	}
	if *existing {
		stored, err := pstore.ListSymbols(ctx, cfg.Storage.Market, tf)
		if err != nil {
			log.Fatalf("failed to list stored symbols: %v", err)
		}
		symbols = append(symbols, stored...)
	}
	symbols = dedupe(symbols)
	if len(symbols) == 0 {
		log.Fatalf("no symbols: pass -symbols, -symbols-file or -existing")
	}

	src := alpaca.New(alpaca.Options{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Feed:            cfg.Alpaca.Feed,
		RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
	}, logger)

	stateDir := filepath.Join(cfg.Storage.DataDir, cfg.Storage.Market, ".gather")
	g := gather.NewHistoryGatherer(src, pstore, stateDir, gather.Config{
		Market:     cfg.Storage.Market,
		Timeframe:  tf,
		Symbols:    symbols,
		Range:      gather.DateRange{Start: start, End: end},
		BatchSize:  *batchSize,
		MaxWorkers: *workers,
		Force:      *force,
	}, logger)

	slog.Info("starting fetch-history",
		"gatherer", g.Name(),
		"symbols", len(symbols),
		"start", start.Format(time.DateOnly),
		"end", end.Format(time.DateOnly),
	)
	sum, err := g.Gather(ctx)
	if err != nil {
		log.Fatalf("fetch error: %v", err)
	}
	slog.Info("fetch-history finished",
		"symbols", sum.Symbols,
		"bars", sum.Bars,
		"empty", sum.Empty,
		"failedBatches", sum.FailedBatches,
		"skipped", sum.Skipped,
	)
	if sum.FailedBatches > 0 {
		os.Exit(1)
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// readSymbols reads one symbol per line, ignoring blanks and '#' comments.
func readSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Tolerate CSV rows: the symbol is the first column.
		if i := strings.IndexByte(line, ','); i >= 0 {
			line = line[:i]
		}
		out = append(out, strings.ToUpper(strings.TrimSpace(line)))
	}
	return out, sc.Err()
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := symbols[:0]
	for _, s := range symbols {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
