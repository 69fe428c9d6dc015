// Package gather copies historical bars from a remote provider into the
// local bar store.
package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/store"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early when ctx is
	// cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Source fetches bars for several symbols at once. Symbols without data are
// absent from the result.
type Source interface {
	FetchBars(ctx context.Context, symbols []string, tf domain.Timeframe, start, end time.Time) (map[string][]domain.Bar, error)
}

// Config controls a HistoryGatherer pass.
type Config struct {
	Market     string
	Timeframe  domain.Timeframe
	Symbols    []string
	Range      DateRange
	BatchSize  int
	MaxWorkers int
	// Force re-fetches a range already marked completed and retries
	// symbols previously found empty.
	Force bool
}

// Summary reports the outcome of one pass.
type Summary struct {
	Symbols       int
	Bars          int64
	Empty         int64
	FailedBatches int64
	Skipped       bool
}

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ Gatherer = (*HistoryGatherer)(nil)

// HistoryGatherer fetches bars for a symbol list in batches and merges them
// into a BarStore. Progress is tracked in stateDir so an interrupted pass
// resumes without re-requesting symbols known to be empty.
type HistoryGatherer struct {
	source   Source
	store    store.BarStore
	cfg      Config
	stateDir string
	log      *slog.Logger
}

// NewHistoryGatherer creates a HistoryGatherer writing to st.
func NewHistoryGatherer(src Source, st store.BarStore, stateDir string, cfg Config, log *slog.Logger) *HistoryGatherer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = domain.Timeframe1Day
	}
	if log == nil {
		log = slog.Default()
	}
	g := &HistoryGatherer{source: src, store: st, cfg: cfg, stateDir: stateDir}
	g.log = log.With("gatherer", g.Name())
	return g
}

// Name returns the gatherer identifier.
func (g *HistoryGatherer) Name() string {
	return fmt.Sprintf("history-%s-%s", g.cfg.Market, g.cfg.Timeframe)
}

// Run implements Gatherer.
func (g *HistoryGatherer) Run(ctx context.Context) error {
	_, err := g.Gather(ctx)
	return err
}

// Gather performs one pass and reports what was written. A pass that lost
// batches to errors is not marked completed.
func (g *HistoryGatherer) Gather(ctx context.Context) (Summary, error) {
	var sum Summary
	tf, rng := g.cfg.Timeframe, g.cfg.Range
	rangeKey := backfillKey(tf, rng)

	prog, err := loadProgress(g.stateDir)
	if err != nil {
		return sum, fmt.Errorf("loading progress: %w", err)
	}

	if g.cfg.Force {
		if err := prog.Reset(tf, rng); err != nil {
			return sum, fmt.Errorf("resetting progress: %w", err)
		}
	} else if prog.IsCompleted(tf, rng) {
		g.log.Info("already completed", "range", rangeKey)
		sum.Skipped = true
		return sum, nil
	}

	seen := make(map[string]struct{}, len(g.cfg.Symbols))
	var remaining []string
	for _, s := range g.cfg.Symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		if prog.IsEmpty(tf, rng, sym) {
			continue
		}
		remaining = append(remaining, sym)
	}
	sum.Symbols = len(remaining)

	var batches [][]string
	for i := 0; i < len(remaining); i += g.cfg.BatchSize {
		end := min(i+g.cfg.BatchSize, len(remaining))
		batches = append(batches, remaining[i:end])
	}
	totalBatches := len(batches)

	g.log.Info("starting",
		"range", rangeKey,
		"symbols", len(remaining),
		"batches", totalBatches,
	)

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		totalBars atomic.Int64
		totalMiss atomic.Int64
		failed    atomic.Int64
		runStart  = time.Now()
	)

	workers := min(g.cfg.MaxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				written, empty, err := g.gatherBatch(ctx, batches[batchIdx], prog)
				if err != nil {
					failed.Add(1)
					g.log.Error("batch failed",
						"batch", fmt.Sprintf("%d/%d", batchIdx+1, totalBatches),
						"err", err,
					)
					continue
				}
				totalBars.Add(int64(written))
				totalMiss.Add(int64(empty))

				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", batchIdx+1, totalBatches),
					"bars", written,
					"empty", empty,
					"elapsed", time.Since(runStart).Round(time.Millisecond),
				)
			}
		}()
	}
	wg.Wait()

	sum.Bars = totalBars.Load()
	sum.Empty = totalMiss.Load()
	sum.FailedBatches = failed.Load()

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if sum.FailedBatches > 0 {
		return sum, fmt.Errorf("%d of %d batches failed", sum.FailedBatches, totalBatches)
	}
	if err := prog.MarkCompleted(tf, rng, time.Now()); err != nil {
		return sum, fmt.Errorf("marking completed: %w", err)
	}

	g.log.Info("complete",
		"bars", sum.Bars,
		"empty", sum.Empty,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return sum, nil
}

func (g *HistoryGatherer) gatherBatch(ctx context.Context, batch []string, prog *progress) (int, int, error) {
	bySymbol, err := g.source.FetchBars(ctx, batch, g.cfg.Timeframe, g.cfg.Range.Start, g.cfg.Range.End)
	if err != nil {
		return 0, 0, err
	}

	var bars []domain.Bar
	var empty []string
	for _, sym := range batch {
		got := bySymbol[sym]
		if len(got) == 0 {
			empty = append(empty, sym)
			continue
		}
		bars = append(bars, got...)
	}

	if len(bars) > 0 {
		if err := g.store.WriteBars(ctx, g.cfg.Market, g.cfg.Timeframe, bars); err != nil {
			return 0, 0, fmt.Errorf("writing bars: %w", err)
		}
	}
	if len(empty) > 0 {
		if err := prog.MarkEmpty(g.cfg.Timeframe, g.cfg.Range, empty); err != nil {
			g.log.Error("marking empty failed", "err", err)
		}
	}
	return len(bars), len(empty), nil
}
