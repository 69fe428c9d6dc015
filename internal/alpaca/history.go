// Package alpaca fetches historical bars from the Alpaca market-data API.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"strategylab/internal/domain"
	"strategylab/internal/util"
)

// barClient is the subset of *marketdata.Client used here.
type barClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ barClient = (*marketdata.Client)(nil)

// Options configures a History client.
type Options struct {
	APIKey          string
	APISecret       string
	DataURL         string
	Feed            string
	RateLimitPerMin int
	// Attempts is the number of tries per request; zero means 3.
	Attempts int
	// RetryDelay is the first backoff delay; zero means one second.
	RetryDelay time.Duration
}

// History serves split-adjusted bars from Alpaca. Daily and weekly bar
// timestamps are normalised to the US session date at midnight UTC.
type History struct {
	client    barClient
	feed      string
	limiter   *util.RateLimiter
	attempts  int
	baseDelay time.Duration
	log       *slog.Logger
}

// New creates a History client configured with the given Alpaca credentials.
func New(opts Options, log *slog.Logger) *History {
	md := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		md.BaseURL = opts.DataURL
	}
	return newHistory(marketdata.NewClient(md), opts, log)
}

func newHistory(client barClient, opts Options, log *slog.Logger) *History {
	if log == nil {
		log = slog.Default()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &History{
		client:    client,
		feed:      opts.Feed,
		limiter:   util.NewRateLimiter(opts.RateLimitPerMin),
		attempts:  opts.Attempts,
		baseDelay: opts.RetryDelay,
		log:       log.With("component", "alpaca-history"),
	}
}

// GetHistory returns bars for one symbol. Request failures and empty ranges
// are reported as domain.ErrDataUnavailable; cancellation is returned as is.
func (h *History) GetHistory(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	sym := strings.ToUpper(symbol)
	bySymbol, err := h.FetchBars(ctx, []string{sym}, tf, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s %s: %w: %w", sym, tf, domain.ErrDataUnavailable, err)
	}
	bars := bySymbol[sym]
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s %s: %w", sym, tf, domain.ErrDataUnavailable)
	}
	return bars, nil
}

// FetchBars fetches bars for several symbols in one request, retrying
// transient failures with backoff. Symbols without data are absent from the
// result.
func (h *History) FetchBars(ctx context.Context, symbols []string, tf domain.Timeframe, start, end time.Time) (map[string][]domain.Bar, error) {
	if len(symbols) == 0 {
		return map[string][]domain.Bar{}, nil
	}
	frame, err := timeFrame(tf)
	if err != nil {
		return nil, err
	}
	req := marketdata.GetBarsRequest{
		TimeFrame:  frame,
		Adjustment: marketdata.Split,
		Start:      start,
		End:        end,
	}
	if h.feed != "" {
		req.Feed = marketdata.Feed(h.feed)
	}

	var raw map[string][]marketdata.Bar
	attempt := 0
	err = util.Retry(ctx, h.attempts, h.baseDelay, func() error {
		attempt++
		if err := h.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		raw, err = h.client.GetMultiBars(symbols, req)
		if err != nil {
			h.log.Warn("bars request failed", "symbols", len(symbols), "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	daily := tf == domain.Timeframe1Day || tf == domain.Timeframe1Week
	out := make(map[string][]domain.Bar, len(raw))
	for symbol, alpacaBars := range raw {
		if len(alpacaBars) == 0 {
			continue
		}
		sym := strings.ToUpper(symbol)
		bars := make([]domain.Bar, 0, len(alpacaBars))
		for _, ab := range alpacaBars {
			ts := ab.Timestamp.UTC()
			if daily {
				ts = util.SessionDate(domain.MarketUS, ab.Timestamp)
			}
			bars = append(bars, domain.Bar{
				Symbol:    sym,
				Timestamp: ts,
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    float64(ab.Volume),
			})
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		out[sym] = bars
	}
	return out, nil
}

// timeFrame maps a domain timeframe to an Alpaca bar aggregation.
func timeFrame(tf domain.Timeframe) (marketdata.TimeFrame, error) {
	switch tf {
	case domain.Timeframe1Min:
		return marketdata.NewTimeFrame(1, marketdata.Min), nil
	case domain.Timeframe5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case domain.Timeframe15Min:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case domain.Timeframe30Min:
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case domain.Timeframe1Hour:
		return marketdata.NewTimeFrame(1, marketdata.Hour), nil
	case domain.Timeframe4Hour:
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case domain.Timeframe1Day, "":
		return marketdata.OneDay, nil
	case domain.Timeframe1Week:
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("no alpaca aggregation for timeframe %q", tf)
	}
}
