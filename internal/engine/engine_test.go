package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/events"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeHistory struct {
	bars map[string][]domain.Bar
}

func (f *fakeHistory) GetHistory(_ context.Context, symbol string, _ domain.Timeframe, _, _ time.Time) ([]domain.Bar, error) {
	b, ok := f.bars[symbol]
	if !ok {
		return nil, domain.ErrDataUnavailable
	}
	return b, nil
}

// risingBars closes at 100, 101, ... so an always-true entry eventually hits
// the take-profit.
func risingBars(symbol string, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}

func alwaysEnter(id string, symbols ...string) domain.Strategy {
	return domain.Strategy{
		ID:      id,
		Name:    id,
		Entry:   domain.RuleSet{Conditions: []domain.Condition{{Indicator: "close", Operator: "gt", Value: 0}}},
		Symbols: symbols,
	}
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newTestEngine(t *testing.T, limits *Limits) (*Engine, *recorder) {
	t.Helper()
	reg := strategy.NewRegistry()
	if err := reg.Register(alwaysEnter("up", "UP")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h := &fakeHistory{bars: map[string][]domain.Bar{"UP": risingBars("UP", 40), "ALT": risingBars("ALT", 40)}}
	bt := strategy.NewBacktester(h, strategy.DefaultOptions(), nil)
	rec := &recorder{}
	return NewEngine(reg, NewMemoryRunStore(), bt, rec, limits, nil), rec
}

func TestSubmitCreatesPendingRun(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	run, err := e.Submit(ctx, SubmitRequest{StrategyID: "up", InitialCapital: 10000})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if run.ID == "" {
		t.Error("Submit returned an empty run ID")
	}
	if run.Status != domain.RunPending {
		t.Errorf("Status = %q, want %q", run.Status, domain.RunPending)
	}
	if run.Timeframe != "1d" {
		t.Errorf("Timeframe = %q, want default 1d", run.Timeframe)
	}
	if len(run.Symbols) != 1 || run.Symbols[0] != "UP" {
		t.Errorf("Symbols = %v, want strategy symbols", run.Symbols)
	}

	stored, err := e.runs.GetRun(ctx, run.ID)
	if err != nil || stored.Status != domain.RunPending {
		t.Errorf("stored run = %+v, %v", stored, err)
	}
}

func TestSubmitUnknownStrategy(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	_, err := e.Submit(context.Background(), SubmitRequest{StrategyID: "nope", InitialCapital: 1})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Submit err = %v, want ErrNotFound", err)
	}
}

func TestSubmitLimits(t *testing.T) {
	e, _ := newTestEngine(t, NewLimits(1, 5000, 0))
	ctx := context.Background()

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"zero capital", SubmitRequest{StrategyID: "up"}},
		{"capital over limit", SubmitRequest{StrategyID: "up", InitialCapital: 6000}},
		{"too many symbols", SubmitRequest{StrategyID: "up", InitialCapital: 100, Symbols: []string{"A", "B"}}},
		{"end before start", SubmitRequest{StrategyID: "up", InitialCapital: 100, Start: day0, End: day0.AddDate(0, 0, -1)}},
		{"bad timeframe", SubmitRequest{StrategyID: "up", InitialCapital: 100, Timeframe: "3d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Submit(ctx, tt.req); !errors.Is(err, domain.ErrInvalidRule) {
				t.Errorf("Submit err = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestLimitsMaxSpan(t *testing.T) {
	l := NewLimits(0, 0, 30*24*time.Hour)
	req := SubmitRequest{InitialCapital: 1, Symbols: []string{"A"}, Start: day0, End: day0.AddDate(0, 2, 0)}
	if err := l.Check(domain.Strategy{}, req); !errors.Is(err, domain.ErrInvalidRule) {
		t.Errorf("Check err = %v, want ErrInvalidRule", err)
	}
	req.End = day0.AddDate(0, 0, 10)
	if err := l.Check(domain.Strategy{}, req); err != nil {
		t.Errorf("Check err = %v, want nil", err)
	}
}

func TestExecuteCompletes(t *testing.T) {
	e, rec := newTestEngine(t, nil)
	ctx := context.Background()

	run, res, err := e.RunBacktest(ctx, SubmitRequest{StrategyID: "up", InitialCapital: 10000})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if run.Status != domain.RunCompleted {
		t.Errorf("Status = %q, want completed", run.Status)
	}
	if run.StartedAt.IsZero() || run.CompletedAt.IsZero() {
		t.Errorf("StartedAt/CompletedAt not stamped: %+v", run)
	}
	if res.Metrics.TotalTrades == 0 {
		t.Error("expected at least one trade on rising bars")
	}

	got := rec.types()
	if len(got) != 2 || got[0] != events.BacktestStarted || got[1] != events.BacktestCompleted {
		t.Errorf("events = %v, want [started completed]", got)
	}
	payload := rec.events[1].Payload
	if payload["total_trades"] != res.Metrics.TotalTrades {
		t.Errorf("completed payload = %v", payload)
	}

	_, stored, err := e.Get(ctx, run.ID)
	if err != nil || stored == nil {
		t.Fatalf("Get: %v, result %v", err, stored)
	}
	if stored.FinalCapital != res.FinalCapital {
		t.Errorf("stored FinalCapital = %v, want %v", stored.FinalCapital, res.FinalCapital)
	}
}

func TestExecuteFails(t *testing.T) {
	e, rec := newTestEngine(t, nil)
	ctx := context.Background()

	run, err := e.Submit(ctx, SubmitRequest{StrategyID: "up", InitialCapital: 10000, Timeframe: "1h"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Break the backtester so the simulation itself fails.
	e.runner = runnerFunc(func(context.Context, strategy.Request) (*domain.BacktestResult, error) {
		return nil, domain.ErrSimulation
	})

	if _, err := e.Execute(ctx, run.ID); !errors.Is(err, domain.ErrSimulation) {
		t.Fatalf("Execute err = %v, want ErrSimulation", err)
	}

	got, res, err := e.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.RunFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "simulation") {
		t.Errorf("Error = %q, want the simulation message", got.Error)
	}
	if res != nil {
		t.Error("failed run should have no result")
	}
	types := rec.types()
	if len(types) != 2 || types[1] != events.BacktestFailed {
		t.Errorf("events = %v, want [started failed]", types)
	}
}

// completionFails rejects the transition to completed.
type completionFails struct {
	store.RunStore
}

func (c completionFails) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, errMsg string, at time.Time) error {
	if status == domain.RunCompleted {
		return errors.New("disk full")
	}
	return c.RunStore.UpdateRunStatus(ctx, id, status, errMsg, at)
}

func TestExecuteCompletionUpdateFails(t *testing.T) {
	e, rec := newTestEngine(t, nil)
	e.runs = completionFails{RunStore: e.runs}
	ctx := context.Background()

	run, err := e.Submit(ctx, SubmitRequest{StrategyID: "up", InitialCapital: 10000})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := e.Execute(ctx, run.ID); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Execute err = %v, want the completion failure", err)
	}

	got, err := e.runs.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != domain.RunFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	types := rec.types()
	if len(types) != 2 || types[1] != events.BacktestFailed {
		t.Errorf("events = %v, want [started failed]", types)
	}
}

func TestExecuteRejectsNonPending(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	run, _, err := e.RunBacktest(ctx, SubmitRequest{StrategyID: "up", InitialCapital: 1000})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if _, err := e.Execute(ctx, run.ID); err == nil {
		t.Error("Execute of a completed run should fail")
	}
	if _, err := e.Execute(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Execute(missing) err = %v, want ErrNotFound", err)
	}
}

type runnerFunc func(context.Context, strategy.Request) (*domain.BacktestResult, error)

func (f runnerFunc) Run(ctx context.Context, req strategy.Request) (*domain.BacktestResult, error) {
	return f(ctx, req)
}

func TestRunAllBoundsConcurrency(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	var inFlight, peak atomic.Int32
	e.runner = runnerFunc(func(context.Context, strategy.Request) (*domain.BacktestResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &domain.BacktestResult{InitialCapital: 1, FinalCapital: 1}, nil
	})
	e.SetWorkers(2)

	var ids []string
	for i := 0; i < 6; i++ {
		run, err := e.Submit(ctx, SubmitRequest{StrategyID: "up", InitialCapital: 1})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, run.ID)
	}

	if err := e.RunAll(ctx, ids); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}

	runs, err := e.List(ctx, "up", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, r := range runs {
		if r.Status != domain.RunCompleted {
			t.Errorf("run %s status = %q, want completed", r.ID, r.Status)
		}
	}
}

func TestRunAllReportsFailure(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	good, _ := e.Submit(ctx, SubmitRequest{StrategyID: "up", InitialCapital: 1000})
	if err := e.RunAll(ctx, []string{good.ID, "ghost"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("RunAll err = %v, want ErrNotFound for the unknown run", err)
	}
	run, _, _ := e.Get(ctx, good.ID)
	if run.Status != domain.RunCompleted {
		t.Errorf("good run status = %q, want completed", run.Status)
	}
}

func TestSources(t *testing.T) {
	a := strategy.NewRegistry()
	b := strategy.NewRegistry()
	a.Register(alwaysEnter("one", "X"))
	b.Register(alwaysEnter("two", "Y"))
	src := Sources{a, b}
	ctx := context.Background()

	if st, err := src.GetStrategy(ctx, "two"); err != nil || st.ID != "two" {
		t.Errorf("GetStrategy(two) = %+v, %v", st, err)
	}
	if _, err := src.GetStrategy(ctx, "three"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetStrategy(three) err = %v, want ErrNotFound", err)
	}
}
