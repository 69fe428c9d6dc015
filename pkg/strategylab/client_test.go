package strategylab

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"strategylab/internal/api"
	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/events"
	"strategylab/internal/strategy"
	"strategylab/internal/strategy/builtins"
)

type flatHistory struct{}

func (flatHistory) GetHistory(_ context.Context, symbol string, _ domain.Timeframe, _, _ time.Time) ([]domain.Bar, error) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 60)
	for i := range bars {
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: day.AddDate(0, 0, i), Open: 50, High: 50, Low: 50, Close: 50}
	}
	return bars, nil
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	reg := strategy.NewRegistry()
	if err := builtins.Register(reg); err != nil {
		t.Fatalf("builtins.Register: %v", err)
	}
	bus := events.NewBus(0, nil)
	bt := strategy.NewBacktester(flatHistory{}, strategy.DefaultOptions(), nil)
	srv := api.NewServer(engine.NewEngine(reg, engine.NewMemoryRunStore(), bt, bus, nil, nil), reg, bus, nil)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)

	c, err := NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return c
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	strategies, err := c.Strategies(ctx)
	if err != nil {
		t.Fatalf("Strategies: %v", err)
	}
	if len(strategies) != len(builtins.Defaults()) {
		t.Errorf("len(Strategies) = %d, want %d", len(strategies), len(builtins.Defaults()))
	}

	reply, err := c.Submit(ctx, SubmitRequest{
		StrategyID:     "sma-cross",
		Symbols:        []string{"FLAT"},
		InitialCapital: 10000,
		Wait:           true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if reply.Run.Status != domain.RunCompleted {
		t.Errorf("Status = %q, want completed", reply.Run.Status)
	}
	// A flat market never crosses, so capital is untouched.
	if reply.Result.FinalCapital != 10000 || reply.Result.Metrics.TotalTrades != 0 {
		t.Errorf("Result = %+v", reply.Result)
	}

	got, err := c.Get(ctx, reply.Run.ID)
	if err != nil || got.Run.ID != reply.Run.ID {
		t.Errorf("Get = %+v, %v", got, err)
	}
	runs, err := c.List(ctx, "", 10)
	if err != nil || len(runs) != 1 {
		t.Errorf("List = %v, %v", runs, err)
	}
}

func TestClientWatchUntilDone(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := c.Submit(ctx, SubmitRequest{StrategyID: "rsi-reversion", Symbols: []string{"FLAT"}, InitialCapital: 1000})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The run may finish before the watch starts, so fall back to polling.
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, reply.Run.ID, func(e Event) bool {
			return e.Type != events.BacktestCompleted
		})
	}()

	for {
		got, err := c.Get(ctx, reply.Run.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Run.Status == domain.RunCompleted {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("run did not complete")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil && status.Code(err) != codes.Canceled {
		t.Errorf("Watch: %v", err)
	}
}

func TestClientNotFound(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.Get(context.Background(), "missing"); status.Code(err) != codes.NotFound {
		t.Errorf("Get(missing) code = %v, want NotFound", status.Code(err))
	}
}
