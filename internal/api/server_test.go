package api

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/events"
	"strategylab/internal/strategy"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeHistory struct{}

func (fakeHistory) GetHistory(_ context.Context, symbol string, _ domain.Timeframe, _, _ time.Time) ([]domain.Bar, error) {
	if symbol != "UP" {
		return nil, domain.ErrDataUnavailable
	}
	bars := make([]domain.Bar, 40)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c}
	}
	return bars, nil
}

type harness struct {
	conn *grpc.ClientConn
	bus  *events.Bus
	srv  *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := strategy.NewRegistry()
	if err := reg.Register(domain.Strategy{
		ID:      "always",
		Name:    "Always in",
		Entry:   domain.RuleSet{Conditions: []domain.Condition{{Indicator: "close", Operator: "gt", Value: 0}}},
		Symbols: []string{"UP"},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	bus := events.NewBus(16, nil)
	bt := strategy.NewBacktester(fakeHistory{}, strategy.DefaultOptions(), nil)
	eng := engine.NewEngine(reg, engine.NewMemoryRunStore(), bt, bus, nil, nil)
	srv := NewServer(eng, reg, bus, nil)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return &harness{conn: conn, bus: bus, srv: srv}
}

func (h *harness) call(t *testing.T, method string, req any, reply any) error {
	t.Helper()
	in, err := ToStruct(req)
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	out := new(structpb.Struct)
	if err := h.conn.Invoke(context.Background(), method, in, out); err != nil {
		return err
	}
	if reply != nil {
		if err := FromStruct(out, reply); err != nil {
			t.Fatalf("FromStruct: %v", err)
		}
	}
	return nil
}

func TestSubmitBacktestWait(t *testing.T) {
	h := newHarness(t)

	var reply BacktestReply
	err := h.call(t, MethodSubmitBacktest, SubmitBacktestRequest{
		StrategyID:     "always",
		Start:          "2024-01-01",
		End:            "2024-03-01",
		InitialCapital: 10000,
		Wait:           true,
	}, &reply)
	if err != nil {
		t.Fatalf("SubmitBacktest: %v", err)
	}
	if reply.Run == nil || reply.Run.Status != domain.RunCompleted {
		t.Fatalf("Run = %+v, want completed", reply.Run)
	}
	if reply.Result == nil || reply.Result.Metrics.TotalTrades == 0 {
		t.Fatalf("Result = %+v, want trades", reply.Result)
	}
	if !reply.Run.Start.Equal(day0) {
		t.Errorf("Run.Start = %v, want %v", reply.Run.Start, day0)
	}

	var got BacktestReply
	if err := h.call(t, MethodGetBacktest, GetBacktestRequest{RunID: reply.Run.ID}, &got); err != nil {
		t.Fatalf("GetBacktest: %v", err)
	}
	if got.Result == nil || got.Result.FinalCapital != reply.Result.FinalCapital {
		t.Errorf("GetBacktest result = %+v", got.Result)
	}
	if got.Result.Trades[0].ExitReason != domain.ExitTakeProfit {
		t.Errorf("ExitReason = %q, want take_profit", got.Result.Trades[0].ExitReason)
	}

	var list ListBacktestsReply
	if err := h.call(t, MethodListBacktests, ListBacktestsRequest{StrategyID: "always"}, &list); err != nil {
		t.Fatalf("ListBacktests: %v", err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != reply.Run.ID {
		t.Errorf("ListBacktests = %+v", list.Runs)
	}
}

func TestSubmitBacktestAsyncAndWatch(t *testing.T) {
	h := newHarness(t)
	_, ch := h.bus.Subscribe(8)

	var reply BacktestReply
	if err := h.call(t, MethodSubmitBacktest, SubmitBacktestRequest{StrategyID: "always", InitialCapital: 5000}, &reply); err != nil {
		t.Fatalf("SubmitBacktest: %v", err)
	}
	if reply.Run.Status != domain.RunPending {
		t.Errorf("Status = %q, want pending", reply.Run.Status)
	}
	if reply.Result != nil {
		t.Error("async submit should not carry a result")
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.RunID == reply.Run.ID && e.Type == events.BacktestCompleted {
				return
			}
		case <-deadline:
			t.Fatal("no completion event for background run")
		}
	}
}

func TestWatchBacktestsStream(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: "WatchBacktests", ServerStreams: true}
	stream, err := h.conn.NewStream(ctx, desc, MethodWatchBacktests)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	in, _ := ToStruct(WatchBacktestsRequest{RunID: "r-1"})
	if err := stream.SendMsg(in); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}

	// Wait for the subscription to register before publishing.
	go func() {
		time.Sleep(100 * time.Millisecond)
		h.bus.Publish(events.Event{Type: events.BacktestStarted, RunID: "other"})
		h.bus.Publish(events.Event{Type: events.BacktestStarted, RunID: "r-1"})
		h.bus.Publish(events.Event{Type: events.BacktestCompleted, RunID: "r-1"})
	}()

	var got []string
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			break
		}
		var e events.Event
		if err := FromStruct(out, &e); err != nil {
			t.Fatalf("FromStruct: %v", err)
		}
		if e.RunID != "r-1" {
			t.Errorf("received event for %q", e.RunID)
		}
		got = append(got, e.Type)
	}
	if len(got) != 2 || got[1] != events.BacktestCompleted {
		t.Errorf("streamed %v, want [started completed]", got)
	}
}

func TestWatchBacktestsReplaysFinishedRun(t *testing.T) {
	h := newHarness(t)
	h.bus.Publish(events.Event{Type: events.BacktestStarted, RunID: "done"})
	h.bus.Publish(events.Event{Type: events.BacktestFailed, RunID: "done"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: "WatchBacktests", ServerStreams: true}
	stream, err := h.conn.NewStream(ctx, desc, MethodWatchBacktests)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	in, _ := ToStruct(WatchBacktestsRequest{RunID: "done"})
	if err := stream.SendMsg(in); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}

	var got []string
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			break
		}
		var e events.Event
		if err := FromStruct(out, &e); err != nil {
			t.Fatalf("FromStruct: %v", err)
		}
		got = append(got, e.Type)
	}
	if len(got) != 2 || got[1] != events.BacktestFailed {
		t.Errorf("replayed %v, want [started failed]", got)
	}
	if ctx.Err() != nil {
		t.Error("stream did not end after the replayed terminal event")
	}
}

func TestListStrategies(t *testing.T) {
	h := newHarness(t)
	var reply ListStrategiesReply
	if err := h.call(t, MethodListStrategies, struct{}{}, &reply); err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(reply.Strategies) != 1 || reply.Strategies[0].ID != "always" {
		t.Errorf("Strategies = %+v", reply.Strategies)
	}
	if v := reply.Strategies[0].Entry.Conditions[0].Value; v != float64(0) {
		t.Errorf("condition value = %#v, want 0", v)
	}
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		method string
		req    any
		want   codes.Code
	}{
		{"missing strategy id", MethodSubmitBacktest, SubmitBacktestRequest{InitialCapital: 1}, codes.InvalidArgument},
		{"unknown strategy", MethodSubmitBacktest, SubmitBacktestRequest{StrategyID: "nope", InitialCapital: 1}, codes.NotFound},
		{"bad date", MethodSubmitBacktest, SubmitBacktestRequest{StrategyID: "always", InitialCapital: 1, Start: "yesterday"}, codes.InvalidArgument},
		{"zero capital", MethodSubmitBacktest, SubmitBacktestRequest{StrategyID: "always"}, codes.InvalidArgument},
		{"unknown run", MethodGetBacktest, GetBacktestRequest{RunID: "ghost"}, codes.NotFound},
		{"missing run id", MethodGetBacktest, GetBacktestRequest{}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.call(t, tt.method, tt.req, nil)
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	if d, err := parseDate(""); err != nil || !d.IsZero() {
		t.Errorf("parseDate(\"\") = %v, %v", d, err)
	}
	if d, err := parseDate("2024-02-03"); err != nil || d.Day() != 3 {
		t.Errorf("parseDate(date) = %v, %v", d, err)
	}
	if d, err := parseDate("2024-02-03T10:00:00+02:00"); err != nil || d.Hour() != 8 {
		t.Errorf("parseDate(rfc3339) = %v, %v", d, err)
	}
}
