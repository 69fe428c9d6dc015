package report

import (
	"strings"
	"testing"
	"time"

	"strategylab/internal/domain"
)

func TestFormatInt(t *testing.T) {
	tests := map[int]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	}
	for in, want := range tests {
		if got := FormatInt(in); got != want {
			t.Errorf("FormatInt(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{10000, "10,000.00"},
		{10484.126, "10,484.13"},
		{-95.5, "-95.50"},
		{0.004, "0.00"},
	}
	for _, tt := range tests {
		if got := FormatMoney(tt.in); got != tt.want {
			t.Errorf("FormatMoney(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPctAndRatio(t *testing.T) {
	if got := FormatPct(4.8412); got != "+4.84%" {
		t.Errorf("FormatPct = %q", got)
	}
	if got := FormatPct(-2); got != "-2.00%" {
		t.Errorf("FormatPct = %q", got)
	}
	if got := FormatRatio(0); got != "-" {
		t.Errorf("FormatRatio(0) = %q, want -", got)
	}
	if got := FormatRatio(1.234); got != "1.23" {
		t.Errorf("FormatRatio = %q", got)
	}
}

func TestSummaryContainsMetrics(t *testing.T) {
	res := &domain.BacktestResult{
		InitialCapital: 10000,
		FinalCapital:   10484.12,
		Metrics:        domain.Metrics{TotalReturn: 4.84, TotalTrades: 3, WinningTrades: 2, LosingTrades: 1, WinRate: 66.7, MaxDrawdown: 1.5},
		SkippedSymbols: []string{"GONE"},
	}
	out := Summary("sma-cross", res)
	for _, want := range []string{"sma-cross", "10,484.12", "+4.84%", "66.7%", "GONE"} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary missing %q:\n%s", want, out)
		}
	}
}

func TestTradesLimit(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var trades []domain.Trade
	for i := 0; i < 5; i++ {
		trades = append(trades, domain.Trade{Symbol: "AAPL", EntryTime: day, ExitTime: day.AddDate(0, 0, 1), EntryPrice: 100, ExitPrice: 101, PnL: 1, ExitReason: domain.ExitSignal})
	}
	out := Trades(trades, 2)
	if got := strings.Count(out, "AAPL"); got != 2 {
		t.Errorf("rendered %d trades, want 2", got)
	}
	if !strings.Contains(out, "3 earlier trades") {
		t.Errorf("missing truncation note:\n%s", out)
	}
	if Trades(nil, 0) == "" {
		t.Error("empty trade list should render a placeholder")
	}
}

func TestRunAndStrategy(t *testing.T) {
	run := domain.BacktestRun{ID: "r1", StrategyID: "s", Status: domain.RunFailed, Symbols: []string{"A", "B"}, Error: "boom"}
	out := Run(run)
	for _, want := range []string{"r1", "failed", "A,B", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("Run missing %q: %s", want, out)
		}
	}

	s := domain.Strategy{
		ID:    "dip",
		Entry: domain.RuleSet{Logic: "or", Conditions: []domain.Condition{{Indicator: "rsi_14", Operator: "lt", Value: 30}, {Indicator: "close", Operator: "lt", Value: "$bb_lower"}}},
		Exits: []domain.RuleSet{{Name: "recover", Conditions: []domain.Condition{{Indicator: "rsi_14", Operator: "gt", Value: 50}}}},
	}
	out = Strategy(s)
	for _, want := range []string{"rsi_14 lt 30 OR close lt $bb_lower", "exit recover:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Strategy missing %q:\n%s", want, out)
		}
	}
}
