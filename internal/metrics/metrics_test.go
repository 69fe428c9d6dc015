package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve("127.0.0.1:0")
	defer srv.Close()

	ObserveRun("completed", 150*time.Millisecond)
	TradesTotal.WithLabelValues("take_profit").Inc()
	SkippedSymbolsTotal.Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	want := map[string]bool{
		"strategylab_backtest_runs_total":            false,
		"strategylab_backtest_trades_total":          false,
		"strategylab_backtest_skipped_symbols_total": false,
		"strategylab_backtest_duration_seconds":      false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
		if mf.GetName() == "strategylab_backtest_runs_total" {
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got < 1 {
				t.Errorf("runs_total = %v, want >= 1", got)
			}
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s metric not found", name)
		}
	}
}
