// Package metrics exposes Prometheus instruments for backtest runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "strategylab_backtest_runs_total", Help: "Backtest runs finished, by status"},
		[]string{"status"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "strategylab_backtest_trades_total", Help: "Closed trades produced by backtests, by exit reason"},
		[]string{"reason"},
	)
	SkippedSymbolsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "strategylab_backtest_skipped_symbols_total", Help: "Symbols skipped for lack of history"},
	)
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strategylab_backtest_duration_seconds",
			Help:    "Wall time of backtest runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(RunsTotal, TradesTotal, SkippedSymbolsTotal, RunDuration)
}

// ObserveRun records a finished run.
func ObserveRun(status string, elapsed time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(elapsed.Seconds())
}

// Serve starts a /metrics listener on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
