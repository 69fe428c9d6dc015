package config

import (
	"os"
	"path/filepath"
	"testing"
)

var envVars = []string{
	"DATA_DIR", "SQLITE_PATH", "ALPACA_API_KEY", "ALPACA_API_SECRET",
	"ALPACA_BASE_URL", "ALPACA_DATA_URL", "ALPACA_FEED", "LOG_LEVEL",
	"LOG_FORMAT", "STRATEGYLAB_WORKERS", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
}

// clearEnv blanks every override so host settings don't leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/strategylab/data"
  sqlite_path: "/tmp/strategylab/lab.db"
  market: "cn"
server:
  host: "127.0.0.1"
  grpc_port: 7070
  metrics_port: 0
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  feed: "sip"
logging:
  level: "debug"
  format: "text"
backtest:
  initial_capital: 50000
  warmup_bars: 30
  derive_warmup: true
  take_profit_pct: 0.1
  stop_loss_pct: 0
  annualize_by_timeframe: true
  max_workers: 8
strategies_file: "strategies.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/strategylab/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/strategylab/data")
	}
	if cfg.Storage.Market != "cn" {
		t.Errorf("Storage.Market = %q, want %q", cfg.Storage.Market, "cn")
	}

	// -- Server --
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.GRPCPort != 7070 {
		t.Errorf("Server.GRPCPort = %d, want 7070", cfg.Server.GRPCPort)
	}
	if cfg.Server.MetricsPort != 0 {
		t.Errorf("Server.MetricsPort = %d, want 0", cfg.Server.MetricsPort)
	}

	// -- Alpaca --
	if cfg.Alpaca.Feed != "sip" {
		t.Errorf("Alpaca.Feed = %q, want %q", cfg.Alpaca.Feed, "sip")
	}
	if cfg.Alpaca.DataURL != "https://data.alpaca.markets" {
		t.Errorf("Alpaca.DataURL = %q, want default", cfg.Alpaca.DataURL)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}

	// -- Backtest --
	b := cfg.Backtest
	if b.InitialCapital != 50000 {
		t.Errorf("Backtest.InitialCapital = %v, want 50000", b.InitialCapital)
	}
	if b.PositionFraction != 0.95 {
		t.Errorf("Backtest.PositionFraction = %v, want default 0.95", b.PositionFraction)
	}
	if b.StopLossPct != 0 {
		t.Errorf("Backtest.StopLossPct = %v, want 0", b.StopLossPct)
	}
	if b.MaxWorkers != 8 {
		t.Errorf("Backtest.MaxWorkers = %d, want 8", b.MaxWorkers)
	}
	if cfg.StrategiesFile != "strategies.yaml" {
		t.Errorf("StrategiesFile = %q", cfg.StrategiesFile)
	}

	opts := cfg.BacktestOptions()
	if opts.WarmupBars != 30 || !opts.DeriveWarmup || !opts.AnnualizeByTimeframe {
		t.Errorf("BacktestOptions = %+v", opts)
	}
	if opts.Risk.TakeProfit != 0.1 || opts.Risk.StopLoss != 0 {
		t.Errorf("BacktestOptions.Risk = %+v", opts.Risk)
	}
	if opts.Performance.PeriodsPerYear != 252 || opts.Performance.RiskFreeRate != 0.02 {
		t.Errorf("BacktestOptions.Performance = %+v", opts.Performance)
	}
}

func TestLoadNoFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if cfg.Backtest.InitialCapital != 10000 || cfg.Backtest.WarmupBars != 20 {
		t.Errorf("defaults = %+v", cfg.Backtest)
	}
	if cfg.Storage.Market != "us" {
		t.Errorf("Storage.Market = %q, want us", cfg.Storage.Market)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "backtest: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail for malformed YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "file-key"
  api_secret: "file-secret"
`)

	t.Setenv("DATA_DIR", "/override/data")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("STRATEGYLAB_WORKERS", "2")
	t.Setenv("ALPACA_API_KEY", "alpaca-key")
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	t.Setenv("ALPACA_API_SECRET", "alpaca-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Storage.DataDir != "/override/data" {
		t.Errorf("Storage.DataDir = %q, want override", cfg.Storage.DataDir)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
	if cfg.Backtest.MaxWorkers != 2 {
		t.Errorf("Backtest.MaxWorkers = %d, want 2", cfg.Backtest.MaxWorkers)
	}
	// APCA_* takes priority over ALPACA_*.
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want apca-key", cfg.Alpaca.APIKey)
	}
	if cfg.Alpaca.APISecret != "alpaca-secret" {
		t.Errorf("Alpaca.APISecret = %q, want alpaca-secret", cfg.Alpaca.APISecret)
	}
}

func TestEnvWorkersInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRATEGYLAB_WORKERS", "many")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() should reject a non-numeric STRATEGYLAB_WORKERS")
	}
}
