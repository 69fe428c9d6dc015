package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"strategylab/internal/performance"
	"strategylab/internal/strategy"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for strategylab.
type Config struct {
	Storage        Storage  `yaml:"storage"`
	Server         Server   `yaml:"server"`
	Alpaca         Alpaca   `yaml:"alpaca"`
	Logging        Logging  `yaml:"logging"`
	Backtest       Backtest `yaml:"backtest"`
	StrategiesFile string   `yaml:"strategies_file"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	Market     string `yaml:"market"`
}

// Server holds network listener configuration. A zero MetricsPort disables
// the metrics listener.
type Server struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds simulation defaults. Percentages are fractions of the
// entry price.
type Backtest struct {
	InitialCapital       float64 `yaml:"initial_capital"`
	WarmupBars           int     `yaml:"warmup_bars"`
	DeriveWarmup         bool    `yaml:"derive_warmup"`
	PositionFraction     float64 `yaml:"position_fraction"`
	TakeProfitPct        float64 `yaml:"take_profit_pct"`
	StopLossPct          float64 `yaml:"stop_loss_pct"`
	RiskFreeRate         float64 `yaml:"risk_free_rate"`
	PeriodsPerYear       float64 `yaml:"periods_per_year"`
	AnnualizeByTimeframe bool    `yaml:"annualize_by_timeframe"`
	MaxWorkers           int     `yaml:"max_workers"`
}

// Defaults returns the reference configuration.
func Defaults() *Config {
	risk := strategy.DefaultRiskLimits()
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/strategylab.db",
			Market:     "us",
		},
		Server: Server{
			Host:        "0.0.0.0",
			GRPCPort:    9090,
			MetricsPort: 9100,
		},
		Alpaca: Alpaca{
			BaseURL:         "https://paper-api.alpaca.markets",
			DataURL:         "https://data.alpaca.markets",
			Feed:            "iex",
			RateLimitPerMin: 200,
		},
		Logging: Logging{Level: "info", Format: "json"},
		Backtest: Backtest{
			InitialCapital:   10000,
			WarmupBars:       strategy.DefaultWarmupBars,
			PositionFraction: risk.PositionFraction,
			TakeProfitPct:    risk.TakeProfit,
			StopLossPct:      risk.StopLoss,
			RiskFreeRate:     performance.DefaultRiskFreeRate,
			PeriodsPerYear:   performance.DefaultPeriodsPerYear,
			MaxWorkers:       4,
		},
	}
}

// BacktestOptions converts the backtest section to simulator options.
func (c *Config) BacktestOptions() strategy.Options {
	b := c.Backtest
	return strategy.Options{
		WarmupBars:   b.WarmupBars,
		DeriveWarmup: b.DeriveWarmup,
		Risk: strategy.RiskLimits{
			PositionFraction: b.PositionFraction,
			TakeProfit:       b.TakeProfitPct,
			StopLoss:         b.StopLossPct,
		},
		Performance: performance.Options{
			RiskFreeRate:   b.RiskFreeRate,
			PeriodsPerYear: b.PeriodsPerYear,
		},
		AnnualizeByTimeframe: b.AnnualizeByTimeframe,
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over Defaults and
// then applies environment variable overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("STRATEGYLAB_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STRATEGYLAB_WORKERS=%q: %w", v, err)
		}
		cfg.Backtest.MaxWorkers = n
	}

	// Standard Alpaca env vars win over the ALPACA_* names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
