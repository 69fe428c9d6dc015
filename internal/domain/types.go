// Package domain defines the core types shared across strategylab: market
// data bars, rule definitions, positions, trades, and backtest results.
package domain

import "time"

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV candle for one symbol.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// ---------------------------------------------------------------------------
// Rule definitions
// ---------------------------------------------------------------------------

// Condition is the raw, serialized form of a single comparison. Value is a
// number, a numeric string, or an indicator reference prefixed with "$".
type Condition struct {
	Indicator string `json:"indicator" yaml:"indicator"`
	Operator  string `json:"operator" yaml:"operator"`
	Value     any    `json:"value" yaml:"value"`
}

// RuleSet groups conditions under a combining logic ("and" or "or"). An empty
// Logic is treated as "and".
type RuleSet struct {
	Name       string      `json:"name,omitempty" yaml:"name,omitempty"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Logic      string      `json:"logic,omitempty" yaml:"logic,omitempty"`
}

// Strategy is a declarative trading strategy: one entry rule set and an
// ordered list of exit rule sets.
type Strategy struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Entry       RuleSet   `json:"entry" yaml:"entry"`
	Exits       []RuleSet `json:"exits,omitempty" yaml:"exits,omitempty"`
	Symbols     []string  `json:"symbols,omitempty" yaml:"symbols,omitempty"`
	Timeframe   string    `json:"timeframe,omitempty" yaml:"timeframe,omitempty"`
}

// ---------------------------------------------------------------------------
// Simulation output
// ---------------------------------------------------------------------------

// Side is the direction of a position.
type Side string

const (
	SideLong Side = "long"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSignal     ExitReason = "signal"
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
)

// Position is an open long holding in a single symbol.
type Position struct {
	Symbol     string    `json:"symbol"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	EntryTime  time.Time `json:"entry_time"`
}

// Trade is a closed round trip. PnLPercent is expressed in percent.
type Trade struct {
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	Quantity   float64    `json:"quantity"`
	PnL        float64    `json:"pnl"`
	PnLPercent float64    `json:"pnl_percent"`
	ExitReason ExitReason `json:"exit_reason"`
}

// EquityPoint is the marked-to-market account value at one bar.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Metrics summarises a backtest. TotalReturn, WinRate and MaxDrawdown are
// percentages.
type Metrics struct {
	TotalReturn   float64 `json:"total_return"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	ProfitFactor  float64 `json:"profit_factor"`
	GrossProfit   float64 `json:"gross_profit"`
	GrossLoss     float64 `json:"gross_loss"`
	AverageTrade  float64 `json:"average_trade"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
}

// BacktestResult is the full output of a simulation run.
type BacktestResult struct {
	InitialCapital float64       `json:"initial_capital"`
	FinalCapital   float64       `json:"final_capital"`
	Trades         []Trade       `json:"trades"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	Metrics        Metrics       `json:"metrics"`
	OpenPositions  []Position    `json:"open_positions,omitempty"`
	SkippedSymbols []string      `json:"skipped_symbols,omitempty"`
}

// ---------------------------------------------------------------------------
// Run lifecycle
// ---------------------------------------------------------------------------

// RunStatus is the lifecycle state of a backtest run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// BacktestRun describes a requested backtest and tracks its progress.
type BacktestRun struct {
	ID             string    `json:"id"`
	StrategyID     string    `json:"strategy_id"`
	Symbols        []string  `json:"symbols"`
	Timeframe      string    `json:"timeframe"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	InitialCapital float64   `json:"initial_capital"`
	Status         RunStatus `json:"status"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
}
