package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"strategylab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ StrategyStore = (*SQLiteStore)(nil)

// moneyPlaces is the precision kept for prices, quantities and capital.
const moneyPlaces = 8

// SQLiteStore implements RunStore and StrategyStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serialise access through one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS strategies (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		definition TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id              TEXT PRIMARY KEY,
		strategy_id     TEXT NOT NULL,
		symbols         TEXT NOT NULL,
		timeframe       TEXT NOT NULL,
		start_ms        INTEGER NOT NULL,
		end_ms          INTEGER NOT NULL,
		initial_capital TEXT NOT NULL,
		status          TEXT NOT NULL,
		error           TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL,
		started_at      INTEGER NOT NULL DEFAULT 0,
		completed_at    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_strategy ON backtest_runs(strategy_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS backtest_results (
		run_id          TEXT PRIMARY KEY,
		initial_capital TEXT NOT NULL,
		final_capital   TEXT NOT NULL,
		total_return    REAL NOT NULL,
		sharpe_ratio    REAL NOT NULL,
		max_drawdown    REAL NOT NULL,
		win_rate        REAL NOT NULL,
		profit_factor   REAL NOT NULL,
		total_trades    INTEGER NOT NULL,
		metrics         TEXT NOT NULL,
		equity_curve    TEXT NOT NULL,
		open_positions  TEXT NOT NULL,
		skipped_symbols TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_trades (
		run_id      TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price  TEXT NOT NULL,
		quantity    TEXT NOT NULL,
		pnl         TEXT NOT NULL,
		pnl_percent REAL NOT NULL,
		entry_time  INTEGER NOT NULL,
		exit_time   INTEGER NOT NULL,
		exit_reason TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

func money(v float64) string {
	return decimal.NewFromFloat(v).Round(moneyPlaces).String()
}

func parseMoney(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ---------------------------------------------------------------------------
// StrategyStore implementation
// ---------------------------------------------------------------------------

// SaveStrategy inserts or replaces a strategy definition.
func (s *SQLiteStore) SaveStrategy(ctx context.Context, st domain.Strategy) error {
	def, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding strategy %s: %w", st.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO strategies (id, name, definition, updated_at) VALUES (?, ?, ?, ?)`,
		st.ID, st.Name, string(def), time.Now().UnixMilli())
	return err
}

// GetStrategy retrieves a strategy definition by ID.
func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (domain.Strategy, error) {
	var def string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM strategies WHERE id = ?`, id).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Strategy{}, fmt.Errorf("strategy %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Strategy{}, err
	}
	return decodeStrategy(def)
}

// ListStrategies returns every stored strategy ordered by ID.
func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]domain.Strategy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM strategies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		st, err := decodeStrategy(def)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func decodeStrategy(def string) (domain.Strategy, error) {
	var st domain.Strategy
	if err := json.Unmarshal([]byte(def), &st); err != nil {
		return domain.Strategy{}, fmt.Errorf("decoding strategy: %w", err)
	}
	return st, nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// CreateRun inserts a new backtest run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.BacktestRun) error {
	symbols, err := json.Marshal(run.Symbols)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO backtest_runs
		(id, strategy_id, symbols, timeframe, start_ms, end_ms, initial_capital, status, error, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StrategyID, string(symbols), run.Timeframe,
		millis(run.Start), millis(run.End), money(run.InitialCapital),
		string(run.Status), run.Error, millis(run.CreatedAt), millis(run.StartedAt), millis(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRunStatus sets the status of a run. Moving to running stamps
// started_at; moving to completed or failed stamps completed_at.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, errMsg string, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	switch status {
	case domain.RunRunning:
		res, err = s.db.ExecContext(ctx,
			`UPDATE backtest_runs SET status = ?, error = ?, started_at = ? WHERE id = ?`,
			string(status), errMsg, millis(at), id)
	case domain.RunCompleted, domain.RunFailed:
		res, err = s.db.ExecContext(ctx,
			`UPDATE backtest_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
			string(status), errMsg, millis(at), id)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE backtest_runs SET status = ?, error = ? WHERE id = ?`,
			string(status), errMsg, id)
	}
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

const runColumns = `id, strategy_id, symbols, timeframe, start_ms, end_ms, initial_capital, status, error, created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.BacktestRun, error) {
	var run domain.BacktestRun
	var symbols, capital, status string
	var startMs, endMs, createdMs, startedMs, completeMs int64
	if err := row.Scan(&run.ID, &run.StrategyID, &symbols, &run.Timeframe, &startMs, &endMs,
		&capital, &status, &run.Error, &createdMs, &startedMs, &completeMs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(symbols), &run.Symbols); err != nil {
		return nil, fmt.Errorf("decoding symbols for run %s: %w", run.ID, err)
	}
	c, err := parseMoney(capital)
	if err != nil {
		return nil, err
	}
	run.InitialCapital = c
	run.Status = domain.RunStatus(status)
	run.Start, run.End = fromMillis(startMs), fromMillis(endMs)
	run.CreatedAt, run.StartedAt, run.CompletedAt = fromMillis(createdMs), fromMillis(startedMs), fromMillis(completeMs)
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q: %w", id, domain.ErrNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first. An empty strategyID
// matches every strategy.
func (s *SQLiteStore) ListRuns(ctx context.Context, strategyID string, limit int) ([]domain.BacktestRun, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + runColumns + ` FROM backtest_runs`
	args := []any{}
	if strategyID != "" {
		q += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	q += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// SaveResult replaces the stored result and trades of a run in one
// transaction.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, res *domain.BacktestResult) error {
	metrics, err := json.Marshal(res.Metrics)
	if err != nil {
		return err
	}
	curve, err := json.Marshal(res.EquityCurve)
	if err != nil {
		return err
	}
	open, err := json.Marshal(res.OpenPositions)
	if err != nil {
		return err
	}
	skipped, err := json.Marshal(res.SkippedSymbols)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM backtest_trades WHERE run_id = ?`, runID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO backtest_results
		(run_id, initial_capital, final_capital, total_return, sharpe_ratio, max_drawdown, win_rate,
		 profit_factor, total_trades, metrics, equity_curve, open_positions, skipped_symbols)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, money(res.InitialCapital), money(res.FinalCapital),
		res.Metrics.TotalReturn, res.Metrics.SharpeRatio, res.Metrics.MaxDrawdown, res.Metrics.WinRate,
		res.Metrics.ProfitFactor, res.Metrics.TotalTrades,
		string(metrics), string(curve), string(open), string(skipped))
	if err != nil {
		return fmt.Errorf("inserting result for %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO backtest_trades
		(run_id, seq, symbol, side, entry_price, exit_price, quantity, pnl, pnl_percent, entry_time, exit_time, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, t := range res.Trades {
		if _, err := stmt.ExecContext(ctx, runID, i, t.Symbol, string(t.Side),
			money(t.EntryPrice), money(t.ExitPrice), money(t.Quantity), money(t.PnL), t.PnLPercent,
			millis(t.EntryTime), millis(t.ExitTime), string(t.ExitReason)); err != nil {
			return fmt.Errorf("inserting trade %d for %s: %w", i, runID, err)
		}
	}
	return tx.Commit()
}

// GetResult retrieves the stored result of a run.
func (s *SQLiteStore) GetResult(ctx context.Context, runID string) (*domain.BacktestResult, error) {
	var initial, final, metrics, curve, open, skipped string
	err := s.db.QueryRowContext(ctx, `SELECT initial_capital, final_capital,
		metrics, equity_curve, open_positions, skipped_symbols FROM backtest_results WHERE run_id = ?`, runID).
		Scan(&initial, &final, &metrics, &curve, &open, &skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result for run %q: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	res := &domain.BacktestResult{}
	if res.InitialCapital, err = parseMoney(initial); err != nil {
		return nil, err
	}
	if res.FinalCapital, err = parseMoney(final); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		src string
		dst any
	}{
		{metrics, &res.Metrics},
		{curve, &res.EquityCurve},
		{open, &res.OpenPositions},
		{skipped, &res.SkippedSymbols},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decoding result for %s: %w", runID, err)
		}
	}

	res.Trades, err = s.listTrades(ctx, runID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLiteStore) listTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, side, entry_price, exit_price, quantity, pnl,
		pnl_percent, entry_time, exit_time, exit_reason FROM backtest_trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Trade{}
	for rows.Next() {
		var t domain.Trade
		var side, reason, entry, exit, qty, pnl string
		var entryMs, exitMs int64
		if err := rows.Scan(&t.Symbol, &side, &entry, &exit, &qty, &pnl, &t.PnLPercent, &entryMs, &exitMs, &reason); err != nil {
			return nil, err
		}
		t.Side, t.ExitReason = domain.Side(side), domain.ExitReason(reason)
		t.EntryTime, t.ExitTime = fromMillis(entryMs), fromMillis(exitMs)
		for _, m := range []struct {
			src string
			dst *float64
		}{{entry, &t.EntryPrice}, {exit, &t.ExitPrice}, {qty, &t.Quantity}, {pnl, &t.PnL}} {
			if *m.dst, err = parseMoney(m.src); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
