package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"openrange/internal/backtest"
	"openrange/pkg/model"
)

const timeLayout = time.RFC3339Nano

// SQLiteRecorder persists run outputs to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *zap.Logger) (*SQLiteRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so the API can read while a sweep writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger, now: time.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite run archive opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id               TEXT PRIMARY KEY,
			created_at       INTEGER NOT NULL,
			label            TEXT,
			from_ts          TEXT,
			to_ts            TEXT,
			config_json      TEXT NOT NULL,
			stats_json       TEXT NOT NULL,
			days_json        TEXT NOT NULL,
			session_fallback INTEGER NOT NULL,
			total_trades     INTEGER NOT NULL,
			win_rate         REAL,
			total_pnl        TEXT,
			profit_factor    REAL,
			max_drawdown     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,

		`CREATE TABLE IF NOT EXISTS trades (
			run_id          TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			entry_ts        TEXT NOT NULL,
			exit_ts         TEXT NOT NULL,
			direction       TEXT NOT NULL,
			is_primary      INTEGER NOT NULL,
			entry_price     REAL,
			exit_price      REAL,
			stop_price      REAL,
			target_price    REAL,
			reference_close REAL,
			position_size   REAL,
			shares          REAL,
			pnl             REAL,
			exit_reason     TEXT NOT NULL,
			monthly_pnl     REAL,
			PRIMARY KEY (run_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS monthly (
			run_id TEXT NOT NULL,
			year   INTEGER NOT NULL,
			month  INTEGER NOT NULL,
			pnl    REAL,
			trades INTEGER,
			wins   INTEGER,
			losses INTEGER,
			PRIMARY KEY (run_id, year, month)
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// SaveRun archives a finished run and returns its new ID
func (r *SQLiteRecorder) SaveRun(ctx context.Context, label string, res *backtest.Result) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	configJSON, err := json.Marshal(res.Config)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	statsJSON, err := json.Marshal(res.Stats)
	if err != nil {
		return "", fmt.Errorf("encode stats: %w", err)
	}
	daysJSON, err := json.Marshal(res.Days)
	if err != nil {
		return "", fmt.Errorf("encode day summary: %w", err)
	}

	id := uuid.NewString()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var profitFactor sql.NullFloat64
	if !res.Stats.ProfitFactor.Infinite() {
		profitFactor = sql.NullFloat64{Float64: float64(res.Stats.ProfitFactor), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, created_at, label, from_ts, to_ts, config_json, stats_json, days_json,
		 session_fallback, total_trades, win_rate, total_pnl, profit_factor, max_drawdown)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, r.now().UnixNano(), label,
		formatTime(res.From), formatTime(res.To),
		string(configJSON), string(statsJSON), string(daysJSON),
		res.SessionFallback, res.Stats.TotalTrades, res.Stats.WinRate,
		money(res.Stats.TotalPnL), profitFactor, money(res.Stats.MaxDrawdown),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, t := range res.Trades {
		_, err = tx.ExecContext(ctx, `INSERT INTO trades
			(run_id, seq, entry_ts, exit_ts, direction, is_primary, entry_price, exit_price,
			 stop_price, target_price, reference_close, position_size, shares, pnl, exit_reason, monthly_pnl)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			id, i, formatTime(t.EntryTime), formatTime(t.ExitTime), string(t.Direction), t.Primary,
			t.EntryPrice, t.ExitPrice, t.StopPrice, t.TargetPrice, t.ReferenceClose,
			t.PositionSize, t.Shares, t.PnL, string(t.ExitReason), t.MonthlyPnL,
		)
		if err != nil {
			return "", fmt.Errorf("insert trade %d: %w", i, err)
		}
	}

	for _, m := range res.Monthly {
		_, err = tx.ExecContext(ctx, `INSERT INTO monthly
			(run_id, year, month, pnl, trades, wins, losses)
			VALUES (?,?,?,?,?,?,?)`,
			id, m.Year, int(m.Month), m.PnL, m.Trades, m.Wins, m.Losses,
		)
		if err != nil {
			return "", fmt.Errorf("insert month %s: %w", m.MonthKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	r.logger.Debug("run archived", zap.String("id", id), zap.Int("trades", len(res.Trades)))
	return id, nil
}

const summaryColumns = `id, created_at, label, from_ts, to_ts, config_json, session_fallback,
	total_trades, win_rate, total_pnl, profit_factor, max_drawdown`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner, extra ...interface{}) (RunSummary, error) {
	var (
		s            RunSummary
		createdAt    int64
		from, to     string
		configJSON   string
		totalPnL     string
		maxDrawdown  string
		profitFactor sql.NullFloat64
	)
	dest := append([]interface{}{
		&s.ID, &createdAt, &s.Label, &from, &to, &configJSON, &s.SessionFallback,
		&s.TotalTrades, &s.WinRate, &totalPnL, &profitFactor, &maxDrawdown,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return s, err
	}

	s.CreatedAt = time.Unix(0, createdAt).UTC()
	s.From = parseTime(from)
	s.To = parseTime(to)
	if err := json.Unmarshal([]byte(configJSON), &s.Config); err != nil {
		return s, fmt.Errorf("decode config: %w", err)
	}
	s.TotalPnL = parseMoney(totalPnL)
	s.MaxDrawdown = parseMoney(maxDrawdown)
	if profitFactor.Valid {
		s.ProfitFactor = backtest.Ratio(profitFactor.Float64)
	} else {
		s.ProfitFactor = backtest.Ratio(math.Inf(1))
	}
	return s, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (r *SQLiteRecorder) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// GetRun loads a run with its trades and monthly buckets
func (r *SQLiteRecorder) GetRun(ctx context.Context, id string) (*Run, error) {
	var statsJSON, daysJSON string
	row := r.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+`, stats_json, days_json FROM runs WHERE id = ?`, id)
	summary, err := scanSummary(row, &statsJSON, &daysJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}

	run := &Run{RunSummary: summary}
	if err := json.Unmarshal([]byte(statsJSON), &run.Stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if err := json.Unmarshal([]byte(daysJSON), &run.Days); err != nil {
		return nil, fmt.Errorf("decode day summary: %w", err)
	}

	if run.Trades, err = r.loadTrades(ctx, id); err != nil {
		return nil, err
	}
	if run.Monthly, err = r.loadMonthly(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

func (r *SQLiteRecorder) loadTrades(ctx context.Context, id string) ([]model.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entry_ts, exit_ts, direction, is_primary,
		entry_price, exit_price, stop_price, target_price, reference_close,
		position_size, shares, pnl, exit_reason, monthly_pnl
		FROM trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	trades := []model.Trade{}
	for rows.Next() {
		var (
			t           model.Trade
			entry, exit string
			direction   string
			reason      string
		)
		if err := rows.Scan(&entry, &exit, &direction, &t.Primary,
			&t.EntryPrice, &t.ExitPrice, &t.StopPrice, &t.TargetPrice, &t.ReferenceClose,
			&t.PositionSize, &t.Shares, &t.PnL, &reason, &t.MonthlyPnL); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.EntryTime = parseTime(entry)
		t.ExitTime = parseTime(exit)
		t.Direction = model.Direction(direction)
		t.ExitReason = model.ExitReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (r *SQLiteRecorder) loadMonthly(ctx context.Context, id string) ([]model.MonthlyBucket, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT year, month, pnl, trades, wins, losses
		FROM monthly WHERE run_id = ? ORDER BY year, month`, id)
	if err != nil {
		return nil, fmt.Errorf("query monthly: %w", err)
	}
	defer rows.Close()

	buckets := []model.MonthlyBucket{}
	for rows.Next() {
		var (
			b     model.MonthlyBucket
			month int
		)
		if err := rows.Scan(&b.Year, &month, &b.PnL, &b.Trades, &b.Wins, &b.Losses); err != nil {
			return nil, fmt.Errorf("scan month: %w", err)
		}
		b.Month = time.Month(month)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// DeleteRun removes a run and its rows
func (r *SQLiteRecorder) DeleteRun(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	for _, table := range []string{"trades", "monthly"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("closing sqlite run archive")
	return r.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// money stores currency totals as exact cent strings
func money(v float64) string {
	return decimal.NewFromFloat(v).Round(2).StringFixed(2)
}

func parseMoney(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
