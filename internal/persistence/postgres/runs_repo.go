package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/simcore/internal/backtest/sim"
	"github.com/sawpanic/simcore/internal/persistence"
)

// Schema creates the archive tables when they do not exist
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	label         TEXT NOT NULL DEFAULT '',
	fingerprint   TEXT NOT NULL,
	config        JSONB NOT NULL,
	symbols       TEXT[] NOT NULL,
	start_date    TIMESTAMPTZ,
	end_date      TIMESTAMPTZ,
	final_equity  DOUBLE PRECISION NOT NULL,
	trade_count   INTEGER NOT NULL,
	rejections    INTEGER NOT NULL,
	metrics       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS runs_fingerprint_idx ON runs (fingerprint);
CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs (created_at DESC);
CREATE TABLE IF NOT EXISTS run_trades (
	run_id              TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	seq                 INTEGER NOT NULL,
	symbol              TEXT NOT NULL,
	entry_date          TIMESTAMPTZ NOT NULL,
	entry_price         DOUBLE PRECISION NOT NULL,
	exit_date           TIMESTAMPTZ NOT NULL,
	exit_price          DOUBLE PRECISION NOT NULL,
	quantity            BIGINT NOT NULL,
	entry_commission    DOUBLE PRECISION NOT NULL,
	exit_commission     DOUBLE PRECISION NOT NULL,
	pnl                 DOUBLE PRECISION NOT NULL,
	holding_period_days INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);`

const runColumns = `id, label, fingerprint, config, symbols, start_date, end_date,
		final_equity, trade_count, rejections, metrics, created_at`

// runsRepo implements persistence.RunRepo for PostgreSQL
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunsRepo creates a PostgreSQL run archive
func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunRepo {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &runsRepo{db: db, timeout: timeout}
}

// Migrate applies Schema
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Insert stores the run and its trades in one transaction
func (r *runsRepo) Insert(ctx context.Context, run persistence.RunRecord, trades []sim.Trade) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(trades)/100+1))
	defer cancel()

	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, label, fingerprint, config, symbols, start_date, end_date,
			final_equity, trade_count, rejections, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Label, run.Fingerprint, configJSON, pq.Array(run.Symbols),
		run.StartDate, run.EndDate, run.FinalEquity, run.TradeCount, run.Rejections, metricsJSON)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("run %s: %w", run.ID, persistence.ErrDuplicateRun)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(trades) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_trades (run_id, seq, symbol, entry_date, entry_price, exit_date,
				exit_price, quantity, entry_commission, exit_commission, pnl, holding_period_days)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, t := range trades {
			_, err = stmt.ExecContext(ctx, run.ID, i, t.Symbol, t.EntryDate, t.EntryPrice,
				t.ExitDate, t.ExitPrice, t.Quantity, t.EntryCommission, t.ExitCommission,
				t.PnL, t.HoldingPeriodDays)
			if err != nil {
				return fmt.Errorf("failed to insert trade %d: %w", i, err)
			}
		}
	}

	return tx.Commit()
}

// Get returns the run, or nil when it does not exist
func (r *runsRepo) Get(ctx context.Context, id string) (*persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs first
func (r *runsRepo) List(ctx context.Context, limit int) ([]persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY created_at DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ListRange returns runs created within the range, most recent first
func (r *runsRepo) ListRange(ctx context.Context, tr persistence.TimeRange, limit int) ([]persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC, id
		LIMIT $3`, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs by range: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ListByFingerprint returns runs that share the same inputs
func (r *runsRepo) ListByFingerprint(ctx context.Context, fingerprint string) ([]persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE fingerprint = $1
		ORDER BY created_at DESC, id`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs by fingerprint: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// Trades returns the trade log of a run
func (r *runsRepo) Trades(ctx context.Context, runID string) ([]sim.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT symbol, entry_date, entry_price, exit_date, exit_price, quantity,
			entry_commission, exit_commission, pnl, holding_period_days
		FROM run_trades
		WHERE run_id = $1
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run trades: %w", err)
	}
	defer rows.Close()

	trades := make([]sim.Trade, 0)
	for rows.Next() {
		var t sim.Trade
		if err := rows.Scan(&t.Symbol, &t.EntryDate, &t.EntryPrice, &t.ExitDate, &t.ExitPrice,
			&t.Quantity, &t.EntryCommission, &t.ExitCommission, &t.PnL, &t.HoldingPeriodDays); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return trades, nil
}

// Count returns the number of archived runs
func (r *runsRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	if err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// Helper methods

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*persistence.RunRecord, error) {
	var (
		run                     persistence.RunRecord
		configJSON, metricsJSON []byte
		startDate, endDate      sql.NullTime
		symbols                 pq.StringArray
	)
	err := row.Scan(&run.ID, &run.Label, &run.Fingerprint, &configJSON, &symbols,
		&startDate, &endDate, &run.FinalEquity, &run.TradeCount, &run.Rejections,
		&metricsJSON, &run.CreatedAt)
	if err != nil {
		return nil, err
	}

	run.Symbols = []string(symbols)
	run.StartDate = startDate.Time
	run.EndDate = endDate.Time
	if err := json.Unmarshal(configJSON, &run.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &run.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	return &run, nil
}

func scanRuns(rows *sqlx.Rows) ([]persistence.RunRecord, error) {
	runs := make([]persistence.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}
