package recorder

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists the run log to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Debug("sqlite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ingest_runs (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER,
			trade_date  TEXT,
			row_count   INTEGER,
			inserted    INTEGER,
			updated     INTEGER,
			warnings    INTEGER,
			status      TEXT,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON ingest_runs(started_at)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordRun upserts the run by id.
func (r *SQLiteRecorder) RecordRun(run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO ingest_runs
		(id, kind, started_at, finished_at, trade_date, row_count, inserted, updated, warnings, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			trade_date  = excluded.trade_date,
			row_count   = excluded.row_count,
			inserted    = excluded.inserted,
			updated     = excluded.updated,
			warnings    = excluded.warnings,
			status      = excluded.status,
			error       = excluded.error`,
		run.ID.String(), run.Kind, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.TradeDate, run.Rows, run.Inserted, run.Updated, run.Warnings, run.Status, run.Error)
	if err != nil {
		return fmt.Errorf("insert ingest_runs: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (r *SQLiteRecorder) Recent(limit int) ([]Run, error) {
	rows, err := r.db.Query(`SELECT id, kind, started_at, finished_at, trade_date, row_count, inserted,
		updated, warnings, status, error FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ingest_runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run               Run
			id                string
			started, ended    int64
			tradeDate, errStr sql.NullString
			status            sql.NullString
			n, ins, upd, wrn  sql.NullInt64
		)
		if err := rows.Scan(&id, &run.Kind, &started, &ended, &tradeDate, &n, &ins, &upd, &wrn, &status, &errStr); err != nil {
			return nil, fmt.Errorf("scan ingest_runs: %w", err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad run id %q: %w", id, err)
		}
		run.StartedAt = time.UnixMilli(started).UTC()
		run.FinishedAt = time.UnixMilli(ended).UTC()
		run.TradeDate = tradeDate.String
		run.Rows, run.Inserted, run.Updated, run.Warnings = int(n.Int64), int(ins.Int64), int(upd.Int64), int(wrn.Int64)
		run.Status = status.String
		run.Error = errStr.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
