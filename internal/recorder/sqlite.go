package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"VNPriceCache/internal/model"
)

// SQLiteRecorder writes run history into the price database.
// The connection belongs to the price store; Close leaves it open.
type SQLiteRecorder struct {
	db     *sqlx.DB
	mu     sync.Mutex
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteRecorder creates the history tables on db if needed.
func NewSQLiteRecorder(db *sqlx.DB, logger zerolog.Logger) (*SQLiteRecorder, error) {
	r := &SQLiteRecorder{db: db, logger: logger, now: time.Now}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug().Msg("run history enabled")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS refresh_runs (
			run_id         TEXT    NOT NULL,
			attempt        INTEGER NOT NULL,
			started_at     INTEGER NOT NULL,
			finished_at    INTEGER NOT NULL,
			succeeded      INTEGER,
			skipped        INTEGER,
			failed         INTEGER,
			updated_rows   INTEGER,
			by_source      TEXT,
			failed_symbols TEXT,
			PRIMARY KEY (run_id, attempt)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_finished ON refresh_runs(finished_at)`,

		`CREATE TABLE IF NOT EXISTS refresh_outcomes (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT    NOT NULL,
			attempt      INTEGER NOT NULL,
			timestamp    INTEGER NOT NULL,
			symbol       TEXT    NOT NULL,
			status       TEXT    NOT NULL,
			source       TEXT,
			rows         INTEGER,
			dropped      INTEGER,
			window_start TEXT,
			window_end   TEXT,
			reason       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_run ON refresh_outcomes(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_symbol ON refresh_outcomes(symbol, timestamp)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordOutcome stores one symbol result.
func (r *SQLiteRecorder) RecordOutcome(runID string, attempt int, res model.RefreshResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var start, end string
	if !res.Window.Start.IsZero() {
		start = res.Window.Start.Format(model.DateLayout)
		end = res.Window.End.Format(model.DateLayout)
	}
	_, err := r.db.Exec(`INSERT INTO refresh_outcomes
		(run_id, attempt, timestamp, symbol, status, source, rows, dropped, window_start, window_end, reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		runID, attempt, r.now().Unix(), res.Symbol, string(res.Status), res.Source,
		res.UpdatedRows, res.Dropped, start, end, res.Reason,
	)
	return err
}

// RecordRun stores a pass summary, replacing an earlier write for the same attempt.
func (r *SQLiteRecorder) RecordRun(s *model.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySource, err := json.Marshal(s.BySource)
	if err != nil {
		return fmt.Errorf("marshal by_source: %w", err)
	}
	rec := RunRecord{
		RunID:       s.RunID,
		Attempt:     s.Attempt,
		Started:     s.StartedAt.Unix(),
		Finished:    s.FinishedAt.Unix(),
		Succeeded:   len(s.Succeeded),
		Skipped:     len(s.Skipped),
		Failed:      len(s.Failed),
		UpdatedRows: s.UpdatedRows,
		BySource:    string(bySource),
		FailedList:  strings.Join(s.Failed, ","),
	}
	_, err = r.db.NamedExec(`INSERT OR REPLACE INTO refresh_runs
		(run_id, attempt, started_at, finished_at, succeeded, skipped, failed, updated_rows, by_source, failed_symbols)
		VALUES (:run_id, :attempt, :started_at, :finished_at, :succeeded, :skipped, :failed, :updated_rows, :by_source, :failed_symbols)`,
		rec)
	return err
}

// LastRun returns the most recently finished pass, or ok=false when none is stored.
func (r *SQLiteRecorder) LastRun(ctx context.Context) (RunRecord, bool, error) {
	var rec RunRecord
	err := r.db.GetContext(ctx, &rec, `SELECT run_id, attempt, started_at, finished_at, succeeded, skipped,
		failed, updated_rows, by_source, failed_symbols
		FROM refresh_runs ORDER BY finished_at DESC, attempt DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	rec.StartedAt = time.Unix(rec.Started, 0)
	rec.FinishedAt = time.Unix(rec.Finished, 0)
	return rec, true, nil
}

// FailedSymbols splits the stored failed list.
func (rec RunRecord) FailedSymbols() []string {
	if rec.FailedList == "" {
		return nil
	}
	return strings.Split(rec.FailedList, ",")
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Debug().Msg("closing run history")
	return nil
}
