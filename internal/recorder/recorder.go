// Package recorder keeps a history of refresh runs next to the price cache.
package recorder

import (
	"time"

	"VNPriceCache/internal/model"
)

// RunRecord is one stored pass over the universe.
type RunRecord struct {
	RunID       string    `db:"run_id"`
	Attempt     int       `db:"attempt"`
	StartedAt   time.Time `db:"-"`
	FinishedAt  time.Time `db:"-"`
	Started     int64     `db:"started_at"`
	Finished    int64     `db:"finished_at"`
	Succeeded   int       `db:"succeeded"`
	Skipped     int       `db:"skipped"`
	Failed      int       `db:"failed"`
	UpdatedRows int       `db:"updated_rows"`
	BySource    string    `db:"by_source"`
	FailedList  string    `db:"failed_symbols"`
}

// Recorder persists run history for later inspection.
type Recorder interface {
	RecordOutcome(runID string, attempt int, r model.RefreshResult) error
	RecordRun(s *model.RunSummary) error
	Close() error
}
