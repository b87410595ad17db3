package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"VNPriceCache/internal/model"
)

// ErrUnavailable marks failures to open, read or write the price store.
// A run cannot make progress without the store, so callers treat it as fatal.
var ErrUnavailable = errors.New("price store unavailable")

// ErrBadDate marks a stored date that cannot be read as YYYY-MM-DD. It is
// scoped to one symbol and does not make the store unavailable.
var ErrBadDate = errors.New("unreadable stored date")

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Store is the SQLite-backed OHLCV cache keyed by (symbol, date).
type Store struct {
	db     *sqlx.DB
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// Open opens (or creates) the price database and runs migrations.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, unavailable("create data dir", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	// single writer; one connection keeps pragmas and transactions on the same handle
	db.SetMaxOpenConns(1)

	// WAL so the dashboard can read while a refresh is writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, unavailable("set WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, unavailable("set busy timeout", err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}

	logger.Info().Str("path", path).Msg("price store opened")
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ohlcv_data (
			symbol     TEXT    NOT NULL,
			date       TEXT    NOT NULL,
			open       REAL,
			high       REAL,
			low        REAL,
			close      REAL,
			volume     INTEGER,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlcv_date ON ohlcv_data(date)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec %q: %w", q[:40], err)
		}
	}
	return nil
}

// DB exposes the underlying handle so run history can share the file.
func (s *Store) DB() *sqlx.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// dateExpr reads the calendar date of rows written by other tools that keep a
// time part, e.g. "2024-06-28 00:00:00".
const dateExpr = `substr(date, 1, 10)`

// LatestDate returns the most recent cached date for symbol; ok is false when
// the symbol has never been cached.
func (s *Store) LatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var latest sql.NullString
	err := s.db.QueryRowxContext(ctx, `SELECT MAX(`+dateExpr+`) FROM ohlcv_data WHERE symbol = ?`, symbol).Scan(&latest)
	if err != nil {
		return time.Time{}, false, unavailable("latest date", err)
	}
	if !latest.Valid || latest.String == "" {
		return time.Time{}, false, nil
	}
	d, err := model.ParseDay(latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w %q for %s: %w", ErrBadDate, latest.String, symbol, err)
	}
	return d, true, nil
}

// Upsert writes bars for symbol in one transaction. Existing rows with the same
// (symbol, date) are replaced. Returns the number of rows written.
func (s *Store) Upsert(ctx context.Context, symbol string, bars []model.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO ohlcv_data
		(symbol, date, open, high, low, close, volume, updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, unavailable("prepare upsert", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, b := range bars {
		open, high, low, vol := nullable(b)
		if _, err := stmt.ExecContext(ctx, symbol, b.DateString(), open, high, low, b.Close, vol, now); err != nil {
			return 0, unavailable("upsert "+symbol+" "+b.DateString(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit", err)
	}
	return len(bars), nil
}

// nullable maps columns flagged missing to NULL.
func nullable(b model.PriceBar) (open, high, low, volume any) {
	open, high, low, volume = b.Open, b.High, b.Low, b.Volume
	if b.Missing.Has(model.FieldOpen) {
		open = nil
	}
	if b.Missing.Has(model.FieldHigh) {
		high = nil
	}
	if b.Missing.Has(model.FieldLow) {
		low = nil
	}
	if b.Missing.Has(model.FieldVolume) {
		volume = nil
	}
	return open, high, low, volume
}

type barRow struct {
	Symbol string          `db:"symbol"`
	Date   string          `db:"date"`
	Open   sql.NullFloat64 `db:"open"`
	High   sql.NullFloat64 `db:"high"`
	Low    sql.NullFloat64 `db:"low"`
	Close  sql.NullFloat64 `db:"close"`
	Volume sql.NullInt64   `db:"volume"`
}

func (r barRow) bar(d time.Time) model.PriceBar {
	b := model.PriceBar{
		Symbol: r.Symbol, Date: d,
		Open: r.Open.Float64, High: r.High.Float64, Low: r.Low.Float64, Close: r.Close.Float64,
		Volume: r.Volume.Int64,
	}
	for f, valid := range map[model.Field]bool{
		model.FieldOpen:   r.Open.Valid,
		model.FieldHigh:   r.High.Valid,
		model.FieldLow:    r.Low.Valid,
		model.FieldVolume: r.Volume.Valid,
	} {
		if !valid {
			b.Missing |= f
		}
	}
	return b
}

// Bars returns cached bars for symbol in [from, to], oldest first.
// Zero from/to leave that side open.
func (s *Store) Bars(ctx context.Context, symbol string, from, to time.Time) ([]model.PriceBar, error) {
	q := `SELECT symbol, ` + dateExpr + ` AS date, open, high, low, close, volume FROM ohlcv_data WHERE symbol = ?`
	args := []any{symbol}
	if !from.IsZero() {
		q += ` AND ` + dateExpr + ` >= ?`
		args = append(args, from.Format(model.DateLayout))
	}
	if !to.IsZero() {
		q += ` AND ` + dateExpr + ` <= ?`
		args = append(args, to.Format(model.DateLayout))
	}
	q += ` ORDER BY date`

	var rows []barRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, unavailable("select bars", err)
	}
	bars := make([]model.PriceBar, 0, len(rows))
	for _, r := range rows {
		d, err := model.ParseDay(r.Date)
		if err != nil {
			return nil, fmt.Errorf("%w %q for %s: %w", ErrBadDate, r.Date, symbol, err)
		}
		bars = append(bars, r.bar(d))
	}
	return bars, nil
}

// Count returns the number of cached rows for symbol.
func (s *Store) Count(ctx context.Context, symbol string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM ohlcv_data WHERE symbol = ?`, symbol); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// Symbols returns every cached symbol in alphabetical order.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	var syms []string
	if err := s.db.SelectContext(ctx, &syms, `SELECT DISTINCT symbol FROM ohlcv_data ORDER BY symbol`); err != nil {
		return nil, unavailable("list symbols", err)
	}
	return syms, nil
}

// Stats summarizes the whole cache.
type Stats struct {
	Symbols    int            `db:"symbols"`
	Rows       int64          `db:"total_rows"`
	LatestDate sql.NullString `db:"latest_date"`
	FileBytes  int64          `db:"-"`
}

// Stats returns cache-wide counts and the on-disk size including the WAL file.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.GetContext(ctx, &st, `SELECT
			COUNT(DISTINCT symbol)   AS symbols,
			COUNT(*)                 AS total_rows,
			MAX(substr(date, 1, 10)) AS latest_date
		FROM ohlcv_data`)
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	for _, p := range []string{s.path, s.path + "-wal"} {
		if fi, err := os.Stat(p); err == nil {
			st.FileBytes += fi.Size()
		}
	}
	return st, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.logger.Info().Msg("closing price store")
	return s.db.Close()
}
