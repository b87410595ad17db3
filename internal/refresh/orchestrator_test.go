package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VNPriceCache/internal/coverage"
	"VNPriceCache/internal/model"
	"VNPriceCache/internal/source"
	"VNPriceCache/internal/store"
)

const (
	pacing        = 800 * time.Millisecond
	fallbackPause = 500 * time.Millisecond
)

// 2024-07-02 18:00 in Ho Chi Minh City.
var now = time.Date(2024, 7, 2, 18, 0, 0, 0, ict)

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
}

func (s *sleepLog) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.waits {
		if w == d {
			n++
		}
	}
	return n
}

type env struct {
	store     *store.Store
	primary   *source.Mock
	secondary *source.Mock
	sleeps    *sleepLog
	orch      *Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := &env{
		store:     st,
		primary:   source.NewMock("vci", 0),
		secondary: source.NewMock("tcbs", 0),
		sleeps:    &sleepLog{},
	}
	inspector := coverage.NewInspector(st, func(time.Time) time.Time { return day("2024-06-24") })
	e.orch = NewOrchestrator(inspector, st, e.primary, e.secondary, Options{
		Pacing:        pacing,
		FallbackPause: fallbackPause,
		Location:      ict,
		Now:           func() time.Time { return now },
		Sleep:         e.sleeps.sleep,
		Logger:        zerolog.Nop(),
	})
	return e
}

func rows(dates ...string) []model.RawRow {
	out := make([]model.RawRow, 0, len(dates))
	for i, d := range dates {
		p := 100.0 + float64(i)
		out = append(out, model.RawRow{
			"tradingDate": d, "open": p, "high": p + 1, "low": p - 1, "close": p, "volume": 1000.0,
		})
	}
	return out
}

func okResult(dates ...string) source.Result {
	return source.Result{Outcome: source.OK, Rows: rows(dates...)}
}

func (e *env) seed(t *testing.T, symbol string, dates ...string) {
	t.Helper()
	bars := make([]model.PriceBar, 0, len(dates))
	for _, d := range dates {
		bars = append(bars, model.PriceBar{Symbol: symbol, Date: day(d), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	}
	_, err := e.store.Upsert(context.Background(), symbol, bars)
	require.NoError(t, err)
}

func (e *env) count(t *testing.T, symbol string) int {
	t.Helper()
	n, err := e.store.Count(context.Background(), symbol)
	require.NoError(t, err)
	return n
}

func TestRefresh_NewSymbolStartsAtHistoryStart(t *testing.T) {
	e := newEnv(t)
	e.primary.BasePrice = 50000

	res, err := e.orch.Refresh(context.Background(), " aaa ")
	require.NoError(t, err)

	calls := e.primary.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "AAA", calls[0].Symbol)
	assert.Equal(t, day("2024-06-24"), calls[0].Start)
	assert.Equal(t, day("2024-07-02"), calls[0].End)

	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "vci", res.Source)
	assert.Equal(t, 7, res.UpdatedRows) // weekdays 06-24..07-02
	assert.Equal(t, 7, e.count(t, "AAA"))
	assert.Equal(t, 1, e.sleeps.count(pacing))
	assert.Empty(t, e.secondary.Calls())
}

func TestRefresh_IncrementalWindow(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "AAA", "2024-06-27", "2024-06-28", "2024-06-30")
	e.primary.Script("AAA", okResult("2024-07-01", "2024-07-02"))

	res, err := e.orch.Refresh(context.Background(), "AAA")
	require.NoError(t, err)

	calls := e.primary.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, day("2024-07-01"), calls[0].Start)
	assert.Equal(t, day("2024-07-02"), calls[0].End)
	assert.Equal(t, 2, res.UpdatedRows)
	assert.Equal(t, 5, e.count(t, "AAA"))

	earlier, err := e.store.Bars(context.Background(), "AAA", day("2024-06-27"), day("2024-06-30"))
	require.NoError(t, err)
	require.Len(t, earlier, 3)
	for _, b := range earlier {
		assert.Equal(t, 1.0, b.Close, b.DateString())
	}
}

func TestRefresh_UpToDateSkipsNetwork(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "AAA", "2024-07-02")

	res, err := e.orch.Refresh(context.Background(), "AAA")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkippedUpToDate, res.Status)
	assert.Empty(t, e.primary.Calls())
	assert.Empty(t, e.secondary.Calls())
	assert.Empty(t, e.sleeps.waits)
}

func TestRefresh_Idempotent(t *testing.T) {
	e := newEnv(t)
	e.primary.BasePrice = 100

	_, err := e.orch.Refresh(context.Background(), "AAA")
	require.NoError(t, err)
	first := e.count(t, "AAA")

	res, err := e.orch.Refresh(context.Background(), "AAA")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkippedUpToDate, res.Status)
	assert.Equal(t, first, e.count(t, "AAA"))
}

func TestRefresh_OverlappingReplyDoesNotDuplicate(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "AAA", "2024-06-28")
	// provider counts back in sessions and repeats a cached day
	e.primary.Script("AAA", okResult("2024-06-28", "2024-07-01", "2024-07-02"))

	res, err := e.orch.Refresh(context.Background(), "AAA")
	require.NoError(t, err)
	assert.Equal(t, 2, res.UpdatedRows)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 3, e.count(t, "AAA"))
}

func TestRefresh_FallbackOnRateLimit(t *testing.T) {
	e := newEnv(t)
	e.primary.Script("AAA", source.Result{Outcome: source.RateLimited, Err: errors.New("429")})
	e.secondary.Script("AAA", okResult("2024-07-01", "2024-07-02"))

	res, err := e.orch.Refresh(context.Background(), "AAA")
	require.NoError(t, err)

	require.Len(t, e.secondary.Calls(), 1)
	assert.Equal(t, e.primary.Calls()[0], e.secondary.Calls()[0])
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "tcbs", res.Source)
	assert.Equal(t, 2, res.UpdatedRows)
	assert.Equal(t, 1, e.sleeps.count(fallbackPause))
	assert.Equal(t, 1, e.sleeps.count(pacing))
}

func TestRefresh_BothSourcesFail(t *testing.T) {
	e := newEnv(t)
	e.primary.Script("AAA", source.Result{Outcome: source.RateLimited, Err: errors.New("quá nhiều request")})
	e.secondary.Script("AAA", source.Result{Outcome: source.Unavailable, Err: errors.New("connection refused")})

	res, err := e.orch.Refresh(context.Background(), "AAA")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Contains(t, res.Reason, "vci rate_limited")
	assert.Contains(t, res.Reason, "tcbs unavailable")
	assert.Zero(t, e.count(t, "AAA"))
	assert.Equal(t, 1, e.sleeps.count(pacing))
}

func TestRefresh_EmptyIsNotFailure(t *testing.T) {
	e := newEnv(t)
	e.primary.Script("AAA", source.Result{Outcome: source.Empty})
	e.secondary.Script("AAA", source.Result{Outcome: source.Unavailable})

	res, err := e.orch.Refresh(context.Background(), "AAA")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "vci", res.Source)
	assert.Zero(t, res.UpdatedRows)
	require.Len(t, e.secondary.Calls(), 1)
}

func TestRefresh_MalformedRowTolerance(t *testing.T) {
	e := newEnv(t)
	reply := okResult("2024-07-01", "2024-07-02")
	reply.Rows = append(reply.Rows, model.RawRow{"tradingDate": "31/31/2024", "close": 1.0})
	e.primary.Script("AAA", reply)

	res, err := e.orch.Refresh(context.Background(), "AAA")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, 2, res.UpdatedRows)
	assert.Equal(t, 1, res.Dropped)
}

func TestRefresh_StoreUnavailable(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.Close())

	_, err := e.orch.Refresh(context.Background(), "AAA")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Empty(t, e.primary.Calls())
}

func TestRefresh_Cancelled(t *testing.T) {
	e := newEnv(t)
	e.primary.Script("AAA", source.Result{Outcome: source.Unavailable})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.orch.Refresh(ctx, "AAA")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToday_UsesMarketTimezone(t *testing.T) {
	// 2024-07-01 23:30 UTC is already 2024-07-02 in Ho Chi Minh City.
	o := NewOrchestrator(nil, nil, nil, nil, Options{
		Location: ict,
		Now:      func() time.Time { return time.Date(2024, 7, 1, 23, 30, 0, 0, time.UTC) },
	})
	assert.Equal(t, day("2024-07-02"), o.Today())
}
