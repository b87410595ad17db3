package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VNPriceCache/internal/model"
)

func TestObserveResult(t *testing.T) {
	m := New()
	m.ObserveResult(model.RefreshResult{Symbol: "AAA", Status: model.StatusSuccess, UpdatedRows: 10, Dropped: 2})
	m.ObserveResult(model.RefreshResult{Symbol: "BBB", Status: model.StatusFailed})
	m.ObserveResult(model.RefreshResult{Symbol: "CCC", Status: model.StatusSuccess, UpdatedRows: 3})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.symbols.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.symbols.WithLabelValues("FAILED")))
	assert.Equal(t, 13.0, testutil.ToFloat64(m.rowsUpserted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rowsDropped))
}

func TestObserveFetchAndRun(t *testing.T) {
	m := New()
	m.ObserveFetch("vci", "rate_limited")
	m.ObserveFetch("tcbs", "ok")
	m.ObserveFetch("tcbs", "ok")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sourceFetches.WithLabelValues("tcbs", "ok")))

	s := model.NewRunSummary("r1", time.Now())
	s.Failed = []string{"BBB"}
	s.FinishedAt = time.Unix(1720000000, 0)
	m.ObserveRun(s, nil)
	m.ObserveRun(nil, errors.New("store down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("aborted")))
	assert.Equal(t, 1720000000.0, testutil.ToFloat64(m.lastRun))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastFailed))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("vci", "ok")
		m.ObserveResult(model.RefreshResult{Status: model.StatusSuccess})
		m.ObserveRun(nil, nil)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveFetch("vci", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vnpricecache_source_fetches_total{outcome="ok",source="vci"} 1`)
}
