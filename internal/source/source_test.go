package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VNPriceCache/internal/config"
	"VNPriceCache/internal/model"
)

func window(symbol, start, end string) model.FetchWindow {
	s, _ := model.ParseDay(start)
	e, _ := model.ParseDay(end)
	return model.FetchWindow{Symbol: symbol, Start: s, End: e}
}

func testConfig(url string) config.SourceConfig {
	return config.SourceConfig{BaseURL: url, Timeout: 2 * time.Second, RatePerSec: 100}
}

func TestVCI_Fetch(t *testing.T) {
	var got vciRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chart/OHLCChart/gap-chart", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`[{"symbol":"MWG",
			"t":["1719792000","1719878400"],
			"o":[60100,60500],"h":[61000,61200],"l":[59800,60000],
			"c":[60500,61000],"v":[1200300,980000]}]`))
	}))
	defer srv.Close()

	res := NewVCI(testConfig(srv.URL), "").Fetch(context.Background(), window("MWG", "2024-07-01", "2024-07-02"))
	require.Equal(t, OK, res.Outcome, res.Reason())
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "1719792000", res.Rows[0]["t"])
	assert.Equal(t, 60500.0, res.Rows[0]["c"])
	assert.Equal(t, 980000.0, res.Rows[1]["v"])

	assert.Equal(t, "ONE_DAY", got.TimeFrame)
	assert.Equal(t, []string{"MWG"}, got.Symbols)
	assert.Equal(t, 2, got.CountBack)
	assert.Equal(t, time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC).Unix(), got.To)
}

func TestVCI_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Outcome
	}{
		{"empty array", 200, `[]`, Empty},
		{"empty series", 200, `[{"symbol":"MWG","t":[],"o":[],"h":[],"l":[],"c":[],"v":[]}]`, Empty},
		{"http 429", 429, `slow down`, RateLimited},
		{"vietnamese marker", 200, `{"message":"Bạn đã gửi quá nhiều request"}`, RateLimited},
		{"marker in error body", 403, `Rate limit exceeded`, RateLimited},
		{"server error", 502, `bad gateway`, Unavailable},
		{"not json", 200, `<html>`, Unavailable},
		{"object payload", 200, `{"status":"down"}`, Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := NewVCI(testConfig(srv.URL), "").Fetch(context.Background(), window("MWG", "2024-07-01", "2024-07-02"))
			assert.Equal(t, tt.want, res.Outcome, res.Reason())
			assert.Empty(t, res.Rows)
		})
	}
}

func TestVCI_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewVCI(testConfig(url), "").Fetch(context.Background(), window("MWG", "2024-07-01", "2024-07-02"))
	assert.Equal(t, Unavailable, res.Outcome)
	assert.Error(t, res.Err)
	assert.True(t, res.Failed())
}

func TestTCBS_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock-insight/v2/stock/bars-long-term", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "FPT", q.Get("ticker"))
		assert.Equal(t, "D", q.Get("resolution"))
		assert.Equal(t, "5", q.Get("countBack"))
		_, _ = w.Write([]byte(`{"ticker":"FPT","data":[
			{"open":120.1,"high":121,"low":119.5,"close":120.8,"volume":2100000,"tradingDate":"2024-07-01T00:00:00.000Z"},
			{"open":120.8,"high":122,"low":120,"close":121.5,"volume":1900000,"tradingDate":"2024-07-02T00:00:00.000Z"}]}`))
	}))
	defer srv.Close()

	res := NewTCBS(testConfig(srv.URL), "").Fetch(context.Background(), window("fpt", "2024-06-28", "2024-07-02"))
	require.Equal(t, OK, res.Outcome, res.Reason())
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "2024-07-02T00:00:00.000Z", res.Rows[1]["tradingDate"])
	assert.Equal(t, 121.5, res.Rows[1]["close"])
}

func TestTCBS_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Outcome
	}{
		{"no data", 200, `{"ticker":"FPT","data":[]}`, Empty},
		{"null data", 200, `{"ticker":"FPT","data":null}`, Empty},
		{"missing data", 200, `{"ticker":"FPT"}`, Empty},
		{"throttled", 429, `{"message":"Too Many Requests"}`, RateLimited},
		{"error marker", 200, `{"error":"rate limit reached"}`, RateLimited},
		{"not found", 404, `{}`, Unavailable},
		{"bad data", 200, `{"data":"oops"}`, Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := NewTCBS(testConfig(srv.URL), "").Fetch(context.Background(), window("FPT", "2024-07-01", "2024-07-02"))
			assert.Equal(t, tt.want, res.Outcome, res.Reason())
		})
	}
}

func TestEmptyWindowSkipsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	w := window("MWG", "2024-07-03", "2024-07-02")
	assert.Equal(t, Empty, NewVCI(testConfig(srv.URL), "").Fetch(context.Background(), w).Outcome)
	assert.Equal(t, Empty, NewTCBS(testConfig(srv.URL), "").Fetch(context.Background(), w).Outcome)
	assert.Zero(t, calls)
}

func TestMock_ScriptThenGenerate(t *testing.T) {
	m := NewMock("primary", 100).Script("AAA", Result{Outcome: RateLimited})
	w := window("AAA", "2024-07-01", "2024-07-07")

	assert.Equal(t, RateLimited, m.Fetch(context.Background(), w).Outcome)
	res := m.Fetch(context.Background(), w)
	require.Equal(t, OK, res.Outcome)
	assert.Len(t, res.Rows, 5) // weekdays only
	assert.Len(t, m.Calls(), 2)
	assert.Equal(t, "primary", m.Name())
}

func TestNew(t *testing.T) {
	for _, name := range []string{"vci", "tcbs", "mock"} {
		s, err := New(config.SourceConfig{Name: name, BaseURL: "http://x"}, "")
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}
	_, err := New(config.SourceConfig{Name: "ssi"}, "")
	assert.Error(t, err)
}
