package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"VNPriceCache/internal/config"
	"VNPriceCache/internal/model"
)

// TCBS fetches daily bars from the TCBS stock-insight API.
type TCBS struct {
	http *httpClient
}

// NewTCBS creates a TCBS adapter.
func NewTCBS(sc config.SourceConfig, proxyURL string, opts ...Option) *TCBS {
	return &TCBS{http: newHTTPClient("tcbs", sc, proxyURL, opts...)}
}

func (t *TCBS) Name() string { return "tcbs" }

// Fetch calls the long-term bars endpoint. countBack is required by v2 and
// bounds the reply; bars before window.Start may still come back.
func (t *TCBS) Fetch(ctx context.Context, w model.FetchWindow) Result {
	if w.Empty() {
		return Result{Outcome: Empty}
	}
	q := url.Values{}
	q.Set("ticker", strings.ToUpper(w.Symbol))
	q.Set("type", "stock")
	q.Set("resolution", "D")
	q.Set("from", strconv.FormatInt(model.Day(w.Start).Unix(), 10))
	q.Set("to", strconv.FormatInt(model.Day(w.End).AddDate(0, 0, 1).Unix(), 10))
	q.Set("countBack", strconv.Itoa(w.Days()))

	req, err := http.NewRequest(http.MethodGet, t.http.baseURL+"/stock-insight/v2/stock/bars-long-term?"+q.Encode(), nil)
	if err != nil {
		return unavailable(err)
	}
	body, err := t.http.do(ctx, req)
	if err != nil {
		return classify(err)
	}
	return parseTCBS(body)
}

func parseTCBS(body []byte) Result {
	if !gjson.ValidBytes(body) {
		if hasRateLimitMarker(string(body)) {
			return rateLimited(fmt.Errorf("tcbs: %s", truncate(body)))
		}
		return unavailable(fmt.Errorf("tcbs: invalid json: %s", truncate(body)))
	}
	doc := gjson.ParseBytes(body)
	for _, key := range []string{"message", "error"} {
		if v := doc.Get(key); v.Exists() && hasRateLimitMarker(v.String()) {
			return rateLimited(fmt.Errorf("tcbs: %s", v.String()))
		}
	}

	data := doc.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return Result{Outcome: Empty}
	}
	if !data.IsArray() {
		return unavailable(fmt.Errorf("tcbs: unexpected data field: %s", truncate([]byte(data.Raw))))
	}

	rows := make([]model.RawRow, 0, len(data.Array()))
	data.ForEach(func(_, item gjson.Result) bool {
		if m, ok := item.Value().(map[string]any); ok {
			rows = append(rows, model.RawRow(m))
		}
		return true
	})
	return ok(rows)
}
