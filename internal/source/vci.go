package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"VNPriceCache/internal/config"
	"VNPriceCache/internal/model"
)

// VCI fetches daily bars from the Vietcap chart API.
type VCI struct {
	http *httpClient
}

// NewVCI creates a Vietcap adapter.
func NewVCI(sc config.SourceConfig, proxyURL string, opts ...Option) *VCI {
	return &VCI{http: newHTTPClient("vci", sc, proxyURL, opts...)}
}

func (v *VCI) Name() string { return "vci" }

type vciRequest struct {
	TimeFrame string   `json:"timeFrame"`
	Symbols   []string `json:"symbols"`
	To        int64    `json:"to"`
	CountBack int      `json:"countBack"`
}

// Fetch requests window.Days() bars ending at the window end. The endpoint
// counts back in trading sessions, so the reply can reach before window.Start;
// the orchestrator trims it.
func (v *VCI) Fetch(ctx context.Context, w model.FetchWindow) Result {
	if w.Empty() {
		return Result{Outcome: Empty}
	}
	payload, err := json.Marshal(vciRequest{
		TimeFrame: "ONE_DAY",
		Symbols:   []string{w.Symbol},
		To:        model.Day(w.End).AddDate(0, 0, 1).Unix(),
		CountBack: w.Days(),
	})
	if err != nil {
		return unavailable(fmt.Errorf("vci marshal request: %w", err))
	}
	req, err := http.NewRequest(http.MethodPost, v.http.baseURL+"/chart/OHLCChart/gap-chart", bytes.NewReader(payload))
	if err != nil {
		return unavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := v.http.do(ctx, req)
	if err != nil {
		return classify(err)
	}
	return parseVCI(body)
}

// parseVCI reads the columnar chart reply: one object per symbol with
// parallel t/o/h/l/c/v arrays.
func parseVCI(body []byte) Result {
	if !gjson.ValidBytes(body) {
		if hasRateLimitMarker(string(body)) {
			return rateLimited(fmt.Errorf("vci: %s", truncate(body)))
		}
		return unavailable(fmt.Errorf("vci: invalid json: %s", truncate(body)))
	}
	doc := gjson.ParseBytes(body)
	if msg := doc.Get("message"); msg.Exists() && hasRateLimitMarker(msg.String()) {
		return rateLimited(fmt.Errorf("vci: %s", msg.String()))
	}
	if !doc.IsArray() {
		return unavailable(fmt.Errorf("vci: unexpected payload: %s", truncate(body)))
	}

	series := doc.Get("0")
	if !series.Exists() {
		return Result{Outcome: Empty}
	}
	ts := series.Get("t").Array()
	cols := map[string][]gjson.Result{}
	for _, key := range []string{"o", "h", "l", "c", "v"} {
		cols[key] = series.Get(key).Array()
	}

	rows := make([]model.RawRow, 0, len(ts))
	for i, t := range ts {
		row := model.RawRow{"t": t.Value()}
		for name, col := range cols {
			if i < len(col) {
				row[name] = col[i].Value()
			}
		}
		rows = append(rows, row)
	}
	return ok(rows)
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}
