package source

import (
	"context"
	"fmt"
	"strings"

	"VNPriceCache/internal/model"
)

// Outcome is the closed set of results an adapter can report.
type Outcome int

const (
	OK Outcome = iota
	Empty
	RateLimited
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Empty:
		return "empty"
	case RateLimited:
		return "rate_limited"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what an adapter returns for one window. Expected provider faults
// are reported here rather than as Go errors; Err carries detail for logs.
type Result struct {
	Outcome Outcome
	Rows    []model.RawRow
	Err     error
}

// Failed reports whether the fetch produced neither rows nor a valid empty answer.
func (r Result) Failed() bool {
	return r.Outcome == RateLimited || r.Outcome == Unavailable
}

// Reason is a short human description of a non-OK result.
func (r Result) Reason() string {
	if r.Err != nil {
		return r.Outcome.String() + ": " + r.Err.Error()
	}
	return r.Outcome.String()
}

// Source fetches daily bars for a symbol over a window.
type Source interface {
	Name() string
	Fetch(ctx context.Context, w model.FetchWindow) Result
}

// APIError is a non-200 response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: status %d, body: %s", e.Provider, e.StatusCode, body)
}

// rateLimitMarkers are substrings providers put in throttling responses.
var rateLimitMarkers = []string{
	"rate limit",
	"too many requests",
	"quá nhiều request",
}

func hasRateLimitMarker(s string) bool {
	s = strings.ToLower(s)
	for _, m := range rateLimitMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func ok(rows []model.RawRow) Result {
	if len(rows) == 0 {
		return Result{Outcome: Empty}
	}
	return Result{Outcome: OK, Rows: rows}
}

func unavailable(err error) Result {
	return Result{Outcome: Unavailable, Err: err}
}

func rateLimited(err error) Result {
	return Result{Outcome: RateLimited, Err: err}
}
