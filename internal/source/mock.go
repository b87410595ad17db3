package source

import (
	"context"
	"sync"
	"time"

	"VNPriceCache/internal/model"
)

// Mock returns controllable results for development and testing.
// Scripted results for a symbol are consumed in order; once exhausted (or when
// none are scripted) Mock generates one synthetic weekday bar per day of the
// window around BasePrice, or reports Empty when BasePrice is zero.
type Mock struct {
	ID        string
	BasePrice float64
	Scripted  map[string][]Result

	mu    sync.Mutex
	calls []model.FetchWindow
}

// NewMock creates a mock source generating bars around basePrice.
func NewMock(id string, basePrice float64) *Mock {
	return &Mock{ID: id, BasePrice: basePrice, Scripted: map[string][]Result{}}
}

func (m *Mock) Name() string {
	if m.ID == "" {
		return "mock"
	}
	return m.ID
}

// Script queues results for symbol.
func (m *Mock) Script(symbol string, results ...Result) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Scripted == nil {
		m.Scripted = map[string][]Result{}
	}
	m.Scripted[symbol] = append(m.Scripted[symbol], results...)
	return m
}

// Calls returns every window Fetch was asked for, in order.
func (m *Mock) Calls() []model.FetchWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.FetchWindow(nil), m.calls...)
}

func (m *Mock) Fetch(_ context.Context, w model.FetchWindow) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, w)

	if queue := m.Scripted[w.Symbol]; len(queue) > 0 {
		m.Scripted[w.Symbol] = queue[1:]
		return queue[0]
	}
	if m.BasePrice == 0 {
		return Result{Outcome: Empty}
	}
	return ok(GenerateRows(w, m.BasePrice))
}

// GenerateRows builds one weekday row per day of w in the TCBS row shape.
func GenerateRows(w model.FetchWindow, basePrice float64) []model.RawRow {
	var rows []model.RawRow
	i := 0
	for d := model.Day(w.Start); !d.After(model.Day(w.End)); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		p := basePrice * (1 + float64(i%20-10)*0.001)
		rows = append(rows, model.RawRow{
			"tradingDate": d.Format(model.DateLayout),
			"open":        p * 0.999,
			"high":        p * 1.005,
			"low":         p * 0.995,
			"close":       p,
			"volume":      float64(1000000),
		})
		i++
	}
	return rows
}
