// Package coverage works out which dates a symbol still needs.
package coverage

import (
	"context"
	"time"

	"VNPriceCache/internal/model"
)

// LatestDater is the read side of the price store the inspector needs.
type LatestDater interface {
	LatestDate(ctx context.Context, symbol string) (time.Time, bool, error)
}

// Inspector derives fetch windows from what is already cached.
type Inspector struct {
	store        LatestDater
	historyStart func(today time.Time) time.Time
}

// NewInspector creates an Inspector. historyStart yields the first date to
// fetch for symbols with nothing cached.
func NewInspector(store LatestDater, historyStart func(today time.Time) time.Time) *Inspector {
	return &Inspector{store: store, historyStart: historyStart}
}

// LatestDate returns the latest cached date for symbol, or ok=false when absent.
// Store errors are returned unchanged.
func (i *Inspector) LatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	return i.store.LatestDate(ctx, symbol)
}

// Window returns the minimal range still missing for symbol as of today.
// The window is empty when the latest cached date is today or later.
func (i *Inspector) Window(ctx context.Context, symbol string, today time.Time) (model.FetchWindow, error) {
	end := model.Day(today)
	latest, ok, err := i.store.LatestDate(ctx, symbol)
	if err != nil {
		return model.FetchWindow{}, err
	}
	start := model.Day(i.historyStart(today))
	if ok {
		start = model.Day(latest).AddDate(0, 0, 1)
	}
	return model.FetchWindow{Symbol: symbol, Start: start, End: end}, nil
}
