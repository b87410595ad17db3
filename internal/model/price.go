package model

import "time"

// DateLayout is the on-disk and wire layout for trading dates.
const DateLayout = "2006-01-02"

// PriceBar is one trading day of OHLCV data for one symbol.
// OHLC ordering is not validated; providers occasionally violate it and bars are stored as received.
type PriceBar struct {
	Symbol string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64

	// Missing lists the optional columns the provider did not supply in a
	// usable form. They are stored as NULL rather than zero.
	Missing Field
}

// Field is a set of optional bar columns.
type Field uint8

const (
	FieldOpen Field = 1 << iota
	FieldHigh
	FieldLow
	FieldVolume
)

// Has reports whether every column in f is also set in s.
func (s Field) Has(f Field) bool { return s&f == f }

// DateString returns the bar date in DateLayout.
func (b PriceBar) DateString() string {
	return b.Date.Format(DateLayout)
}

// RawRow is a single provider record before normalization.
// Keys are provider column names; values are whatever the payload carried.
type RawRow map[string]any

// FetchWindow is the inclusive date range still missing for a symbol.
type FetchWindow struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

// Empty reports whether the symbol is already up to date.
func (w FetchWindow) Empty() bool {
	return w.Start.After(w.End)
}

// Contains reports whether d falls inside the window, comparing calendar dates only.
func (w FetchWindow) Contains(d time.Time) bool {
	day := Day(d)
	return !day.Before(Day(w.Start)) && !day.After(Day(w.End))
}

// Days returns the number of calendar days covered by the window.
func (w FetchWindow) Days() int {
	if w.Empty() {
		return 0
	}
	return int(Day(w.End).Sub(Day(w.Start)).Hours()/24) + 1
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a UTC calendar date.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
