// Package refresh brings cached OHLCV history up to date: it plans a fetch
// window per symbol, pulls rows from the primary provider with fallback to
// the secondary, normalizes them and upserts the result.
package refresh

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"VNPriceCache/internal/model"
)

// Column aliases per canonical field, in lookup order.
var columnAliases = map[string][]string{
	"date":   {"date", "time", "tradingDate", "trading_date", "t"},
	"open":   {"open", "o", "Open"},
	"high":   {"high", "h", "High"},
	"low":    {"low", "l", "Low"},
	"close":  {"close", "c", "Close"},
	"volume": {"volume", "v", "Volume", "vol"},
}

// Normalized is the outcome of normalizing one provider reply.
type Normalized struct {
	Bars        []model.PriceBar
	Malformed   int
	OutOfWindow int
	Duplicates  int
	// Incomplete counts kept bars with at least one NULL column.
	Incomplete  int
}

// Dropped returns how many rows did not make it into Bars.
func (n Normalized) Dropped() int { return n.Malformed + n.OutOfWindow + n.Duplicates }

// Normalizer maps provider rows onto canonical bars.
// Instants (unix timestamps, zoned ISO strings) are assigned to the calendar
// date they fall on in loc.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer creates a Normalizer using loc for timestamp dates.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Normalize renames columns, coerces types and keeps rows whose date falls in w.
// Rows without a parseable date or close are counted as malformed; a missing
// or unparseable open, high, low or volume is flagged in Missing and stored
// as NULL. When a reply carries the same date twice the later row wins. Bars
// come back sorted by date.
func (n *Normalizer) Normalize(w model.FetchWindow, rows []model.RawRow) Normalized {
	var out Normalized
	byDate := make(map[time.Time]model.PriceBar, len(rows))

	for _, row := range rows {
		bar, err := n.bar(w.Symbol, row)
		if err != nil {
			out.Malformed++
			continue
		}
		if !w.Contains(bar.Date) {
			out.OutOfWindow++
			continue
		}
		if prev, dup := byDate[bar.Date]; dup {
			out.Duplicates++
			if prev.Missing != 0 {
				out.Incomplete--
			}
		}
		if bar.Missing != 0 {
			out.Incomplete++
		}
		byDate[bar.Date] = bar
	}

	out.Bars = make([]model.PriceBar, 0, len(byDate))
	for _, b := range byDate {
		out.Bars = append(out.Bars, b)
	}
	sort.Slice(out.Bars, func(i, j int) bool { return out.Bars[i].Date.Before(out.Bars[j].Date) })
	return out
}

func (n *Normalizer) bar(symbol string, row model.RawRow) (model.PriceBar, error) {
	rawDate, ok := lookup(row, "date")
	if !ok {
		return model.PriceBar{}, fmt.Errorf("missing date")
	}
	date, err := n.parseDate(rawDate)
	if err != nil {
		return model.PriceBar{}, err
	}

	rawClose, ok := lookup(row, "close")
	if !ok {
		return model.PriceBar{}, fmt.Errorf("missing close")
	}
	closePx, err := toDecimal(rawClose)
	if err != nil {
		return model.PriceBar{}, fmt.Errorf("close: %w", err)
	}

	bar := model.PriceBar{Symbol: symbol, Date: date, Close: closePx.InexactFloat64()}
	optional := []struct {
		name string
		flag model.Field
		set  func(decimal.Decimal)
	}{
		{"open", model.FieldOpen, func(d decimal.Decimal) { bar.Open = d.InexactFloat64() }},
		{"high", model.FieldHigh, func(d decimal.Decimal) { bar.High = d.InexactFloat64() }},
		{"low", model.FieldLow, func(d decimal.Decimal) { bar.Low = d.InexactFloat64() }},
		{"volume", model.FieldVolume, func(d decimal.Decimal) { bar.Volume = d.Round(0).IntPart() }},
	}
	for _, f := range optional {
		v, ok := lookup(row, f.name)
		if !ok {
			bar.Missing |= f.flag
			continue
		}
		d, err := toDecimal(v)
		if err != nil {
			bar.Missing |= f.flag
			continue
		}
		f.set(d)
	}
	return bar, nil
}

func lookup(row model.RawRow, field string) (any, bool) {
	for _, key := range columnAliases[field] {
		if v, ok := row[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

var dateLayouts = []string{
	model.DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
}

// parseDate accepts plain calendar dates, zoned ISO timestamps and unix
// timestamps in seconds or milliseconds, as numbers or numeric strings.
func (n *Normalizer) parseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return model.Day(t.In(n.loc)), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty date")
		}
		if isDigits(s) {
			sec, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return time.Time{}, err
			}
			return n.fromUnix(sec), nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return model.Day(ts.In(n.loc)), nil
		}
		for _, layout := range dateLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return model.Day(ts), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	default:
		d, err := toDecimal(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("date: %w", err)
		}
		return n.fromUnix(d.IntPart()), nil
	}
}

// fromUnix treats values past year 5138 in seconds as milliseconds.
func (n *Normalizer) fromUnix(v int64) time.Time {
	if v > 1e11 {
		return model.Day(time.UnixMilli(v).In(n.loc))
	}
	return model.Day(time.Unix(v, 0).In(n.loc))
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if s == "" {
			return decimal.Decimal{}, fmt.Errorf("empty number")
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported value %T", v)
	}
}
