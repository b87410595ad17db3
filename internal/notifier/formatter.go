package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"VNPriceCache/internal/model"
)

// maxListed caps how many failed tickers a message spells out.
const maxListed = 20

// FormatRunSummary formats a refresh summary into a Telegram message.
func FormatRunSummary(s *model.RunSummary) string {
	var b strings.Builder

	icon := "✅"
	if len(s.Failed) > 0 {
		icon = "⚠️"
	}
	fmt.Fprintf(&b, "%s <b>OHLCV refresh</b> | %s\n\n", icon, s.FinishedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Symbols: %d (attempt %d)\n", s.Total(), s.Attempt)
	fmt.Fprintf(&b, "Updated: %d\n", len(s.Succeeded))
	fmt.Fprintf(&b, "Up to date: %d\n", len(s.Skipped))
	fmt.Fprintf(&b, "Failed: %d\n", len(s.Failed))
	fmt.Fprintf(&b, "Rows written: %s\n", humanize.Comma(int64(s.UpdatedRows)))

	if names := s.SourceNames(); len(names) > 0 {
		parts := make([]string, 0, len(names))
		for _, n := range names {
			parts = append(parts, fmt.Sprintf("%s %d", n, s.BySource[n]))
		}
		fmt.Fprintf(&b, "Sources: %s\n", strings.Join(parts, ", "))
	}
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Elapsed: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	}

	if len(s.Failed) > 0 {
		b.WriteString("\n<b>Failed:</b>\n")
		for i, sym := range s.Failed {
			if i == maxListed {
				fmt.Fprintf(&b, "  … and %d more\n", len(s.Failed)-maxListed)
				break
			}
			fmt.Fprintf(&b, "  %s: %s\n", sym, html.EscapeString(shorten(s.Reasons[sym], 80)))
		}
	}
	return b.String()
}

// CacheStatus is a point-in-time view of the cache for status replies.
type CacheStatus struct {
	Universe  int
	Cached    int
	Current   int
	Rows      int64
	Latest    string
	FileBytes int64
	LastRun   time.Time
	LastFail  int
}

// FormatCacheStatus formats cache coverage for a /status reply.
func FormatCacheStatus(st CacheStatus) string {
	var b strings.Builder
	b.WriteString("📦 <b>Price cache</b>\n\n")
	if st.Universe > 0 {
		fmt.Fprintf(&b, "Current: %d/%d (%.1f%%)\n", st.Current, st.Universe, 100*float64(st.Current)/float64(st.Universe))
	}
	fmt.Fprintf(&b, "Cached symbols: %d\n", st.Cached)
	fmt.Fprintf(&b, "Rows: %s\n", humanize.Comma(st.Rows))
	if st.Latest != "" {
		fmt.Fprintf(&b, "Latest bar: %s\n", st.Latest)
	}
	fmt.Fprintf(&b, "Size: %s\n", humanize.Bytes(uint64(st.FileBytes)))
	if !st.LastRun.IsZero() {
		fmt.Fprintf(&b, "Last run: %s (%d failed)\n", humanize.Time(st.LastRun), st.LastFail)
	}
	return b.String()
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
