package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"VNPriceCache/internal/notifier"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Report how much of the universe is cached",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.close()

		st, err := a.status(cmd.Context())
		if err != nil {
			return err
		}
		cachedInUniverse, missing := 0, 0
		if st.Universe > 0 {
			m, err := a.missing(cmd.Context())
			if err != nil {
				return err
			}
			missing = len(m)
			cachedInUniverse = st.Universe - missing
		}
		printProgress(cmd.OutOrStdout(), st, cachedInUniverse, missing)
		return nil
	},
}

const barWidth = 40

func printProgress(w io.Writer, st notifier.CacheStatus, cached, missing int) {
	fmt.Fprintln(w, "CACHE PROGRESS REPORT")
	fmt.Fprintln(w, strings.Repeat("=", barWidth))
	pct := 0.0
	if st.Universe > 0 {
		pct = 100 * float64(cached) / float64(st.Universe)
		fmt.Fprintf(w, "Cached stocks:  %3d / %d (%.1f%%)\n", cached, st.Universe, pct)
		fmt.Fprintf(w, "Missing stocks: %3d\n", missing)
		fmt.Fprintf(w, "Current:        %3d\n", st.Current)
	} else {
		fmt.Fprintf(w, "Cached stocks:  %3d (no universe file)\n", st.Cached)
	}
	fmt.Fprintf(w, "Total records:  %s\n", humanize.Comma(st.Rows))
	if st.Latest != "" {
		fmt.Fprintf(w, "Latest bar:     %s\n", st.Latest)
	}
	fmt.Fprintf(w, "Database size:  %s\n", humanize.Bytes(uint64(st.FileBytes)))
	if !st.LastRun.IsZero() {
		fmt.Fprintf(w, "Last run:       %s, %d failed\n", humanize.Time(st.LastRun), st.LastFail)
	}
	if st.Universe > 0 {
		fmt.Fprintf(w, "Progress: [%s] %.1f%%\n", bar(pct, barWidth), pct)
	}
}

func bar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = max(0, min(width, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
