package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"VNPriceCache/internal/model"
	"VNPriceCache/internal/refresh"
)

func runRefresh(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	syms, err := a.symbols(ctx, tickers, useCached)
	if err != nil {
		return err
	}
	n := attemptsOr(attempts, a.cfg.Refresh.MaxAttempts)
	a.logger.Info().Int("symbols", len(syms)).Int("max_attempts", n).Msg("refresh started")

	summary, err := a.driver.RunUntilCovered(ctx, syms, n,
		refresh.NewBackOff(a.cfg.Refresh.RetryInitial, a.cfg.Refresh.RetryMax))
	if err != nil {
		return fmt.Errorf("refresh aborted: %w", err)
	}
	printSummary(cmd.OutOrStdout(), summary)
	a.notify(ctx, summary)
	return nil
}

func printSummary(w io.Writer, s *model.RunSummary) {
	fmt.Fprintf(w, "run %s (attempt %d) finished in %s\n", s.RunID, s.Attempt, s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	fmt.Fprintf(w, "  updated:    %d\n", len(s.Succeeded))
	fmt.Fprintf(w, "  up to date: %d\n", len(s.Skipped))
	fmt.Fprintf(w, "  failed:     %d\n", len(s.Failed))
	fmt.Fprintf(w, "  rows:       %s\n", humanize.Comma(int64(s.UpdatedRows)))
	for _, name := range s.SourceNames() {
		fmt.Fprintf(w, "  via %-7s %d\n", name+":", s.BySource[name])
	}
	if len(s.Failed) > 0 {
		fmt.Fprintf(w, "failed symbols: %s\n", strings.Join(s.Failed, ", "))
		for _, sym := range s.Failed {
			fmt.Fprintf(w, "  %s: %s\n", sym, s.Reasons[sym])
		}
	}
}
