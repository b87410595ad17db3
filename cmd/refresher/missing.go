package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var missingCmd = &cobra.Command{
	Use:   "missing",
	Short: "List universe tickers with nothing cached",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.close()

		syms, err := a.missing(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range syms {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		a.logger.Info().Int("missing", len(syms)).Msg("missing tickers listed")
		return nil
	},
}

// missing returns universe symbols absent from the cache, in universe order.
func (a *app) missing(ctx context.Context) ([]string, error) {
	syms, err := a.universe()
	if err != nil {
		return nil, err
	}
	cached, err := a.store.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(cached))
	for _, s := range cached {
		have[s] = true
	}
	var out []string
	for _, s := range syms {
		if !have[s] {
			out = append(out, s)
		}
	}
	return out, nil
}
