package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var (
	configPath string
	tickers    []string
	useCached  bool
	attempts   int
)

var rootCmd = &cobra.Command{
	Use:   "refresher",
	Short: "Bring the local OHLCV cache up to date",
	Long: `Runs one refresh pass over the ticker universe: for each symbol the missing
date range is fetched from the primary provider (falling back to the secondary)
and upserted into the SQLite cache. Symbols that fail are reported, not fatal.`,
	SilenceUsage: true,
	RunE:         runRefresh,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "configuration file")
	rootCmd.Flags().StringSliceVarP(&tickers, "ticker", "t", nil, "refresh only these tickers (repeatable or comma-separated)")
	rootCmd.Flags().BoolVar(&useCached, "cached", false, "refresh every symbol already in the cache instead of the universe file")
	rootCmd.Flags().IntVar(&attempts, "attempts", 0, "passes over failed symbols (default refresh.max_attempts)")
	rootCmd.MarkFlagsMutuallyExclusive("ticker", "cached")

	rootCmd.AddCommand(progressCmd, missingCmd, serveCmd)
}

func defaultConfigPath() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "configs/config.yaml"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
