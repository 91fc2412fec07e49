package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "defiscope",
		Short:        "EVM DEX market metrics engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Sync pool metadata from factory creation events",
		RunE:  runDiscover,
	}
	addCommonFlags(discoverCmd)
	discoverCmd.Flags().String("chain", "", "restrict to one chain")
	discoverCmd.Flags().String("protocol", "", "restrict to one protocol")
	root.AddCommand(discoverCmd)

	timeframeCmd := &cobra.Command{
		Use:   "timeframe",
		Short: "Compute pool timeframe snapshots for a window",
		RunE:  runTimeframe,
	}
	addCommonFlags(timeframeCmd)
	timeframeCmd.Flags().String("from", "", "window start (unix seconds or RFC3339)")
	timeframeCmd.Flags().String("to", "", "window end (unix seconds or RFC3339)")
	timeframeCmd.Flags().Bool("latest", true, "sample state at window end instead of window start")
	timeframeCmd.Flags().String("chain", "", "restrict to one chain")
	timeframeCmd.Flags().String("protocol", "", "restrict to one protocol")
	root.AddCommand(timeframeCmd)

	priceCmd := &cobra.Command{
		Use:   "price",
		Short: "Resolve a token's USD price at a point in time",
		RunE:  runPrice,
	}
	addCommonFlags(priceCmd)
	priceCmd.Flags().String("chain", "", "chain name")
	priceCmd.Flags().String("token", "", "token address")
	priceCmd.Flags().String("at", "", "timestamp (unix seconds or RFC3339), defaults to now")
	root.AddCommand(priceCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("pg-dsn", "", "Postgres DSN (omit to use local file/JSONL storage)")
	cmd.Flags().String("cursor-file", "./data/cursors.json", "cursor file path when Postgres is not used")
	cmd.Flags().String("pool-file", "./data/pools.json", "pool metadata file path when Postgres is not used")
	cmd.Flags().String("snapshot-out", "./data/snapshots.jsonl", "snapshot JSONL path when Postgres is not used")
	cmd.Flags().Uint64("chunk-size", 2000, "blocks per discovery chunk")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts per RPC call")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Int("concurrency", 4, "parallel entity computations")
	cmd.Flags().String("min-liquidity-usd", "10000", "liquidity threshold for volume attribution")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// parseTime accepts unix seconds or RFC3339.
func parseTime(value string) (uint64, error) {
	if value == "" {
		return 0, fmt.Errorf("time value is required")
	}
	if seconds, err := strconv.ParseUint(value, 10, 64); err == nil {
		return seconds, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", value, err)
	}
	return uint64(parsed.Unix()), nil
}
