package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"defiscope/internal/syncer"
)

func runTimeframe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	fromArg, _ := cmd.Flags().GetString("from")
	toArg, _ := cmd.Flags().GetString("to")
	useLatestState, _ := cmd.Flags().GetBool("latest")
	chainFilter, _ := cmd.Flags().GetString("chain")
	protocolFilter, _ := cmd.Flags().GetString("protocol")

	windowStart, err := parseTime(fromArg)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	windowEnd, err := parseTime(toArg)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	if windowEnd <= windowStart {
		return fmt.Errorf("window end must be after window start")
	}

	minLiquidity, err := decimal.NewFromString(a.cfg.MinLiquidityUsd)
	if err != nil {
		return fmt.Errorf("invalid min-liquidity-usd %q: %w", a.cfg.MinLiquidityUsd, err)
	}

	sources, specs, err := a.sources(chainFilter, protocolFilter)
	if err != nil {
		return err
	}

	discoveryCfg := syncer.DiscoveryConfig{
		ChunkSize:    a.cfg.ChunkSize,
		MaxRetries:   a.cfg.MaxRetries,
		RetryBackoff: a.cfg.RetryBackoff,
	}
	timeframeCfg := syncer.TimeframeConfig{
		MinLiquidityUsd: minLiquidity,
		MaxRetries:      a.cfg.MaxRetries,
		RetryBackoff:    a.cfg.RetryBackoff,
		Concurrency:     a.cfg.Concurrency,
	}

	for i, source := range sources {
		reader := a.readers[source.Chain]

		// Bring the entity set up to date before replaying: pools created
		// inside the window must exist before their events are attributed.
		discovery, err := syncer.NewDiscovery(
			discoveryCfg,
			source,
			specs[i],
			reader,
			a.entities,
			a.cursors,
			a.logger,
		)
		if err != nil {
			return err
		}
		entities, err := discovery.Run(ctx)
		if err != nil {
			return err
		}

		timeframer, err := syncer.NewTimeframer(timeframeCfg, specs[i], reader, a.resolver, a.logger)
		if err != nil {
			return err
		}

		snapshots, err := timeframer.ComputeTimeframes(ctx, entities, windowStart, windowEnd, useLatestState)
		if err != nil {
			return err
		}

		if err := a.snapshots.PutSnapshots(ctx, snapshots); err != nil {
			return fmt.Errorf("persist snapshots: %w", err)
		}

		a.logger.Info("timeframe complete",
			zap.String("source", source.MetadataKey()),
			zap.Uint64("window_start", windowStart),
			zap.Uint64("window_end", windowEnd),
			zap.Int("entities", len(entities)),
			zap.Int("snapshots", len(snapshots)),
		)
	}

	return nil
}
