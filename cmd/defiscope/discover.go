package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"defiscope/internal/syncer"
)

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	chainFilter, _ := cmd.Flags().GetString("chain")
	protocolFilter, _ := cmd.Flags().GetString("protocol")

	sources, specs, err := a.sources(chainFilter, protocolFilter)
	if err != nil {
		return err
	}

	discoveryCfg := syncer.DiscoveryConfig{
		ChunkSize:    a.cfg.ChunkSize,
		MaxRetries:   a.cfg.MaxRetries,
		RetryBackoff: a.cfg.RetryBackoff,
	}

	for i, source := range sources {
		discovery, err := syncer.NewDiscovery(
			discoveryCfg,
			source,
			specs[i],
			a.readers[source.Chain],
			a.entities,
			a.cursors,
			a.logger,
		)
		if err != nil {
			return err
		}

		pools, err := discovery.Run(ctx)
		if err != nil {
			return err
		}

		a.logger.Info("discovery complete",
			zap.String("source", source.MetadataKey()),
			zap.Int("pools", len(pools)),
		)
	}

	return nil
}
