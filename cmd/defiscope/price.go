package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runPrice(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	chainName, _ := cmd.Flags().GetString("chain")
	tokenArg, _ := cmd.Flags().GetString("token")
	atArg, _ := cmd.Flags().GetString("at")

	if chainName == "" {
		return fmt.Errorf("--chain is required")
	}
	reader, ok := a.readers[chainName]
	if !ok {
		return fmt.Errorf("chain %q has no RPC endpoint configured", chainName)
	}

	token, err := parseAddress(tokenArg)
	if err != nil {
		return fmt.Errorf("--token: %w", err)
	}

	at := uint64(time.Now().Unix())
	if atArg != "" {
		at, err = parseTime(atArg)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}

	blockNumber, err := reader.BlockNumberAtTimestamp(ctx, at)
	if err != nil {
		return fmt.Errorf("resolve block at timestamp: %w", err)
	}

	price, priced := a.resolver.ResolveUsd(ctx, chainName, token, blockNumber)
	if !priced {
		a.logger.Warn("token is unpriced",
			zap.String("chain", chainName),
			zap.String("token", token.Hex()),
			zap.Uint64("block", blockNumber),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "%s @ block %d: unpriced\n", token.Hex(), blockNumber)
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s @ block %d: %s USD\n", token.Hex(), blockNumber, price.String())
	return nil
}
