package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"defiscope/internal/chain"
	"defiscope/internal/config"
	"defiscope/internal/dex"
	"defiscope/internal/pricing"
	"defiscope/internal/storage"
	"defiscope/internal/storage/postgres"
	"defiscope/internal/syncer"
)

// app bundles the runtime dependencies shared by all subcommands: one chain
// client per configured RPC endpoint, the price resolver loaded with every
// configured strategy, and the storage backend (Postgres when a DSN is set,
// local files otherwise).
type app struct {
	cfg    config.Config
	logger *zap.Logger

	clients map[string]*chain.Client
	readers map[string]chain.Reader

	resolver *pricing.Resolver

	entities  storage.EntityStore
	cursors   storage.CursorStore
	snapshots storage.SnapshotSink
	pg        *postgres.Store
}

func buildApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*chain.Client, len(cfg.Chains)),
		readers: make(map[string]chain.Reader, len(cfg.Chains)),
	}

	for name, rpcURL := range cfg.Chains {
		client, err := chain.NewClient(ctx, rpcURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("dial chain %s: %w", name, err)
		}
		a.clients[name] = client
		a.readers[name] = client
	}

	a.resolver = pricing.NewResolver(a.readers, logger)
	for _, sc := range cfg.Strategies {
		chainName, token, strategy, err := strategyFromConfig(sc)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.resolver.Register(chainName, token, strategy)
	}

	if cfg.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.pg = store
		a.entities = store
		a.cursors = store
		a.snapshots = store
	} else {
		a.entities = storage.NewFilePoolStore(cfg.PoolFile)
		a.cursors = storage.NewFileCursorStore(cfg.CursorFile)
		a.snapshots = storage.NewJsonlSnapshotSink(cfg.SnapshotOut)
	}

	return a, nil
}

func (a *app) Close() {
	for _, client := range a.clients {
		client.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// sources returns the configured sources matching the optional chain/protocol
// filters, paired with their derived protocol specs.
func (a *app) sources(chainFilter, protocolFilter string) ([]syncer.Source, []dex.ProtocolSpec, error) {
	var (
		sources []syncer.Source
		specs   []dex.ProtocolSpec
	)
	for _, sc := range a.cfg.Sources {
		if chainFilter != "" && sc.Chain != chainFilter {
			continue
		}
		if protocolFilter != "" && sc.Protocol != protocolFilter {
			continue
		}
		source, spec, err := sourceFromConfig(sc)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := a.readers[source.Chain]; !ok {
			return nil, nil, fmt.Errorf("source %s: chain %q has no RPC endpoint configured", source.MetadataKey(), source.Chain)
		}
		sources = append(sources, source)
		specs = append(specs, spec)
	}
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("no sources match the given filters")
	}
	return sources, specs, nil
}

func sourceFromConfig(sc config.SourceConfig) (syncer.Source, dex.ProtocolSpec, error) {
	family, err := parseFamily(sc.Family)
	if err != nil {
		return syncer.Source{}, dex.ProtocolSpec{}, fmt.Errorf("source %s/%s: %w", sc.Chain, sc.Protocol, err)
	}
	factory, err := parseAddress(sc.Factory)
	if err != nil {
		return syncer.Source{}, dex.ProtocolSpec{}, fmt.Errorf("source %s/%s: factory: %w", sc.Chain, sc.Protocol, err)
	}

	spec, err := dex.NewProtocolSpec(sc.Protocol, sc.Version, family, sc.FeeRate)
	if err != nil {
		return syncer.Source{}, dex.ProtocolSpec{}, err
	}

	return syncer.Source{
		Chain:      sc.Chain,
		Protocol:   sc.Protocol,
		Version:    sc.Version,
		Factory:    factory,
		BirthBlock: sc.BirthBlock,
	}, spec, nil
}

func strategyFromConfig(sc config.StrategyConfig) (string, common.Address, pricing.Strategy, error) {
	token, err := parseAddress(sc.Token)
	if err != nil {
		return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: token: %w", sc.Chain, sc.Token, err)
	}

	var strategy pricing.Strategy
	switch pricing.Kind(sc.Kind) {
	case pricing.KindConstant:
		price, err := decimal.NewFromString(sc.Price)
		if err != nil {
			return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: price: %w", sc.Chain, sc.Token, err)
		}
		strategy = pricing.Strategy{Kind: pricing.KindConstant, ConstantPrice: price}

	case pricing.KindAggregator:
		feed, err := parseAddress(sc.Feed)
		if err != nil {
			return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: feed: %w", sc.Chain, sc.Token, err)
		}
		strategy = pricing.Strategy{Kind: pricing.KindAggregator, Feed: feed}

	case pricing.KindAmmPool:
		pool, err := parseAddress(sc.Pool)
		if err != nil {
			return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: pool: %w", sc.Chain, sc.Token, err)
		}
		base, err := parseAddress(sc.BaseToken)
		if err != nil {
			return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: base token: %w", sc.Chain, sc.Token, err)
		}
		family, err := parseFamily(sc.Family)
		if err != nil {
			return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: %w", sc.Chain, sc.Token, err)
		}
		if sc.BaseIndex != 0 && sc.BaseIndex != 1 {
			return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: base index must be 0 or 1", sc.Chain, sc.Token)
		}
		strategy = pricing.Strategy{
			Kind:          pricing.KindAmmPool,
			Pool:          pool,
			Family:        family,
			BaseToken:     base,
			BaseIndex:     sc.BaseIndex,
			BaseDecimals:  sc.BaseDecimals,
			QuotaDecimals: sc.QuotaDecimals,
		}

	case pricing.KindWrapped:
		wrapper, err := parseAddress(sc.Wrapper)
		if err != nil {
			return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: wrapper: %w", sc.Chain, sc.Token, err)
		}
		underlying, err := parseAddress(sc.Underlying)
		if err != nil {
			return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: underlying: %w", sc.Chain, sc.Token, err)
		}
		if sc.RateMethod == "" {
			return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: rate method is required", sc.Chain, sc.Token)
		}
		strategy = pricing.Strategy{
			Kind:         pricing.KindWrapped,
			Wrapper:      wrapper,
			RateMethod:   sc.RateMethod,
			RateDecimals: sc.RateDecimals,
			Underlying:   underlying,
		}

	default:
		return "", common.Address{}, pricing.Strategy{}, fmt.Errorf("strategy for %s/%s: unknown kind %q", sc.Chain, sc.Token, sc.Kind)
	}

	return sc.Chain, token, strategy, nil
}

func parseFamily(value string) (dex.Family, error) {
	switch dex.Family(value) {
	case dex.FamilyConstantProduct, dex.FamilyTickPool:
		return dex.Family(value), nil
	default:
		return "", fmt.Errorf("unknown pool family %q", value)
	}
}

func parseAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(value), nil
}
