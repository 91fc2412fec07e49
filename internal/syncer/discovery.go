package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"defiscope/internal/chain"
	"defiscope/internal/dex"
	"defiscope/internal/model"
	"defiscope/internal/storage"
)

// DiscoveryConfig holds runtime settings for entity discovery.
type DiscoveryConfig struct {
	ChunkSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Discovery scans a factory's creation events into pool metadata, resumable
// via the cursor store. Re-running after any interruption re-scans at most the
// chunk that was in flight; upserts by natural key make the replay harmless.
type Discovery struct {
	cfg      DiscoveryConfig
	source   Source
	spec     dex.ProtocolSpec
	decoder  *dex.EventDecoder
	reader   chain.Reader
	entities storage.EntityStore
	cursors  storage.CursorStore
	tokens   *dex.TokenMetaCache
	logger   *zap.Logger
}

// NewDiscovery builds a Discovery with its dependencies.
func NewDiscovery(
	cfg DiscoveryConfig,
	source Source,
	spec dex.ProtocolSpec,
	reader chain.Reader,
	entities storage.EntityStore,
	cursors storage.CursorStore,
	logger *zap.Logger,
) (*Discovery, error) {
	if reader == nil {
		return nil, fmt.Errorf("chain reader is nil")
	}
	if entities == nil || cursors == nil {
		return nil, fmt.Errorf("stores are nil")
	}
	if cfg.ChunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	decoder, err := dex.NewEventDecoder(spec)
	if err != nil {
		return nil, err
	}

	return &Discovery{
		cfg:      cfg,
		source:   source,
		spec:     spec,
		decoder:  decoder,
		reader:   reader,
		entities: entities,
		cursors:  cursors,
		tokens:   dex.NewTokenMetaCache(),
		logger:   logger,
	}, nil
}

// Run scans from the cursor (or the source's birth block) to the chain head
// observed at start, persisting each discovered pool immediately and advancing
// the cursor only after its chunk completes. Returns the full entity set for
// the source, previously known pools included.
func (d *Discovery) Run(ctx context.Context) ([]model.PoolMetadata, error) {
	known, err := d.entities.LoadPools(ctx, d.source.Chain, d.source.Protocol)
	if err != nil {
		return nil, fmt.Errorf("load pools: %w", err)
	}
	result := make(map[string]model.PoolMetadata, len(known))
	for _, pool := range known {
		result[pool.Key()] = pool
	}

	from := d.source.BirthBlock
	cursor, ok, err := d.cursors.LoadCursor(ctx, d.source.MetadataKey())
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	if ok && cursor+1 > from {
		from = cursor + 1
	}

	// Head is fixed once per invocation so a busy chain cannot extend the scan
	// indefinitely.
	head, err := d.latestBlockWithRetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("get head: %w", err)
	}

	if from > head {
		d.logger.Info("discovery up to date",
			zap.String("source", d.source.MetadataKey()),
			zap.Uint64("cursor", cursor),
			zap.Uint64("head", head),
		)
		return sortedPools(result), nil
	}

	ranges, err := SplitRange(from, head, d.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		logs, err := d.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return nil, fmt.Errorf("filter logs [%d,%d]: %w", blockRange.From, blockRange.To, err)
		}

		discovered := make([]model.PoolMetadata, 0, len(logs))
		for _, log := range logs {
			pool, ok := d.poolFromCreationLog(ctx, log)
			if !ok {
				continue
			}
			if _, seen := result[pool.Key()]; seen {
				continue
			}
			result[pool.Key()] = pool
			discovered = append(discovered, pool)
		}

		// Persist before advancing the cursor: a crash between the two loses
		// cursor progress, not entities, and the re-scan converges on upsert.
		if len(discovered) > 0 {
			if err := d.entities.UpsertPools(ctx, discovered); err != nil {
				return nil, fmt.Errorf("upsert pools: %w", err)
			}
		}
		if err := d.cursors.SaveCursor(ctx, d.source.MetadataKey(), blockRange.To); err != nil {
			return nil, fmt.Errorf("save cursor: %w", err)
		}

		d.logger.Info("discovery chunk complete",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("new_pools", len(discovered)),
		)
	}

	return sortedPools(result), nil
}

func (d *Discovery) poolFromCreationLog(ctx context.Context, log types.Log) (model.PoolMetadata, bool) {
	created, err := d.decoder.DecodeCreation(log)
	if err != nil {
		d.logger.Debug("skip undecodable creation log",
			zap.Uint64("block", log.BlockNumber),
			zap.String("tx", log.TxHash.Hex()),
			zap.Error(err),
		)
		return model.PoolMetadata{}, false
	}

	token0, ok := d.resolveToken(ctx, created.Token0)
	if !ok {
		return model.PoolMetadata{}, false
	}
	token1, ok := d.resolveToken(ctx, created.Token1)
	if !ok {
		return model.PoolMetadata{}, false
	}

	birthTs, err := d.blockTimestampWithRetry(ctx, log.BlockNumber)
	if err != nil {
		d.logger.Warn("skip pool, birth timestamp unavailable",
			zap.String("pool", created.Pool),
			zap.Uint64("block", log.BlockNumber),
			zap.Error(err),
		)
		return model.PoolMetadata{}, false
	}

	return model.PoolMetadata{
		Protocol:       d.source.Protocol,
		Chain:          d.source.Chain,
		Version:        d.source.Version,
		Address:        created.Pool,
		PoolID:         model.ComposePoolID(d.source.Factory.Hex(), created.Pool),
		Tokens:         [2]model.Token{token0, token1},
		FeeRate:        created.FeeRate,
		BirthBlock:     log.BlockNumber,
		BirthTimestamp: birthTs,
	}, true
}

// resolveToken fetches token metadata, caching successes. A pool whose token
// lookup fails is skipped rather than aborting the scan.
func (d *Discovery) resolveToken(ctx context.Context, address string) (model.Token, bool) {
	addr := common.HexToAddress(address)
	if token, ok := d.tokens.Get(d.source.Chain, addr); ok {
		return token, true
	}

	var token model.Token
	err := chain.WithRetry(ctx, d.cfg.MaxRetries, d.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		token, err = dex.FetchTokenMeta(ctx, d.reader, d.source.Chain, addr, d.logger)
		return err
	})
	if err != nil {
		d.logger.Warn("skip pool, token metadata unavailable",
			zap.String("token", address),
			zap.Error(err),
		)
		return model.Token{}, false
	}

	d.tokens.Set(d.source.Chain, addr, token)
	return token, true
}

func (d *Discovery) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := chain.WithRetry(ctx, d.cfg.MaxRetries, d.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = d.reader.FilterLogs(ctx, fromBlock, toBlock,
			[]common.Address{d.source.Factory},
			[]common.Hash{d.spec.CreationTopic},
		)
		if err != nil {
			d.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (d *Discovery) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := chain.WithRetry(ctx, d.cfg.MaxRetries, d.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = d.reader.BlockTimestamp(ctx, blockNumber)
		return err
	})
	return ts, err
}

func (d *Discovery) latestBlockWithRetry(ctx context.Context) (uint64, error) {
	var head uint64
	err := chain.WithRetry(ctx, d.cfg.MaxRetries, d.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		head, err = d.reader.LatestBlockNumber(ctx)
		return err
	})
	return head, err
}

func sortedPools(pools map[string]model.PoolMetadata) []model.PoolMetadata {
	out := make([]model.PoolMetadata, 0, len(pools))
	for _, pool := range pools {
		out = append(out, pool)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BirthBlock != out[j].BirthBlock {
			return out[i].BirthBlock < out[j].BirthBlock
		}
		return out[i].Address < out[j].Address
	})
	return out
}
