package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"defiscope/internal/chain"
	"defiscope/internal/dex"
	"defiscope/internal/model"
	"defiscope/internal/pricing"
)

// TimeframeConfig holds runtime settings for timeframe replay.
type TimeframeConfig struct {
	// MinLiquidityUsd gates per-address volume bookkeeping. Pools below it
	// still get metadata and liquidity in their snapshot, but no attribution.
	MinLiquidityUsd decimal.Decimal
	MaxRetries      int
	RetryBackoff    time.Duration
	// Concurrency bounds parallel entity computations; the bound exists for
	// RPC rate limits, not correctness.
	Concurrency int
}

// Timeframer replays pool events over a window into timeframe snapshots for
// one protocol deployment.
type Timeframer struct {
	cfg      TimeframeConfig
	spec     dex.ProtocolSpec
	decoder  *dex.EventDecoder
	reader   chain.Reader
	resolver *pricing.Resolver
	logger   *zap.Logger
}

// NewTimeframer builds a Timeframer with its dependencies.
func NewTimeframer(
	cfg TimeframeConfig,
	spec dex.ProtocolSpec,
	reader chain.Reader,
	resolver *pricing.Resolver,
	logger *zap.Logger,
) (*Timeframer, error) {
	if reader == nil {
		return nil, fmt.Errorf("chain reader is nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("price resolver is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	decoder, err := dex.NewEventDecoder(spec)
	if err != nil {
		return nil, err
	}

	return &Timeframer{
		cfg:      cfg,
		spec:     spec,
		decoder:  decoder,
		reader:   reader,
		resolver: resolver,
		logger:   logger,
	}, nil
}

// ComputeTimeframes computes snapshots for a batch of entities concurrently up
// to the configured bound. Entities not yet existing at the reference block
// are absent from the result rather than zero-filled.
func (t *Timeframer) ComputeTimeframes(
	ctx context.Context,
	entities []model.PoolMetadata,
	windowStart, windowEnd uint64,
	useLatestState bool,
) ([]model.PoolTimeframeSnapshot, error) {
	results := make([]*model.PoolTimeframeSnapshot, len(entities))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(t.cfg.Concurrency)
	for i, entity := range entities {
		i, entity := i, entity
		group.Go(func() error {
			snapshot, err := t.ComputeTimeframe(groupCtx, entity, windowStart, windowEnd, useLatestState)
			if err != nil {
				// One entity's failure is skip-and-continue; the batch result
				// just omits it.
				t.logger.Warn("timeframe computation failed",
					zap.String("pool", entity.Address),
					zap.Error(err),
				)
				return nil
			}
			results[i] = snapshot
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.PoolTimeframeSnapshot, 0, len(entities))
	for _, snapshot := range results {
		if snapshot != nil {
			out = append(out, *snapshot)
		}
	}
	return out, nil
}

// ComputeTimeframe replays one entity over [windowStart, windowEnd]. Returns
// nil when the entity did not exist at the reference block, so callers can
// tell "not yet existing" from "existed but empty".
func (t *Timeframer) ComputeTimeframe(
	ctx context.Context,
	entity model.PoolMetadata,
	windowStart, windowEnd uint64,
	useLatestState bool,
) (*model.PoolTimeframeSnapshot, error) {
	beginBlock, err := t.blockAtTimestampWithRetry(ctx, windowStart)
	if err != nil {
		return nil, fmt.Errorf("resolve begin block: %w", err)
	}
	endBlock, err := t.blockAtTimestampWithRetry(ctx, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("resolve end block: %w", err)
	}

	stateBlock := beginBlock
	if useLatestState {
		stateBlock = endBlock
	}

	if entity.BirthBlock > stateBlock {
		return nil, nil
	}

	snapshot := &model.PoolTimeframeSnapshot{
		PoolMetadata:    entity,
		WindowStart:     windowStart,
		WindowEnd:       windowEnd,
		StateBlock:      stateBlock,
		AddressRouters:  map[string]decimal.Decimal{},
		AddressSwappers: map[string]decimal.Decimal{},
	}

	state, err := t.poolStateWithRetry(ctx, entity, stateBlock)
	if err != nil {
		return nil, fmt.Errorf("read pool state: %w", err)
	}
	snapshot.TokenBalances = [2]decimal.Decimal{
		pricing.NormalizeAmount(state.Balance0, entity.Tokens[0].Decimals),
		pricing.NormalizeAmount(state.Balance1, entity.Tokens[1].Decimals),
	}

	prices, priced := t.resolvePairPrices(ctx, entity, state, stateBlock)
	if !priced {
		// Neither side is independently priceable: the pool is reported
		// unpriced (zero liquidity, no volume), never valued with a made-up
		// zero price.
		return snapshot, nil
	}
	snapshot.TokenPrices = prices
	snapshot.TotalLiquidityUsd = snapshot.TokenBalances[0].Mul(prices[0]).
		Add(snapshot.TokenBalances[1].Mul(prices[1]))

	if snapshot.TotalLiquidityUsd.LessThan(t.cfg.MinLiquidityUsd) {
		return snapshot, nil
	}

	logs, err := t.filterLogsWithRetry(ctx, entity, beginBlock, endBlock)
	if err != nil {
		return nil, fmt.Errorf("fetch logs: %w", err)
	}
	sortLogs(logs)

	acc := newWindowAccumulator(entity, prices)
	for _, log := range logs {
		if len(log.Topics) == 0 || !t.decoder.CanDecode(log.Topics[0]) {
			continue
		}
		event, err := t.decoder.DecodePoolEvent(log)
		if err != nil {
			t.logger.Debug("skip undecodable log",
				zap.String("pool", entity.Address),
				zap.Uint64("block", log.BlockNumber),
				zap.Uint("log_index", log.Index),
				zap.Error(err),
			)
			continue
		}
		acc.apply(event)
	}

	snapshot.VolumeSwapUsd = acc.swapUsd
	snapshot.VolumeAddLiquidityUsd = acc.addUsd
	snapshot.VolumeRemoveLiquidityUsd = acc.removeUsd
	snapshot.FeesUsd = acc.feesUsd
	snapshot.TradeCount = acc.tradeCount
	snapshot.AddressRouters = acc.routers
	snapshot.AddressSwappers = acc.swappers
	return snapshot, nil
}

// resolvePairPrices finds the base side (the first token with an independently
// resolvable price) and derives the counterpart from the pool's own ratio at
// the state block, so the two prices always multiply out to the observed
// ratio.
func (t *Timeframer) resolvePairPrices(
	ctx context.Context,
	entity model.PoolMetadata,
	state dex.PoolState,
	stateBlock uint64,
) ([2]decimal.Decimal, bool) {
	var prices [2]decimal.Decimal

	baseIndex := -1
	var basePrice decimal.Decimal
	for i := 0; i < 2; i++ {
		price, ok := t.resolver.ResolveUsd(ctx, entity.Chain, common.HexToAddress(entity.Tokens[i].Address), stateBlock)
		if ok {
			baseIndex, basePrice = i, price
			break
		}
	}
	if baseIndex < 0 {
		return prices, false
	}

	quotaIndex := 1 - baseIndex
	var quotaPrice decimal.Decimal
	var ok bool
	switch t.spec.Family {
	case dex.FamilyConstantProduct:
		baseReserve, quotaReserve := state.Balance0, state.Balance1
		if baseIndex == 1 {
			baseReserve, quotaReserve = state.Balance1, state.Balance0
		}
		quotaPrice, ok = pricing.QuotaPriceFromReserves(
			baseReserve, quotaReserve,
			entity.Tokens[baseIndex].Decimals, entity.Tokens[quotaIndex].Decimals,
			basePrice,
		)
	case dex.FamilyTickPool:
		quotaPrice, ok = pricing.QuotaPriceFromSqrtRatio(
			state.SqrtPriceX96,
			entity.Tokens[0].Decimals, entity.Tokens[1].Decimals,
			baseIndex,
			basePrice,
		)
	}
	if !ok {
		return prices, false
	}

	prices[baseIndex] = basePrice
	prices[quotaIndex] = quotaPrice
	return prices, true
}

func (t *Timeframer) poolStateWithRetry(ctx context.Context, entity model.PoolMetadata, blockNumber uint64) (dex.PoolState, error) {
	var state dex.PoolState
	err := chain.WithRetry(ctx, t.cfg.MaxRetries, t.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		state, err = dex.ReadPoolState(ctx, t.reader, t.spec.Family,
			common.HexToAddress(entity.Address),
			common.HexToAddress(entity.Tokens[0].Address),
			common.HexToAddress(entity.Tokens[1].Address),
			blockNumber,
		)
		return err
	})
	return state, err
}

func (t *Timeframer) filterLogsWithRetry(ctx context.Context, entity model.PoolMetadata, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := chain.WithRetry(ctx, t.cfg.MaxRetries, t.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = t.reader.FilterLogs(ctx, fromBlock, toBlock,
			[]common.Address{common.HexToAddress(entity.Address)},
			t.spec.PoolTopics(),
		)
		if err != nil {
			t.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (t *Timeframer) blockAtTimestampWithRetry(ctx context.Context, ts uint64) (uint64, error) {
	var block uint64
	err := chain.WithRetry(ctx, t.cfg.MaxRetries, t.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		block, err = t.reader.BlockNumberAtTimestamp(ctx, ts)
		return err
	})
	return block, err
}

// sortLogs orders events by (blockNumber, logIndex) so accumulation is
// reproducible from the same log set regardless of input order.
func sortLogs(logs []types.Log) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
