package pricing

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"defiscope/internal/chain"
	"defiscope/internal/dex"
)

// maxResolveDepth bounds strategy recursion. AmmPool and Wrapped strategies
// resolve their base/underlying token through the resolver again; a
// misconfigured cycle fails closed instead of looping.
const maxResolveDepth = 4

// Resolver turns (token, block) into a USD price using the per-token strategy
// map. A price that cannot be resolved is reported with ok=false; callers must
// not read it as zero.
type Resolver struct {
	readers    map[string]chain.Reader
	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration

	mu           sync.RWMutex
	strategies   map[Key]Strategy
	feedDecimals map[Key]uint8
}

// NewResolver builds a resolver over per-chain readers.
func NewResolver(readers map[string]chain.Reader, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		readers:      readers,
		logger:       logger,
		maxRetries:   2,
		backoff:      200 * time.Millisecond,
		timeout:      10 * time.Second,
		strategies:   make(map[Key]Strategy),
		feedDecimals: make(map[Key]uint8),
	}
}

// Register maps a token to its resolution strategy.
func (r *Resolver) Register(chainName string, token common.Address, strategy Strategy) {
	r.mu.Lock()
	r.strategies[Key{Chain: chainName, Token: token}] = strategy
	r.mu.Unlock()
}

// ResolveUsd resolves the token's USD price at the given block. ok is false
// when no strategy is mapped, a read fails, or the strategy chain cannot
// produce a positive price.
func (r *Resolver) ResolveUsd(ctx context.Context, chainName string, token common.Address, blockNumber uint64) (decimal.Decimal, bool) {
	visited := make(map[Key]struct{})
	return r.resolve(ctx, Key{Chain: chainName, Token: token}, blockNumber, visited, 0)
}

func (r *Resolver) resolve(ctx context.Context, key Key, blockNumber uint64, visited map[Key]struct{}, depth int) (decimal.Decimal, bool) {
	if depth > maxResolveDepth {
		r.logger.Warn("price resolution depth exceeded", zap.String("token", key.Token.Hex()))
		return decimal.Zero, false
	}
	if _, seen := visited[key]; seen {
		r.logger.Warn("price strategy cycle", zap.String("chain", key.Chain), zap.String("token", key.Token.Hex()))
		return decimal.Zero, false
	}
	visited[key] = struct{}{}

	r.mu.RLock()
	strategy, ok := r.strategies[key]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("no price strategy", zap.String("chain", key.Chain), zap.String("token", key.Token.Hex()))
		return decimal.Zero, false
	}

	switch strategy.Kind {
	case KindConstant:
		if strategy.ConstantPrice.Sign() <= 0 {
			return decimal.Zero, false
		}
		return strategy.ConstantPrice, true
	case KindAggregator:
		return r.resolveAggregator(ctx, key, strategy, blockNumber)
	case KindAmmPool:
		return r.resolveAmmPool(ctx, key, strategy, blockNumber, visited, depth)
	case KindWrapped:
		return r.resolveWrapped(ctx, key, strategy, blockNumber, visited, depth)
	default:
		r.logger.Warn("unknown price strategy kind", zap.String("kind", string(strategy.Kind)))
		return decimal.Zero, false
	}
}

func (r *Resolver) resolveAggregator(ctx context.Context, key Key, strategy Strategy, blockNumber uint64) (decimal.Decimal, bool) {
	aggregatorABI, err := dex.AggregatorABI()
	if err != nil {
		return decimal.Zero, false
	}

	feedKey := Key{Chain: key.Chain, Token: strategy.Feed}
	r.mu.RLock()
	feedDecimals, haveDecimals := r.feedDecimals[feedKey]
	r.mu.RUnlock()
	if !haveDecimals {
		data, err := aggregatorABI.Pack("decimals")
		if err != nil {
			return decimal.Zero, false
		}
		raw, err := r.call(ctx, key.Chain, strategy.Feed, data, nil)
		if err != nil {
			r.logger.Debug("feed decimals read failed", zap.String("feed", strategy.Feed.Hex()), zap.Error(err))
			return decimal.Zero, false
		}
		values, err := aggregatorABI.Unpack("decimals", raw)
		if err != nil || len(values) == 0 {
			return decimal.Zero, false
		}
		d, ok := values[0].(uint8)
		if !ok {
			return decimal.Zero, false
		}
		feedDecimals = d
		r.mu.Lock()
		r.feedDecimals[feedKey] = feedDecimals
		r.mu.Unlock()
	}

	data, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return decimal.Zero, false
	}
	raw, err := r.call(ctx, key.Chain, strategy.Feed, data, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		r.logger.Debug("feed read failed", zap.String("feed", strategy.Feed.Hex()), zap.Uint64("block", blockNumber), zap.Error(err))
		return decimal.Zero, false
	}
	values, err := aggregatorABI.Unpack("latestRoundData", raw)
	if err != nil || len(values) < 2 {
		r.logger.Debug("feed decode failed", zap.String("feed", strategy.Feed.Hex()), zap.Error(err))
		return decimal.Zero, false
	}
	answer, ok := values[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return decimal.Zero, false
	}

	return decimal.NewFromBigInt(answer, -int32(feedDecimals)), true
}

func (r *Resolver) resolveAmmPool(ctx context.Context, key Key, strategy Strategy, blockNumber uint64, visited map[Key]struct{}, depth int) (decimal.Decimal, bool) {
	basePrice, ok := r.resolve(ctx, Key{Chain: key.Chain, Token: strategy.BaseToken}, blockNumber, visited, depth+1)
	if !ok {
		return decimal.Zero, false
	}

	switch strategy.Family {
	case dex.FamilyConstantProduct:
		pairABI, err := dex.V2PairABI()
		if err != nil {
			return decimal.Zero, false
		}
		data, err := pairABI.Pack("getReserves")
		if err != nil {
			return decimal.Zero, false
		}
		raw, err := r.call(ctx, key.Chain, strategy.Pool, data, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			r.logger.Debug("reserves read failed", zap.String("pool", strategy.Pool.Hex()), zap.Error(err))
			return decimal.Zero, false
		}
		values, err := pairABI.Unpack("getReserves", raw)
		if err != nil || len(values) < 2 {
			return decimal.Zero, false
		}
		reserve0, ok0 := values[0].(*big.Int)
		reserve1, ok1 := values[1].(*big.Int)
		if !ok0 || !ok1 {
			return decimal.Zero, false
		}

		baseReserve, quotaReserve := reserve0, reserve1
		if strategy.BaseIndex == 1 {
			baseReserve, quotaReserve = reserve1, reserve0
		}
		return QuotaPriceFromReserves(baseReserve, quotaReserve, strategy.BaseDecimals, strategy.QuotaDecimals, basePrice)

	case dex.FamilyTickPool:
		poolABI, err := dex.V3PoolABI()
		if err != nil {
			return decimal.Zero, false
		}
		data, err := poolABI.Pack("slot0")
		if err != nil {
			return decimal.Zero, false
		}
		raw, err := r.call(ctx, key.Chain, strategy.Pool, data, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			r.logger.Debug("slot0 read failed", zap.String("pool", strategy.Pool.Hex()), zap.Error(err))
			return decimal.Zero, false
		}
		values, err := poolABI.Unpack("slot0", raw)
		if err != nil || len(values) == 0 {
			return decimal.Zero, false
		}
		sqrtPriceX96, ok := values[0].(*big.Int)
		if !ok {
			return decimal.Zero, false
		}

		decimals0, decimals1 := strategy.QuotaDecimals, strategy.BaseDecimals
		if strategy.BaseIndex == 0 {
			decimals0, decimals1 = strategy.BaseDecimals, strategy.QuotaDecimals
		}
		return QuotaPriceFromSqrtRatio(sqrtPriceX96, decimals0, decimals1, strategy.BaseIndex, basePrice)

	default:
		return decimal.Zero, false
	}
}

func (r *Resolver) resolveWrapped(ctx context.Context, key Key, strategy Strategy, blockNumber uint64, visited map[Key]struct{}, depth int) (decimal.Decimal, bool) {
	underlyingPrice, ok := r.resolve(ctx, Key{Chain: key.Chain, Token: strategy.Underlying}, blockNumber, visited, depth+1)
	if !ok {
		return decimal.Zero, false
	}

	rateABI, err := dex.RateABI(strategy.RateMethod)
	if err != nil {
		return decimal.Zero, false
	}
	data, err := rateABI.Pack(strategy.RateMethod)
	if err != nil {
		return decimal.Zero, false
	}
	raw, err := r.call(ctx, key.Chain, strategy.Wrapper, data, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		r.logger.Debug("wrapper rate read failed", zap.String("wrapper", strategy.Wrapper.Hex()), zap.Error(err))
		return decimal.Zero, false
	}
	values, err := rateABI.Unpack(strategy.RateMethod, raw)
	if err != nil || len(values) == 0 {
		return decimal.Zero, false
	}
	rate, ok := values[0].(*big.Int)
	if !ok || rate.Sign() <= 0 {
		return decimal.Zero, false
	}

	price := decimal.NewFromBigInt(rate, -int32(strategy.RateDecimals)).Mul(underlyingPrice)
	return RoundSignificant(price, PriceSignificantDigits), true
}

func (r *Resolver) call(ctx context.Context, chainName string, to common.Address, data []byte, blockNumber *big.Int) ([]byte, error) {
	reader, ok := r.readers[chainName]
	if !ok {
		return nil, fmt.Errorf("no chain reader for %s", chainName)
	}

	var result []byte
	err := chain.WithRetry(ctx, r.maxRetries, r.backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		var err error
		result, err = reader.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, blockNumber)
		return err
	})
	return result, err
}
