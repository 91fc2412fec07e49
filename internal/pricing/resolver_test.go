package pricing

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"defiscope/internal/chain"
	"defiscope/internal/dex"
)

// stubReader answers CallContract through a function and rejects everything
// else the Reader interface carries.
type stubReader struct {
	call func(to common.Address, data []byte, blockNumber *big.Int) ([]byte, error)
}

func (s *stubReader) CallContract(_ context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return s.call(*msg.To, msg.Data, blockNumber)
}

func (s *stubReader) Multicall(context.Context, []chain.Call, *big.Int) ([][]byte, error) {
	return nil, fmt.Errorf("not supported")
}

func (s *stubReader) FilterLogs(context.Context, uint64, uint64, []common.Address, []common.Hash) ([]types.Log, error) {
	return nil, fmt.Errorf("not supported")
}

func (s *stubReader) BlockTimestamp(context.Context, uint64) (uint64, error) {
	return 0, fmt.Errorf("not supported")
}

func (s *stubReader) BlockNumberAtTimestamp(context.Context, uint64) (uint64, error) {
	return 0, fmt.Errorf("not supported")
}

func (s *stubReader) LatestBlockNumber(context.Context) (uint64, error) {
	return 0, fmt.Errorf("not supported")
}

func newTestResolver(t *testing.T, call func(to common.Address, data []byte, blockNumber *big.Int) ([]byte, error)) *Resolver {
	t.Helper()
	readers := map[string]chain.Reader{"testnet": &stubReader{call: call}}
	r := NewResolver(readers, nil)
	r.maxRetries = 0
	r.backoff = 0
	return r
}

func packOutputs(t *testing.T, contractABI abi.ABI, method string, values ...interface{}) []byte {
	t.Helper()
	out, err := contractABI.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func addr(last byte) common.Address {
	return common.BytesToAddress([]byte{0xab, last})
}

func TestResolveConstant(t *testing.T) {
	r := newTestResolver(t, func(common.Address, []byte, *big.Int) ([]byte, error) {
		t.Fatalf("constant strategy must not touch the chain")
		return nil, nil
	})
	token := addr(1)
	r.Register("testnet", token, Strategy{Kind: KindConstant, ConstantPrice: decimal.NewFromInt(1)})

	price, ok := r.ResolveUsd(context.Background(), "testnet", token, 100)
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(1)))
}

func TestResolveUnregisteredToken(t *testing.T) {
	r := newTestResolver(t, func(common.Address, []byte, *big.Int) ([]byte, error) {
		return nil, fmt.Errorf("unexpected call")
	})

	_, ok := r.ResolveUsd(context.Background(), "testnet", addr(2), 100)
	require.False(t, ok)
}

func TestResolveAggregator(t *testing.T) {
	aggregatorABI, err := dex.AggregatorABI()
	require.NoError(t, err)

	feed := addr(3)
	calls := 0
	r := newTestResolver(t, func(to common.Address, data []byte, _ *big.Int) ([]byte, error) {
		require.Equal(t, feed, to)
		calls++
		switch {
		case len(data) >= 4 && string(data[:4]) == string(aggregatorABI.Methods["decimals"].ID):
			return packOutputs(t, aggregatorABI, "decimals", uint8(8)), nil
		default:
			// 2500.00000000 at 8 feed decimals.
			return packOutputs(t, aggregatorABI, "latestRoundData",
				big.NewInt(1), big.NewInt(250_000_000_000), big.NewInt(0), big.NewInt(0), big.NewInt(1),
			), nil
		}
	})

	token := addr(4)
	r.Register("testnet", token, Strategy{Kind: KindAggregator, Feed: feed})

	price, ok := r.ResolveUsd(context.Background(), "testnet", token, 100)
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(2500)), "got %s", price)

	// Feed decimals are cached after the first resolution.
	_, ok = r.ResolveUsd(context.Background(), "testnet", token, 101)
	require.True(t, ok)
	require.Equal(t, 3, calls)
}

func TestResolveAggregatorNegativeAnswer(t *testing.T) {
	aggregatorABI, err := dex.AggregatorABI()
	require.NoError(t, err)

	feed := addr(5)
	r := newTestResolver(t, func(_ common.Address, data []byte, _ *big.Int) ([]byte, error) {
		if len(data) >= 4 && string(data[:4]) == string(aggregatorABI.Methods["decimals"].ID) {
			return packOutputs(t, aggregatorABI, "decimals", uint8(8)), nil
		}
		return packOutputs(t, aggregatorABI, "latestRoundData",
			big.NewInt(1), big.NewInt(-1), big.NewInt(0), big.NewInt(0), big.NewInt(1),
		), nil
	})

	token := addr(6)
	r.Register("testnet", token, Strategy{Kind: KindAggregator, Feed: feed})

	_, ok := r.ResolveUsd(context.Background(), "testnet", token, 100)
	require.False(t, ok)
}

func TestResolveAmmPool(t *testing.T) {
	pairABI, err := dex.V2PairABI()
	require.NoError(t, err)

	pool := addr(7)
	baseReserve, _ := new(big.Int).SetString("1000000000000", 10)
	quotaReserve, _ := new(big.Int).SetString("500000000000000000000", 10)

	r := newTestResolver(t, func(to common.Address, _ []byte, blockNumber *big.Int) ([]byte, error) {
		require.Equal(t, pool, to)
		require.Equal(t, uint64(100), blockNumber.Uint64())
		return packOutputs(t, pairABI, "getReserves", baseReserve, quotaReserve, uint32(0)), nil
	})

	base := addr(8)
	token := addr(9)
	r.Register("testnet", base, Strategy{Kind: KindConstant, ConstantPrice: decimal.NewFromInt(1)})
	r.Register("testnet", token, Strategy{
		Kind:          KindAmmPool,
		Pool:          pool,
		Family:        dex.FamilyConstantProduct,
		BaseToken:     base,
		BaseIndex:     0,
		BaseDecimals:  6,
		QuotaDecimals: 18,
	})

	price, ok := r.ResolveUsd(context.Background(), "testnet", token, 100)
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(2000)), "got %s", price)
}

func TestResolveWrapped(t *testing.T) {
	rateABI, err := dex.RateABI("exchangeRate")
	require.NoError(t, err)

	wrapper := addr(10)
	rate, _ := new(big.Int).SetString("1050000000000000000", 10) // 1.05

	r := newTestResolver(t, func(to common.Address, _ []byte, _ *big.Int) ([]byte, error) {
		require.Equal(t, wrapper, to)
		return packOutputs(t, rateABI, "exchangeRate", rate), nil
	})

	underlying := addr(11)
	token := addr(12)
	r.Register("testnet", underlying, Strategy{Kind: KindConstant, ConstantPrice: decimal.NewFromInt(2000)})
	r.Register("testnet", token, Strategy{
		Kind:         KindWrapped,
		Wrapper:      wrapper,
		RateMethod:   "exchangeRate",
		RateDecimals: 18,
		Underlying:   underlying,
	})

	price, ok := r.ResolveUsd(context.Background(), "testnet", token, 100)
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(2100)), "got %s", price)
}

func TestResolveCycleFailsClosed(t *testing.T) {
	r := newTestResolver(t, func(common.Address, []byte, *big.Int) ([]byte, error) {
		t.Fatalf("a cyclic strategy must fail before touching the chain")
		return nil, nil
	})

	tokenA := addr(13)
	tokenB := addr(14)
	r.Register("testnet", tokenA, Strategy{
		Kind: KindAmmPool, Pool: addr(15), Family: dex.FamilyConstantProduct, BaseToken: tokenB,
	})
	r.Register("testnet", tokenB, Strategy{
		Kind: KindAmmPool, Pool: addr(16), Family: dex.FamilyConstantProduct, BaseToken: tokenA,
	})

	_, ok := r.ResolveUsd(context.Background(), "testnet", tokenA, 100)
	require.False(t, ok)
}

func TestResolveDepthLimit(t *testing.T) {
	r := newTestResolver(t, func(common.Address, []byte, *big.Int) ([]byte, error) {
		return nil, fmt.Errorf("unexpected call")
	})

	// A chain of six wrapped tokens exceeds the recursion bound before the
	// terminal constant is ever reached.
	tokens := make([]common.Address, 7)
	for i := range tokens {
		tokens[i] = addr(byte(20 + i))
	}
	for i := 0; i < 6; i++ {
		r.Register("testnet", tokens[i], Strategy{
			Kind:       KindWrapped,
			Wrapper:    addr(byte(40 + i)),
			RateMethod: "exchangeRate",
			Underlying: tokens[i+1],
		})
	}
	r.Register("testnet", tokens[6], Strategy{Kind: KindConstant, ConstantPrice: decimal.NewFromInt(1)})

	_, ok := r.ResolveUsd(context.Background(), "testnet", tokens[0], 100)
	require.False(t, ok)
}
