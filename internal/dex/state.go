package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"defiscope/internal/chain"
)

// PoolState is the pool's reserve state read atomically at one block height.
// SqrtPriceX96 is only set for tick pools.
type PoolState struct {
	Balance0     *big.Int
	Balance1     *big.Int
	SqrtPriceX96 *big.Int
}

// ReadPoolState reads both token balances (and the tick-pool price slot) at
// exactly one block. Constant-product pools expose both reserves in a single
// call; tick pools need a batched multicall so the reads share a height.
func ReadPoolState(
	ctx context.Context,
	reader chain.Reader,
	family Family,
	pool common.Address,
	token0 common.Address,
	token1 common.Address,
	blockNumber uint64,
) (PoolState, error) {
	block := new(big.Int).SetUint64(blockNumber)

	switch family {
	case FamilyConstantProduct:
		pairABI, err := V2PairABI()
		if err != nil {
			return PoolState{}, err
		}
		data, err := pairABI.Pack("getReserves")
		if err != nil {
			return PoolState{}, fmt.Errorf("pack getReserves: %w", err)
		}
		results, err := reader.Multicall(ctx, []chain.Call{{To: pool, Data: data}}, block)
		if err != nil {
			return PoolState{}, fmt.Errorf("getReserves: %w", err)
		}
		values, err := pairABI.Unpack("getReserves", results[0])
		if err != nil {
			return PoolState{}, fmt.Errorf("unpack getReserves: %w", err)
		}
		reserve0, err := asBigInt(values[0])
		if err != nil {
			return PoolState{}, err
		}
		reserve1, err := asBigInt(values[1])
		if err != nil {
			return PoolState{}, err
		}
		return PoolState{Balance0: reserve0, Balance1: reserve1}, nil

	case FamilyTickPool:
		poolABI, err := V3PoolABI()
		if err != nil {
			return PoolState{}, err
		}
		erc20ABI, err := erc20ABIStringInstance()
		if err != nil {
			return PoolState{}, err
		}

		balance0Data, err := erc20ABI.Pack("balanceOf", pool)
		if err != nil {
			return PoolState{}, fmt.Errorf("pack balanceOf: %w", err)
		}
		slot0Data, err := poolABI.Pack("slot0")
		if err != nil {
			return PoolState{}, fmt.Errorf("pack slot0: %w", err)
		}

		results, err := reader.Multicall(ctx, []chain.Call{
			{To: token0, Data: balance0Data},
			{To: token1, Data: balance0Data},
			{To: pool, Data: slot0Data},
		}, block)
		if err != nil {
			return PoolState{}, fmt.Errorf("pool state multicall: %w", err)
		}

		state := PoolState{}
		if values, err := erc20ABI.Unpack("balanceOf", results[0]); err == nil {
			if state.Balance0, err = asBigInt(values[0]); err != nil {
				return PoolState{}, err
			}
		} else {
			return PoolState{}, fmt.Errorf("unpack balance0: %w", err)
		}
		if values, err := erc20ABI.Unpack("balanceOf", results[1]); err == nil {
			if state.Balance1, err = asBigInt(values[0]); err != nil {
				return PoolState{}, err
			}
		} else {
			return PoolState{}, fmt.Errorf("unpack balance1: %w", err)
		}
		if values, err := poolABI.Unpack("slot0", results[2]); err == nil && len(values) >= 1 {
			if state.SqrtPriceX96, err = asBigInt(values[0]); err != nil {
				return PoolState{}, err
			}
		} else {
			return PoolState{}, fmt.Errorf("unpack slot0: %w", err)
		}
		return state, nil

	default:
		return PoolState{}, fmt.Errorf("unknown protocol family: %s", family)
	}
}
