package syncer

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"defiscope/internal/model"
)

func newTestAccumulator() *windowAccumulator {
	return newWindowAccumulator(testEntity(), [2]decimal.Decimal{
		decimal.NewFromInt(1),
		decimal.NewFromInt(2000),
	})
}

func TestAccumulatorZeroNotionalSwapCountsTrade(t *testing.T) {
	acc := newTestAccumulator()

	acc.apply(&model.PoolEvent{
		Kind: model.EventSwap,
		Swap: &model.SwapEvent{
			Sender:     testRouter,
			Recipient:  testTrader,
			Amount0In:  big.NewInt(0),
			Amount1In:  big.NewInt(0),
			Amount0Out: big.NewInt(0),
			Amount1Out: big.NewInt(0),
		},
	})

	// A dust swap still counts as a trade but moves no volume or fees.
	require.Equal(t, uint64(1), acc.tradeCount)
	require.True(t, acc.swapUsd.IsZero())
	require.True(t, acc.feesUsd.IsZero())
	require.Empty(t, acc.swappers)
	require.Empty(t, acc.routers)
}

func TestAccumulatorRouterVsSwapper(t *testing.T) {
	acc := newTestAccumulator()
	amount0In, _ := new(big.Int).SetString("250000000", 10) // $250 of the 6-decimal stable

	acc.apply(&model.PoolEvent{
		Kind: model.EventSwap,
		Swap: &model.SwapEvent{
			Sender:     testRouter,
			Recipient:  testTrader,
			Amount0In:  amount0In,
			Amount1In:  big.NewInt(0),
			Amount0Out: big.NewInt(0),
			Amount1Out: big.NewInt(0),
		},
	})

	require.True(t, acc.swappers[testTrader].Equal(decimal.NewFromInt(250)))
	require.True(t, acc.routers[testRouter].Equal(decimal.NewFromInt(250)))
}

func TestAccumulatorLiquidityLegs(t *testing.T) {
	acc := newTestAccumulator()
	amount0, _ := new(big.Int).SetString("1000000000", 10)        // $1000
	amount1, _ := new(big.Int).SetString("500000000000000000", 10) // 0.5 * $2000

	acc.apply(&model.PoolEvent{
		Kind:      model.EventAddLiquidity,
		Liquidity: &model.LiquidityEvent{Owner: testTrader, Amount0: amount0, Amount1: amount1},
	})
	acc.apply(&model.PoolEvent{
		Kind:      model.EventRemoveLiquidity,
		Liquidity: &model.LiquidityEvent{Owner: testTrader, Amount0: amount0, Amount1: big.NewInt(0)},
	})

	require.True(t, acc.addUsd.Equal(decimal.NewFromInt(2000)), "got %s", acc.addUsd)
	require.True(t, acc.removeUsd.Equal(decimal.NewFromInt(1000)), "got %s", acc.removeUsd)
	require.Equal(t, uint64(0), acc.tradeCount)
}
