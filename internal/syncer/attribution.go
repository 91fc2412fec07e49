package syncer

import (
	"github.com/shopspring/decimal"

	"defiscope/internal/model"
	"defiscope/internal/pricing"
)

// feeRateDivisor converts parts-per-million fee rates to a fraction.
var feeRateDivisor = decimal.NewFromInt(1_000_000)

// windowAccumulator folds a pool's decoded events into USD volume totals and
// per-address attribution. Prices are frozen at the window's state block, so
// accumulation over the same event set is deterministic regardless of when it
// runs.
type windowAccumulator struct {
	prices   [2]decimal.Decimal
	decimals [2]uint8
	feeRate  decimal.Decimal

	swapUsd    decimal.Decimal
	addUsd     decimal.Decimal
	removeUsd  decimal.Decimal
	feesUsd    decimal.Decimal
	tradeCount uint64

	routers  map[string]decimal.Decimal
	swappers map[string]decimal.Decimal
}

func newWindowAccumulator(entity model.PoolMetadata, prices [2]decimal.Decimal) *windowAccumulator {
	return &windowAccumulator{
		prices:   prices,
		decimals: [2]uint8{entity.Tokens[0].Decimals, entity.Tokens[1].Decimals},
		feeRate:  decimal.NewFromInt(int64(entity.FeeRate)).DivRound(feeRateDivisor, 12),
		routers:  make(map[string]decimal.Decimal),
		swappers: make(map[string]decimal.Decimal),
	}
}

func (a *windowAccumulator) apply(event *model.PoolEvent) {
	switch event.Kind {
	case model.EventSwap:
		a.applySwap(event.Swap)
	case model.EventAddLiquidity:
		a.addUsd = a.addUsd.Add(a.legsUsd(event.Liquidity))
	case model.EventRemoveLiquidity:
		a.removeUsd = a.removeUsd.Add(a.legsUsd(event.Liquidity))
	}
}

func (a *windowAccumulator) applySwap(swap *model.SwapEvent) {
	a.tradeCount++

	// The trade's notional is the USD value of the input side; exactly one of
	// the two inputs is non-zero for a well-formed swap.
	usd := pricing.NormalizeAmount(swap.Amount0In, a.decimals[0]).Mul(a.prices[0]).
		Add(pricing.NormalizeAmount(swap.Amount1In, a.decimals[1]).Mul(a.prices[1]))
	if usd.Sign() <= 0 {
		return
	}

	a.swapUsd = a.swapUsd.Add(usd)
	a.feesUsd = a.feesUsd.Add(usd.Mul(a.feeRate))

	if swap.Recipient != "" {
		a.swappers[swap.Recipient] = a.swappers[swap.Recipient].Add(usd)
	}
	// The sender is a router only when it is not the counterparty itself.
	if swap.Sender != "" && swap.Sender != swap.Recipient {
		a.routers[swap.Sender] = a.routers[swap.Sender].Add(usd)
	}
}

func (a *windowAccumulator) legsUsd(liq *model.LiquidityEvent) decimal.Decimal {
	return pricing.NormalizeAmount(liq.Amount0, a.decimals[0]).Mul(a.prices[0]).
		Add(pricing.NormalizeAmount(liq.Amount1, a.decimals[1]).Mul(a.prices[1]))
}
