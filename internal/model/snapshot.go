package model

import "github.com/shopspring/decimal"

// PoolTimeframeSnapshot is the result of replaying one pool over one window.
// Prices and balances are sampled at exactly StateBlock; volumes accumulate
// over [WindowStart, WindowEnd]. Built once per query, never mutated after.
type PoolTimeframeSnapshot struct {
	PoolMetadata

	WindowStart uint64 `json:"window_start"`
	WindowEnd   uint64 `json:"window_end"`
	StateBlock  uint64 `json:"state_block"`

	TokenPrices   [2]decimal.Decimal `json:"token_prices"`
	TokenBalances [2]decimal.Decimal `json:"token_balances"`

	TotalLiquidityUsd decimal.Decimal `json:"total_liquidity_usd"`

	VolumeSwapUsd            decimal.Decimal `json:"volume_swap_usd"`
	VolumeAddLiquidityUsd    decimal.Decimal `json:"volume_add_liquidity_usd"`
	VolumeRemoveLiquidityUsd decimal.Decimal `json:"volume_remove_liquidity_usd"`
	FeesUsd                  decimal.Decimal `json:"fees_usd"`

	AddressRouters  map[string]decimal.Decimal `json:"address_routers"`
	AddressSwappers map[string]decimal.Decimal `json:"address_swappers"`
	TradeCount      uint64                     `json:"trade_count"`
}
