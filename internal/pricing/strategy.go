package pricing

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"defiscope/internal/dex"
)

// Kind selects the resolution strategy for a token.
type Kind string

const (
	// KindConstant returns a fixed price, used for hard-pegged stables.
	KindConstant Kind = "constant"
	// KindAggregator reads an external price feed contract at a block.
	KindAggregator Kind = "aggregator"
	// KindAmmPool derives the price from a pool's reserve ratio against a
	// base token that is priceable on its own.
	KindAmmPool Kind = "amm-pool"
	// KindWrapped multiplies the underlying asset's price by an on-chain
	// conversion rate.
	KindWrapped Kind = "wrapped"
)

// Strategy is the static per-token resolution config. Only the fields for its
// Kind are meaningful.
type Strategy struct {
	Kind Kind

	// KindConstant
	ConstantPrice decimal.Decimal

	// KindAggregator
	Feed common.Address

	// KindAmmPool
	Pool          common.Address
	Family        dex.Family
	BaseToken     common.Address
	BaseIndex     int
	BaseDecimals  uint8
	QuotaDecimals uint8

	// KindWrapped
	Wrapper      common.Address
	RateMethod   string
	RateDecimals uint8
	Underlying   common.Address
}

// Key identifies a token across chains. It is the structured cache and
// strategy lookup key; no string concatenation is involved, so similarly
// named sources cannot collide.
type Key struct {
	Chain string
	Token common.Address
}
