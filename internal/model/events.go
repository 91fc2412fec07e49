package model

import "math/big"

// EventKind tags the closed set of decoded pool events.
type EventKind string

const (
	EventSwap            EventKind = "swap"
	EventAddLiquidity    EventKind = "add_liquidity"
	EventRemoveLiquidity EventKind = "remove_liquidity"
)

// SwapEvent is a decoded trade. Amounts are raw token units flowing into the
// pool (In) and out of it (Out); for signed-amount protocols the decoder maps
// positive deltas to In and negative deltas to Out.
type SwapEvent struct {
	Sender     string
	Recipient  string
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

// LiquidityEvent is a decoded mint or burn with both token legs.
type LiquidityEvent struct {
	Owner   string
	Amount0 *big.Int
	Amount1 *big.Int
}

// PoolCreatedEvent is a decoded factory creation event.
type PoolCreatedEvent struct {
	Pool    string
	Token0  string
	Token1  string
	FeeRate uint32
}

// PoolEvent is one decoded log positioned in the chain. Exactly one of the
// payload pointers matching Kind is set.
type PoolEvent struct {
	Kind        EventKind
	BlockNumber uint64
	LogIndex    uint
	TxHash      string
	Address     string

	Swap      *SwapEvent
	Liquidity *LiquidityEvent
}
