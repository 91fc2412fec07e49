package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Call is one contract read inside a batched multicall.
type Call struct {
	To   common.Address
	Data []byte
}

// Reader is the read-only chain access the sync and pricing layers depend on.
// *Client implements it against a live RPC endpoint; tests implement it with
// fakes.
type Reader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	// Multicall executes every call at the same block height; results align
	// with the input order.
	Multicall(ctx context.Context, calls []Call, blockNumber *big.Int) ([][]byte, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	// BlockNumberAtTimestamp returns the highest block whose timestamp is not
	// after ts.
	BlockNumberAtTimestamp(ctx context.Context, ts uint64) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}
