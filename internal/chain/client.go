package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps go-ethereum RPC and provides the Reader operations.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

var _ Reader = (*Client)(nil)

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		tsCache:   make(map[uint64]uint64),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.mu.Lock()
	c.tsCache[number] = ts
	c.mu.Unlock()

	return ts, nil
}

// BlockNumberAtTimestamp returns the highest block whose timestamp is <= ts.
func (c *Client) BlockNumberAtTimestamp(ctx context.Context, ts uint64) (uint64, error) {
	latest, err := c.LatestBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return SearchBlockByTimestamp(ctx, ts, latest, c.BlockTimestamp)
}

// SearchBlockByTimestamp binary-searches [1, latest] for the highest block
// whose timestamp does not exceed ts.
func SearchBlockByTimestamp(
	ctx context.Context,
	ts uint64,
	latest uint64,
	timestampAt func(context.Context, uint64) (uint64, error),
) (uint64, error) {
	lo, hi := uint64(1), latest
	var best uint64
	for lo <= hi {
		mid := lo + (hi-lo)/2
		blockTs, err := timestampAt(ctx, mid)
		if err != nil {
			return 0, err
		}
		if blockTs <= ts {
			best = mid
			lo = mid + 1
		} else {
			if mid == 0 {
				break
			}
			hi = mid - 1
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("no block at or before timestamp %d", ts)
	}
	return best, nil
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	return c.ethClient.FilterLogs(ctx, query)
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

// Multicall batches eth_call requests pinned to a single block height. All
// calls succeed or the batch fails, so callers never mix reads from two
// different heights.
func (c *Client) Multicall(ctx context.Context, calls []Call, blockNumber *big.Int) ([][]byte, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	blockArg := "latest"
	if blockNumber != nil {
		blockArg = hexutil.EncodeBig(blockNumber)
	}

	batch := make([]rpc.BatchElem, len(calls))
	results := make([]hexutil.Bytes, len(calls))
	for i, call := range calls {
		batch[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []interface{}{
				map[string]interface{}{
					"to":   call.To,
					"data": hexutil.Bytes(call.Data),
				},
				blockArg,
			},
			Result: &results[i],
		}
	}

	if err := c.rpcClient.BatchCallContext(ctx, batch); err != nil {
		return nil, fmt.Errorf("batch call: %w", err)
	}

	out := make([][]byte, len(calls))
	for i, elem := range batch {
		if elem.Error != nil {
			return nil, fmt.Errorf("call %d to %s: %w", i, calls[i].To.Hex(), elem.Error)
		}
		out[i] = results[i]
	}
	return out, nil
}
