package syncer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"defiscope/internal/chain"
	"defiscope/internal/dex"
	"defiscope/internal/model"
	"defiscope/internal/storage"
)

// fakeReader serves canned logs and contract reads for syncer tests.
type fakeReader struct {
	head      uint64
	logs      []types.Log
	tsToBlock map[uint64]uint64

	multicall func(calls []chain.Call, blockNumber *big.Int) ([][]byte, error)

	filterCalls int
}

func (f *fakeReader) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, fmt.Errorf("not supported")
}

func (f *fakeReader) Multicall(_ context.Context, calls []chain.Call, blockNumber *big.Int) ([][]byte, error) {
	return f.multicall(calls, blockNumber)
}

func (f *fakeReader) FilterLogs(_ context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	f.filterCalls++

	topics := make(map[common.Hash]struct{}, len(topic0))
	for _, topic := range topic0 {
		topics[topic] = struct{}{}
	}

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if len(addresses) > 0 && log.Address != addresses[0] {
			continue
		}
		if len(topics) > 0 {
			if _, ok := topics[log.Topics[0]]; !ok {
				continue
			}
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeReader) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return number * 100, nil
}

func (f *fakeReader) BlockNumberAtTimestamp(_ context.Context, ts uint64) (uint64, error) {
	block, ok := f.tsToBlock[ts]
	if !ok {
		return 0, fmt.Errorf("no block for timestamp %d", ts)
	}
	return block, nil
}

func (f *fakeReader) LatestBlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

const erc20MetaABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

type fakeToken struct {
	decimals uint8
	symbol   string
}

// tokenMetaMulticall answers the two-element metadata batch from a canned
// token table.
func tokenMetaMulticall(t *testing.T, tokens map[common.Address]fakeToken) func(calls []chain.Call, blockNumber *big.Int) ([][]byte, error) {
	t.Helper()
	metaABI, err := abi.JSON(strings.NewReader(erc20MetaABIJSON))
	require.NoError(t, err)

	return func(calls []chain.Call, _ *big.Int) ([][]byte, error) {
		if len(calls) != 2 {
			return nil, fmt.Errorf("unexpected batch size %d", len(calls))
		}
		token, ok := tokens[calls[0].To]
		if !ok {
			return nil, fmt.Errorf("unknown token %s", calls[0].To.Hex())
		}
		decimalsOut, err := metaABI.Methods["decimals"].Outputs.Pack(token.decimals)
		if err != nil {
			return nil, err
		}
		symbolOut, err := metaABI.Methods["symbol"].Outputs.Pack(token.symbol)
		if err != nil {
			return nil, err
		}
		return [][]byte{decimalsOut, symbolOut}, nil
	}
}

func creationLog(t *testing.T, spec dex.ProtocolSpec, factory, token0, token1, pair common.Address, blockNumber uint64) types.Log {
	t.Helper()
	factoryABI, err := dex.V2FactoryABI()
	require.NoError(t, err)

	data, err := factoryABI.Events["PairCreated"].Inputs.NonIndexed().Pack(pair, big.NewInt(1))
	require.NoError(t, err)

	return types.Log{
		Address: factory,
		Topics: []common.Hash{
			spec.CreationTopic,
			common.BytesToHash(common.LeftPadBytes(token0.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(token1.Bytes(), 32)),
		},
		Data:        data,
		BlockNumber: blockNumber,
		TxHash:      common.HexToHash("0x01"),
	}
}

func TestDiscoveryRun(t *testing.T) {
	spec, err := dex.NewProtocolSpec("testdex", "v2", dex.FamilyConstantProduct, 0)
	require.NoError(t, err)

	factory := common.HexToAddress("0xf000000000000000000000000000000000000001")
	tokenA := common.HexToAddress("0xa000000000000000000000000000000000000001")
	tokenB := common.HexToAddress("0xb000000000000000000000000000000000000001")
	tokenC := common.HexToAddress("0xc000000000000000000000000000000000000001")
	pair1 := common.HexToAddress("0x1000000000000000000000000000000000000001")
	pair2 := common.HexToAddress("0x2000000000000000000000000000000000000001")

	reader := &fakeReader{
		head: 25,
		logs: []types.Log{
			creationLog(t, spec, factory, tokenA, tokenB, pair1, 12),
			creationLog(t, spec, factory, tokenA, tokenC, pair2, 22),
		},
		multicall: tokenMetaMulticall(t, map[common.Address]fakeToken{
			tokenA: {decimals: 6, symbol: "USDX"},
			tokenB: {decimals: 18, symbol: "WETH"},
			tokenC: {decimals: 8, symbol: "WBTC"},
		}),
	}

	store := storage.NewMemoryStore()
	source := Source{Chain: "testnet", Protocol: "testdex", Version: "v2", Factory: factory, BirthBlock: 10}

	discovery, err := NewDiscovery(
		DiscoveryConfig{ChunkSize: 10},
		source, spec, reader, store, store, nil,
	)
	require.NoError(t, err)

	pools, err := discovery.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 2)

	// Sorted by birth block.
	require.Equal(t, "0x1000000000000000000000000000000000000001", pools[0].Address)
	require.Equal(t, model.ComposePoolID(factory.Hex(), pools[0].Address), pools[0].PoolID)
	require.Equal(t, uint64(12), pools[0].BirthBlock)
	require.Equal(t, uint64(1200), pools[0].BirthTimestamp)
	require.Equal(t, uint32(3000), pools[0].FeeRate)
	require.Equal(t, uint8(6), pools[0].Tokens[0].Decimals)
	require.Equal(t, "WETH", pools[0].Tokens[1].Symbol)

	cursor, ok, err := store.LoadCursor(context.Background(), source.MetadataKey())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(25), cursor)
}

func TestDiscoveryIdempotentRerun(t *testing.T) {
	spec, err := dex.NewProtocolSpec("testdex", "v2", dex.FamilyConstantProduct, 0)
	require.NoError(t, err)

	factory := common.HexToAddress("0xf000000000000000000000000000000000000001")
	tokenA := common.HexToAddress("0xa000000000000000000000000000000000000001")
	tokenB := common.HexToAddress("0xb000000000000000000000000000000000000001")
	pair := common.HexToAddress("0x1000000000000000000000000000000000000001")

	reader := &fakeReader{
		head: 25,
		logs: []types.Log{creationLog(t, spec, factory, tokenA, tokenB, pair, 12)},
		multicall: tokenMetaMulticall(t, map[common.Address]fakeToken{
			tokenA: {decimals: 6, symbol: "USDX"},
			tokenB: {decimals: 18, symbol: "WETH"},
		}),
	}

	store := storage.NewMemoryStore()
	source := Source{Chain: "testnet", Protocol: "testdex", Version: "v2", Factory: factory, BirthBlock: 10}

	discovery, err := NewDiscovery(DiscoveryConfig{ChunkSize: 10}, source, spec, reader, store, store, nil)
	require.NoError(t, err)

	pools, err := discovery.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 1)
	callsAfterFirst := reader.filterCalls

	// Head has not moved: the second run is a no-op that still returns the
	// known entity set from storage.
	pools, err = discovery.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, callsAfterFirst, reader.filterCalls)
	require.Equal(t, 1, store.PoolCount())
}

func TestDiscoveryReplayConverges(t *testing.T) {
	spec, err := dex.NewProtocolSpec("testdex", "v2", dex.FamilyConstantProduct, 0)
	require.NoError(t, err)

	factory := common.HexToAddress("0xf000000000000000000000000000000000000001")
	tokenA := common.HexToAddress("0xa000000000000000000000000000000000000001")
	tokenB := common.HexToAddress("0xb000000000000000000000000000000000000001")
	pair := common.HexToAddress("0x1000000000000000000000000000000000000001")

	reader := &fakeReader{
		head: 25,
		logs: []types.Log{creationLog(t, spec, factory, tokenA, tokenB, pair, 12)},
		multicall: tokenMetaMulticall(t, map[common.Address]fakeToken{
			tokenA: {decimals: 6, symbol: "USDX"},
			tokenB: {decimals: 18, symbol: "WETH"},
		}),
	}

	store := storage.NewMemoryStore()
	source := Source{Chain: "testnet", Protocol: "testdex", Version: "v2", Factory: factory, BirthBlock: 10}

	discovery, err := NewDiscovery(DiscoveryConfig{ChunkSize: 10}, source, spec, reader, store, store, nil)
	require.NoError(t, err)

	_, err = discovery.Run(context.Background())
	require.NoError(t, err)

	// Simulate an interrupted run: cursor rolled back to before the creation
	// block, so the next run re-scans a window it already processed.
	require.NoError(t, store.SaveCursor(context.Background(), source.MetadataKey(), 10))

	pools, err := discovery.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, 1, store.PoolCount())

	cursor, ok, err := store.LoadCursor(context.Background(), source.MetadataKey())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(25), cursor)
}
