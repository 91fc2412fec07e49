package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"defiscope/internal/model"
)

func TestFileCursorStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.json")
	store := NewFileCursorStore(path)
	ctx := context.Background()

	_, ok, err := store.LoadCursor(ctx, "metadata:testnet:testdex:v2:0xfac")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SaveCursor(ctx, "metadata:testnet:testdex:v2:0xfac", 12345))
	require.NoError(t, store.SaveCursor(ctx, "state:testnet:testdex:v2:0xfac", 99))

	// A fresh store on the same file sees the persisted values.
	reopened := NewFileCursorStore(path)
	block, ok, err := reopened.LoadCursor(ctx, "metadata:testnet:testdex:v2:0xfac")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(12345), block)

	block, ok, err = reopened.LoadCursor(ctx, "state:testnet:testdex:v2:0xfac")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(99), block)
}

func TestFileCursorStoreNoPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.json")
	store := NewFileCursorStore(path)

	require.NoError(t, store.SaveCursor(context.Background(), "a", 1))

	// The tmp file from the atomic write never survives a completed save.
	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestFilePoolStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.json")
	store := NewFilePoolStore(path)
	ctx := context.Background()

	poolA := model.PoolMetadata{
		Protocol: "testdex", Chain: "testnet", Version: "v2",
		Address: "0x1000000000000000000000000000000000000001",
		PoolID:  "0xfac-0x1000000000000000000000000000000000000001",
		Tokens: [2]model.Token{
			{Chain: "testnet", Address: "0xa", Symbol: "USDX", Decimals: 6},
			{Chain: "testnet", Address: "0xb", Symbol: "WETH", Decimals: 18},
		},
		FeeRate:    3000,
		BirthBlock: 12,
	}
	poolOther := poolA
	poolOther.Protocol = "otherdex"
	poolOther.PoolID = "0xother-0x1000000000000000000000000000000000000001"

	require.NoError(t, store.UpsertPools(ctx, []model.PoolMetadata{poolA, poolOther}))

	pools, err := NewFilePoolStore(path).LoadPools(ctx, "testnet", "testdex")
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, poolA, pools[0])
}

func TestFilePoolStoreUpsertByKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.json")
	store := NewFilePoolStore(path)
	ctx := context.Background()

	pool := model.PoolMetadata{
		Protocol: "testdex", Chain: "testnet",
		Address: "0x1000000000000000000000000000000000000001",
		PoolID:  "0xfac-0x1000000000000000000000000000000000000001",
	}
	require.NoError(t, store.UpsertPools(ctx, []model.PoolMetadata{pool}))

	// Re-discovering the same pool replaces the record instead of duplicating.
	pool.BirthBlock = 42
	require.NoError(t, store.UpsertPools(ctx, []model.PoolMetadata{pool}))

	pools, err := store.LoadPools(ctx, "testnet", "testdex")
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, uint64(42), pools[0].BirthBlock)
}
