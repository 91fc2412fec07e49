package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"defiscope/internal/model"
)

// Store provides Postgres persistence for pool metadata, sync cursors, and
// timeframe snapshots.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertPools inserts or updates pool metadata keyed by natural identity.
func (s *Store) UpsertPools(ctx context.Context, pools []model.PoolMetadata) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				protocol, chain, version, pool_address, pool_id,
				token0_address, token0_symbol, token0_decimals,
				token1_address, token1_symbol, token1_decimals,
				fee_rate, birth_block, birth_timestamp, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
			ON CONFLICT (protocol, chain, pool_address, pool_id)
			DO UPDATE SET
				token0_symbol = EXCLUDED.token0_symbol,
				token1_symbol = EXCLUDED.token1_symbol,
				updated_at = now()
		`,
			pool.Protocol,
			pool.Chain,
			pool.Version,
			model.NormalizeAddress(pool.Address),
			pool.PoolID,
			model.NormalizeAddress(pool.Tokens[0].Address),
			pool.Tokens[0].Symbol,
			int16(pool.Tokens[0].Decimals),
			model.NormalizeAddress(pool.Tokens[1].Address),
			pool.Tokens[1].Symbol,
			int16(pool.Tokens[1].Decimals),
			int64(pool.FeeRate),
			int64(pool.BirthBlock),
			int64(pool.BirthTimestamp),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadPools returns all pools for a chain and protocol.
func (s *Store) LoadPools(ctx context.Context, chain, protocol string) ([]model.PoolMetadata, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT protocol, chain, version, pool_address, pool_id,
			token0_address, token0_symbol, token0_decimals,
			token1_address, token1_symbol, token1_decimals,
			fee_rate, birth_block, birth_timestamp
		FROM pools WHERE chain = $1 AND protocol = $2
	`, chain, protocol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.PoolMetadata, 0)
	for rows.Next() {
		var pool model.PoolMetadata
		var dec0, dec1 int16
		var feeRate, birthBlock, birthTs int64
		if err := rows.Scan(
			&pool.Protocol, &pool.Chain, &pool.Version, &pool.Address, &pool.PoolID,
			&pool.Tokens[0].Address, &pool.Tokens[0].Symbol, &dec0,
			&pool.Tokens[1].Address, &pool.Tokens[1].Symbol, &dec1,
			&feeRate, &birthBlock, &birthTs,
		); err != nil {
			return nil, err
		}
		pool.Tokens[0].Chain = pool.Chain
		pool.Tokens[1].Chain = pool.Chain
		pool.Tokens[0].Decimals = uint8(dec0)
		pool.Tokens[1].Decimals = uint8(dec1)
		pool.FeeRate = uint32(feeRate)
		pool.BirthBlock = uint64(birthBlock)
		pool.BirthTimestamp = uint64(birthTs)
		out = append(out, pool)
	}
	return out, rows.Err()
}

// LoadCursor returns last_processed_block for a source key.
func (s *Store) LoadCursor(ctx context.Context, sourceKey string) (uint64, bool, error) {
	if sourceKey == "" {
		return 0, false, fmt.Errorf("source key required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM sync_cursors WHERE source_key=$1`, sourceKey)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveCursor upserts last_processed_block for a source key.
func (s *Store) SaveCursor(ctx context.Context, sourceKey string, lastProcessedBlock uint64) error {
	if sourceKey == "" {
		return fmt.Errorf("source key required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursors (source_key, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (source_key) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, sourceKey, int64(lastProcessedBlock))
	return err
}

// PutSnapshots inserts or updates timeframe snapshots keyed by pool and window.
func (s *Store) PutSnapshots(ctx context.Context, snapshots []model.PoolTimeframeSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		routers, err := json.Marshal(snap.AddressRouters)
		if err != nil {
			return fmt.Errorf("marshal routers: %w", err)
		}
		swappers, err := json.Marshal(snap.AddressSwappers)
		if err != nil {
			return fmt.Errorf("marshal swappers: %w", err)
		}
		batch.Queue(`
			INSERT INTO pool_timeframe_snapshots (
				protocol, chain, pool_address, pool_id,
				window_start_ts, window_end_ts, state_block,
				token0_price, token1_price, token0_balance, token1_balance,
				total_liquidity_usd, volume_swap_usd,
				volume_add_liquidity_usd, volume_remove_liquidity_usd, fees_usd,
				address_routers, address_swappers, trade_count,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,now(),now())
			ON CONFLICT (protocol, chain, pool_address, pool_id, window_start_ts, window_end_ts)
			DO UPDATE SET
				state_block = EXCLUDED.state_block,
				token0_price = EXCLUDED.token0_price,
				token1_price = EXCLUDED.token1_price,
				token0_balance = EXCLUDED.token0_balance,
				token1_balance = EXCLUDED.token1_balance,
				total_liquidity_usd = EXCLUDED.total_liquidity_usd,
				volume_swap_usd = EXCLUDED.volume_swap_usd,
				volume_add_liquidity_usd = EXCLUDED.volume_add_liquidity_usd,
				volume_remove_liquidity_usd = EXCLUDED.volume_remove_liquidity_usd,
				fees_usd = EXCLUDED.fees_usd,
				address_routers = EXCLUDED.address_routers,
				address_swappers = EXCLUDED.address_swappers,
				trade_count = EXCLUDED.trade_count,
				updated_at = now()
		`,
			snap.Protocol,
			snap.Chain,
			model.NormalizeAddress(snap.Address),
			snap.PoolID,
			int64(snap.WindowStart),
			int64(snap.WindowEnd),
			int64(snap.StateBlock),
			snap.TokenPrices[0].String(),
			snap.TokenPrices[1].String(),
			snap.TokenBalances[0].String(),
			snap.TokenBalances[1].String(),
			snap.TotalLiquidityUsd.String(),
			snap.VolumeSwapUsd.String(),
			snap.VolumeAddLiquidityUsd.String(),
			snap.VolumeRemoveLiquidityUsd.String(),
			snap.FeesUsd.String(),
			routers,
			swappers,
			int64(snap.TradeCount),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snapshots {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
