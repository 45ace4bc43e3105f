package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"hyperdriveScope/internal/model"
	"hyperdriveScope/internal/storage"
	"hyperdriveScope/internal/storage/migrations"
)

var _ storage.Store = (*Store)(nil)

// Store provides Postgres persistence for acquisition results.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, checks the connection and applies migrations.
func NewStore(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDB(*cfg.ConnConfig)
	_, err = migrations.Run(db, migrations.DialectPostgres)
	db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SavePoolConfig replaces any stored pool config with cfg.
func (s *Store) SavePoolConfig(ctx context.Context, cfg model.PoolConfig) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM pool_config`); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO pool_config (
				contract_address, base_token, initial_share_price, minimum_share_reserves,
				position_duration, checkpoint_duration, time_stretch, governance, fee_collector,
				curve_fee, flat_fee, governance_fee, oracle_size, update_gap, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now())
		`,
			cfg.ContractAddress,
			cfg.BaseToken,
			cfg.InitialSharePrice.String(),
			cfg.MinimumShareReserves.String(),
			int64(cfg.PositionDuration),
			int64(cfg.CheckpointDuration),
			cfg.TimeStretch.String(),
			cfg.Governance,
			cfg.FeeCollector,
			cfg.CurveFee.String(),
			cfg.FlatFee.String(),
			cfg.GovernanceFee.String(),
			int64(cfg.OracleSize),
			int64(cfg.UpdateGap),
		)
		return err
	})
}

// UpsertPoolInfo inserts or updates pool state rows keyed by block number.
func (s *Store) UpsertPoolInfo(ctx context.Context, infos []model.PoolInfo) error {
	if len(infos) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, info := range infos {
		batch.Queue(`
			INSERT INTO pool_info (
				block_number, block_timestamp, share_reserves, bond_reserves, lp_total_supply,
				share_price, longs_outstanding, long_average_maturity_time, shorts_outstanding,
				short_average_maturity_time, short_base_volume,
				withdrawal_shares_ready_to_withdraw, withdrawal_shares_proceeds
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (block_number)
			DO UPDATE SET
				block_timestamp = EXCLUDED.block_timestamp,
				share_reserves = EXCLUDED.share_reserves,
				bond_reserves = EXCLUDED.bond_reserves,
				lp_total_supply = EXCLUDED.lp_total_supply,
				share_price = EXCLUDED.share_price,
				longs_outstanding = EXCLUDED.longs_outstanding,
				long_average_maturity_time = EXCLUDED.long_average_maturity_time,
				shorts_outstanding = EXCLUDED.shorts_outstanding,
				short_average_maturity_time = EXCLUDED.short_average_maturity_time,
				short_base_volume = EXCLUDED.short_base_volume,
				withdrawal_shares_ready_to_withdraw = EXCLUDED.withdrawal_shares_ready_to_withdraw,
				withdrawal_shares_proceeds = EXCLUDED.withdrawal_shares_proceeds
		`,
			int64(info.BlockNumber),
			info.Timestamp,
			info.ShareReserves.String(),
			info.BondReserves.String(),
			info.LPTotalSupply.String(),
			info.SharePrice.String(),
			info.LongsOutstanding.String(),
			info.LongAverageMaturityTime.String(),
			info.ShortsOutstanding.String(),
			info.ShortAverageMaturityTime.String(),
			info.ShortBaseVolume.String(),
			info.WithdrawalSharesReadyToWithdraw.String(),
			info.WithdrawalSharesProceeds.String(),
		)
	}
	return s.sendBatch(ctx, batch)
}

// AppendTransactions inserts transactions, ignoring hashes already stored.
func (s *Store) AppendTransactions(ctx context.Context, txs []model.TransactionRecord) error {
	if len(txs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, record := range txs {
		params, err := json.Marshal(record.InputParams)
		if err != nil {
			return fmt.Errorf("marshal input params: %w", err)
		}
		var event *string
		if record.Event != nil {
			data, err := json.Marshal(record.Event)
			if err != nil {
				return fmt.Errorf("marshal event: %w", err)
			}
			encoded := string(data)
			event = &encoded
		}
		batch.Queue(`
			INSERT INTO transactions (
				transaction_hash, block_number, transaction_index, nonce, tx_from, tx_to,
				value, gas_used, status, action, amount, input_params, event
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::jsonb,$13::jsonb)
			ON CONFLICT (transaction_hash) DO NOTHING
		`,
			record.TransactionHash,
			int64(record.BlockNumber),
			int64(record.TransactionIndex),
			int64(record.Nonce),
			record.From,
			record.To,
			record.Value,
			int64(record.GasUsed),
			int64(record.Status),
			record.Action,
			record.Amount.String(),
			string(params),
			event,
		)
	}
	return s.sendBatch(ctx, batch)
}

// RecordGap stores a skipped block range. A range starting at an already
// recorded block widens that row instead of adding an overlapping one.
func (s *Store) RecordGap(ctx context.Context, gap model.BlockGap) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO block_gaps (from_block, to_block, chain_head, detected_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_block) DO UPDATE SET
			to_block = EXCLUDED.to_block,
			chain_head = EXCLUDED.chain_head,
			detected_at = EXCLUDED.detected_at
		WHERE EXCLUDED.to_block > block_gaps.to_block
	`, int64(gap.FromBlock), int64(gap.ToBlock), int64(gap.ChainHead), gap.DetectedAt)
	return err
}

// LoadCursor returns last_processed_block for a name.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("cursor name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM acquisition_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveCursor upserts last_processed_block for a name.
func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("cursor name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO acquisition_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}

// PoolConfig returns the stored pool config, if any.
func (s *Store) PoolConfig(ctx context.Context) (model.PoolConfig, bool, error) {
	var (
		cfg                                                         model.PoolConfig
		initialSharePrice, minimumShareReserves, timeStretch        string
		curveFee, flatFee, governanceFee                            string
		positionDuration, checkpointDuration, oracleSize, updateGap int64
	)
	row := s.pool.QueryRow(ctx, `
		SELECT contract_address, base_token, initial_share_price::text, minimum_share_reserves::text,
			position_duration, checkpoint_duration, time_stretch::text, governance, fee_collector,
			curve_fee::text, flat_fee::text, governance_fee::text, oracle_size, update_gap
		FROM pool_config LIMIT 1
	`)
	err := row.Scan(
		&cfg.ContractAddress, &cfg.BaseToken, &initialSharePrice, &minimumShareReserves,
		&positionDuration, &checkpointDuration, &timeStretch, &cfg.Governance, &cfg.FeeCollector,
		&curveFee, &flatFee, &governanceFee, &oracleSize, &updateGap,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PoolConfig{}, false, nil
		}
		return model.PoolConfig{}, false, err
	}

	var p decimalParser
	cfg.InitialSharePrice = p.parse(initialSharePrice)
	cfg.MinimumShareReserves = p.parse(minimumShareReserves)
	cfg.TimeStretch = p.parse(timeStretch)
	cfg.CurveFee = p.parse(curveFee)
	cfg.FlatFee = p.parse(flatFee)
	cfg.GovernanceFee = p.parse(governanceFee)
	cfg.PositionDuration = uint64(positionDuration)
	cfg.CheckpointDuration = uint64(checkpointDuration)
	cfg.OracleSize = uint64(oracleSize)
	cfg.UpdateGap = uint64(updateGap)
	if p.err != nil {
		return model.PoolConfig{}, false, p.err
	}
	return cfg, true, nil
}

// PoolInfoHistory returns every stored pool state in block order.
func (s *Store) PoolInfoHistory(ctx context.Context) ([]model.PoolInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT block_number, block_timestamp, share_reserves::text, bond_reserves::text,
			lp_total_supply::text, share_price::text, longs_outstanding::text,
			long_average_maturity_time::text, shorts_outstanding::text,
			short_average_maturity_time::text, short_base_volume::text,
			withdrawal_shares_ready_to_withdraw::text, withdrawal_shares_proceeds::text
		FROM pool_info
		ORDER BY block_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PoolInfo
	for rows.Next() {
		var (
			block  int64
			ts     time.Time
			values [11]string
		)
		dest := []interface{}{&block, &ts}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		var p decimalParser
		info := model.PoolInfo{
			BlockNumber:                     uint64(block),
			Timestamp:                       ts.UTC(),
			ShareReserves:                   p.parse(values[0]),
			BondReserves:                    p.parse(values[1]),
			LPTotalSupply:                   p.parse(values[2]),
			SharePrice:                      p.parse(values[3]),
			LongsOutstanding:                p.parse(values[4]),
			LongAverageMaturityTime:         p.parse(values[5]),
			ShortsOutstanding:               p.parse(values[6]),
			ShortAverageMaturityTime:        p.parse(values[7]),
			ShortBaseVolume:                 p.parse(values[8]),
			WithdrawalSharesReadyToWithdraw: p.parse(values[9]),
			WithdrawalSharesProceeds:        p.parse(values[10]),
		}
		if p.err != nil {
			return nil, fmt.Errorf("pool info %d: %w", block, p.err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// TransactionHistory returns every stored transaction in block order.
func (s *Store) TransactionHistory(ctx context.Context) ([]model.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT transaction_hash, block_number, transaction_index, nonce, tx_from, tx_to,
			value::text, gas_used, status, action, amount::text, input_params::text, event::text
		FROM transactions
		ORDER BY block_number, transaction_index
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TransactionRecord
	for rows.Next() {
		var (
			record                         model.TransactionRecord
			block, index, nonce, gas, stat int64
			amount, params                 string
			event                          *string
		)
		if err := rows.Scan(
			&record.TransactionHash, &block, &index, &nonce, &record.From, &record.To,
			&record.Value, &gas, &stat, &record.Action, &amount, &params, &event,
		); err != nil {
			return nil, err
		}
		record.BlockNumber = uint64(block)
		record.TransactionIndex = uint64(index)
		record.Nonce = uint64(nonce)
		record.GasUsed = uint64(gas)
		record.Status = uint64(stat)

		if record.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", record.TransactionHash, err)
		}
		if err := json.Unmarshal([]byte(params), &record.InputParams); err != nil {
			return nil, fmt.Errorf("transaction %s input params: %w", record.TransactionHash, err)
		}
		if event != nil {
			var decoded model.TransferEvent
			if err := json.Unmarshal([]byte(*event), &decoded); err != nil {
				return nil, fmt.Errorf("transaction %s event: %w", record.TransactionHash, err)
			}
			record.Event = &decoded
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Gaps returns every recorded block gap in block order.
func (s *Store) Gaps(ctx context.Context) ([]model.BlockGap, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT from_block, to_block, chain_head, detected_at
		FROM block_gaps
		ORDER BY from_block
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlockGap
	for rows.Next() {
		var from, to, head int64
		var detected time.Time
		if err := rows.Scan(&from, &to, &head, &detected); err != nil {
			return nil, err
		}
		out = append(out, model.BlockGap{
			FromBlock:  uint64(from),
			ToBlock:    uint64(to),
			ChainHead:  uint64(head),
			DetectedAt: detected.UTC(),
		})
	}
	return out, rows.Err()
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

type decimalParser struct {
	err error
}

func (p *decimalParser) parse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}
