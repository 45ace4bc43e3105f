package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/russross/meddler"
	"github.com/shopspring/decimal"

	"hyperdriveScope/internal/model"
	"hyperdriveScope/internal/storage"
	"hyperdriveScope/internal/storage/migrations"

	_ "modernc.org/sqlite"
)

func init() {
	meddler.Default = meddler.SQLite
}

var _ storage.Store = (*Store)(nil)

// Store provides SQLite persistence for acquisition results.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path and applies migrations.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `
		pragma journal_mode = WAL;
		pragma synchronous = normal;
		pragma journal_size_limit = 6144000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := migrations.Run(db, migrations.DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

type poolConfigRow struct {
	ContractAddress      string `meddler:"contract_address"`
	BaseToken            string `meddler:"base_token"`
	InitialSharePrice    string `meddler:"initial_share_price"`
	MinimumShareReserves string `meddler:"minimum_share_reserves"`
	PositionDuration     int64  `meddler:"position_duration"`
	CheckpointDuration   int64  `meddler:"checkpoint_duration"`
	TimeStretch          string `meddler:"time_stretch"`
	Governance           string `meddler:"governance"`
	FeeCollector         string `meddler:"fee_collector"`
	CurveFee             string `meddler:"curve_fee"`
	FlatFee              string `meddler:"flat_fee"`
	GovernanceFee        string `meddler:"governance_fee"`
	OracleSize           int64  `meddler:"oracle_size"`
	UpdateGap            int64  `meddler:"update_gap"`
}

type poolInfoRow struct {
	BlockNumber                     int64  `meddler:"block_number"`
	BlockTimestamp                  int64  `meddler:"block_timestamp"`
	ShareReserves                   string `meddler:"share_reserves"`
	BondReserves                    string `meddler:"bond_reserves"`
	LPTotalSupply                   string `meddler:"lp_total_supply"`
	SharePrice                      string `meddler:"share_price"`
	LongsOutstanding                string `meddler:"longs_outstanding"`
	LongAverageMaturityTime         string `meddler:"long_average_maturity_time"`
	ShortsOutstanding               string `meddler:"shorts_outstanding"`
	ShortAverageMaturityTime        string `meddler:"short_average_maturity_time"`
	ShortBaseVolume                 string `meddler:"short_base_volume"`
	WithdrawalSharesReadyToWithdraw string `meddler:"withdrawal_shares_ready_to_withdraw"`
	WithdrawalSharesProceeds        string `meddler:"withdrawal_shares_proceeds"`
}

type transactionRow struct {
	TransactionHash  string         `meddler:"transaction_hash"`
	BlockNumber      int64          `meddler:"block_number"`
	TransactionIndex int64          `meddler:"transaction_index"`
	Nonce            int64          `meddler:"nonce"`
	From             string         `meddler:"tx_from"`
	To               string         `meddler:"tx_to"`
	Value            string         `meddler:"value"`
	GasUsed          int64          `meddler:"gas_used"`
	Status           int64          `meddler:"status"`
	Action           string         `meddler:"action"`
	Amount           string         `meddler:"amount"`
	InputParams      string         `meddler:"input_params"`
	Event            sql.NullString `meddler:"event"`
}

type blockGapRow struct {
	FromBlock  int64 `meddler:"from_block"`
	ToBlock    int64 `meddler:"to_block"`
	ChainHead  int64 `meddler:"chain_head"`
	DetectedAt int64 `meddler:"detected_at"`
}

// SavePoolConfig replaces any stored pool config with cfg.
func (s *Store) SavePoolConfig(ctx context.Context, cfg model.PoolConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pool_config`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pool_config (
			contract_address, base_token, initial_share_price, minimum_share_reserves,
			position_duration, checkpoint_duration, time_stretch, governance, fee_collector,
			curve_fee, flat_fee, governance_fee, oracle_size, update_gap
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
	); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertPoolInfo inserts or replaces pool state rows keyed by block number.
func (s *Store) UpsertPoolInfo(ctx context.Context, infos []model.PoolInfo) error {
	if len(infos) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, info := range infos {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pool_info (
				block_number, block_timestamp, share_reserves, bond_reserves, lp_total_supply,
				share_price, longs_outstanding, long_average_maturity_time, shorts_outstanding,
				short_average_maturity_time, short_base_volume,
				withdrawal_shares_ready_to_withdraw, withdrawal_shares_proceeds
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (block_number) DO UPDATE SET
				block_timestamp = excluded.block_timestamp,
				share_reserves = excluded.share_reserves,
				bond_reserves = excluded.bond_reserves,
				lp_total_supply = excluded.lp_total_supply,
				share_price = excluded.share_price,
				longs_outstanding = excluded.longs_outstanding,
				long_average_maturity_time = excluded.long_average_maturity_time,
				shorts_outstanding = excluded.shorts_outstanding,
				short_average_maturity_time = excluded.short_average_maturity_time,
				short_base_volume = excluded.short_base_volume,
				withdrawal_shares_ready_to_withdraw = excluded.withdrawal_shares_ready_to_withdraw,
				withdrawal_shares_proceeds = excluded.withdrawal_shares_proceeds
		`,
			int64(info.BlockNumber),
			info.Timestamp.Unix(),
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
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendTransactions inserts transactions, ignoring hashes already stored.
func (s *Store) AppendTransactions(ctx context.Context, txs []model.TransactionRecord) error {
	if len(txs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, record := range txs {
		params, err := json.Marshal(record.InputParams)
		if err != nil {
			return fmt.Errorf("marshal input params: %w", err)
		}
		var event sql.NullString
		if record.Event != nil {
			data, err := json.Marshal(record.Event)
			if err != nil {
				return fmt.Errorf("marshal event: %w", err)
			}
			event = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (
				transaction_hash, block_number, transaction_index, nonce, tx_from, tx_to,
				value, gas_used, status, action, amount, input_params, event
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordGap stores a skipped block range. A range starting at an already
// recorded block widens that row instead of adding an overlapping one.
func (s *Store) RecordGap(ctx context.Context, gap model.BlockGap) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO block_gaps (from_block, to_block, chain_head, detected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (from_block) DO UPDATE SET
			to_block = excluded.to_block,
			chain_head = excluded.chain_head,
			detected_at = excluded.detected_at
		WHERE excluded.to_block > block_gaps.to_block
	`, int64(gap.FromBlock), int64(gap.ToBlock), int64(gap.ChainHead), gap.DetectedAt.Unix())
	return err
}

// LoadCursor returns the last processed block for a name.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("cursor name required")
	}
	var block int64
	row := s.db.QueryRowContext(ctx, `SELECT last_processed_block FROM acquisition_state WHERE name = ?`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveCursor upserts the last processed block for a name.
func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("cursor name required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO acquisition_state (name, last_processed_block)
		VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET last_processed_block = excluded.last_processed_block
	`, name, int64(block))
	return err
}

// PoolConfig returns the stored pool config, if any.
func (s *Store) PoolConfig(ctx context.Context) (model.PoolConfig, bool, error) {
	var rows []*poolConfigRow
	if err := meddler.QueryAll(s.db, &rows, `SELECT * FROM pool_config LIMIT 1`); err != nil {
		return model.PoolConfig{}, false, err
	}
	if len(rows) == 0 {
		return model.PoolConfig{}, false, nil
	}
	cfg, err := rows[0].toModel()
	if err != nil {
		return model.PoolConfig{}, false, err
	}
	return cfg, true, nil
}

// PoolInfoHistory returns every stored pool state in block order.
func (s *Store) PoolInfoHistory(ctx context.Context) ([]model.PoolInfo, error) {
	var rows []*poolInfoRow
	if err := meddler.QueryAll(s.db, &rows, `SELECT * FROM pool_info ORDER BY block_number`); err != nil {
		return nil, err
	}
	out := make([]model.PoolInfo, 0, len(rows))
	for _, row := range rows {
		info, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("pool info %d: %w", row.BlockNumber, err)
		}
		out = append(out, info)
	}
	return out, nil
}

// TransactionHistory returns every stored transaction in block order.
func (s *Store) TransactionHistory(ctx context.Context) ([]model.TransactionRecord, error) {
	var rows []*transactionRow
	if err := meddler.QueryAll(s.db, &rows, `SELECT * FROM transactions ORDER BY block_number, transaction_index`); err != nil {
		return nil, err
	}
	out := make([]model.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", row.TransactionHash, err)
		}
		out = append(out, record)
	}
	return out, nil
}

// Gaps returns every recorded block gap in block order.
func (s *Store) Gaps(ctx context.Context) ([]model.BlockGap, error) {
	var rows []*blockGapRow
	if err := meddler.QueryAll(s.db, &rows, `SELECT * FROM block_gaps ORDER BY from_block`); err != nil {
		return nil, err
	}
	out := make([]model.BlockGap, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.BlockGap{
			FromBlock:  uint64(row.FromBlock),
			ToBlock:    uint64(row.ToBlock),
			ChainHead:  uint64(row.ChainHead),
			DetectedAt: time.Unix(row.DetectedAt, 0).UTC(),
		})
	}
	return out, nil
}

func (r *poolConfigRow) toModel() (model.PoolConfig, error) {
	var p decimalParser
	cfg := model.PoolConfig{
		ContractAddress:      r.ContractAddress,
		BaseToken:            r.BaseToken,
		InitialSharePrice:    p.parse(r.InitialSharePrice),
		MinimumShareReserves: p.parse(r.MinimumShareReserves),
		PositionDuration:     uint64(r.PositionDuration),
		CheckpointDuration:   uint64(r.CheckpointDuration),
		TimeStretch:          p.parse(r.TimeStretch),
		Governance:           r.Governance,
		FeeCollector:         r.FeeCollector,
		CurveFee:             p.parse(r.CurveFee),
		FlatFee:              p.parse(r.FlatFee),
		GovernanceFee:        p.parse(r.GovernanceFee),
		OracleSize:           uint64(r.OracleSize),
		UpdateGap:            uint64(r.UpdateGap),
	}
	return cfg, p.err
}

func (r *poolInfoRow) toModel() (model.PoolInfo, error) {
	var p decimalParser
	info := model.PoolInfo{
		BlockNumber:                     uint64(r.BlockNumber),
		Timestamp:                       time.Unix(r.BlockTimestamp, 0).UTC(),
		ShareReserves:                   p.parse(r.ShareReserves),
		BondReserves:                    p.parse(r.BondReserves),
		LPTotalSupply:                   p.parse(r.LPTotalSupply),
		SharePrice:                      p.parse(r.SharePrice),
		LongsOutstanding:                p.parse(r.LongsOutstanding),
		LongAverageMaturityTime:         p.parse(r.LongAverageMaturityTime),
		ShortsOutstanding:               p.parse(r.ShortsOutstanding),
		ShortAverageMaturityTime:        p.parse(r.ShortAverageMaturityTime),
		ShortBaseVolume:                 p.parse(r.ShortBaseVolume),
		WithdrawalSharesReadyToWithdraw: p.parse(r.WithdrawalSharesReadyToWithdraw),
		WithdrawalSharesProceeds:        p.parse(r.WithdrawalSharesProceeds),
	}
	return info, p.err
}

func (r *transactionRow) toModel() (model.TransactionRecord, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return model.TransactionRecord{}, fmt.Errorf("amount: %w", err)
	}
	record := model.TransactionRecord{
		BlockNumber:      uint64(r.BlockNumber),
		TransactionIndex: uint64(r.TransactionIndex),
		TransactionHash:  r.TransactionHash,
		Nonce:            uint64(r.Nonce),
		From:             r.From,
		To:               r.To,
		Value:            r.Value,
		GasUsed:          uint64(r.GasUsed),
		Status:           uint64(r.Status),
		Action:           r.Action,
		Amount:           amount,
	}
	if err := json.Unmarshal([]byte(r.InputParams), &record.InputParams); err != nil {
		return model.TransactionRecord{}, fmt.Errorf("input params: %w", err)
	}
	if r.Event.Valid {
		var event model.TransferEvent
		if err := json.Unmarshal([]byte(r.Event.String), &event); err != nil {
			return model.TransactionRecord{}, fmt.Errorf("event: %w", err)
		}
		record.Event = &event
	}
	return record, nil
}

// decimalParser keeps the first parse error so row conversion stays flat.
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
