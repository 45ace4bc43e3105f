package model

import "github.com/shopspring/decimal"

// PoolConfig is the immutable configuration of a deployed Hyperdrive pool.
type PoolConfig struct {
	ContractAddress      string          `json:"contract_address"`
	BaseToken            string          `json:"base_token"`
	InitialSharePrice    decimal.Decimal `json:"initial_share_price"`
	MinimumShareReserves decimal.Decimal `json:"minimum_share_reserves"`
	PositionDuration     uint64          `json:"position_duration"`
	CheckpointDuration   uint64          `json:"checkpoint_duration"`
	TimeStretch          decimal.Decimal `json:"time_stretch"`
	Governance           string          `json:"governance"`
	FeeCollector         string          `json:"fee_collector"`
	CurveFee             decimal.Decimal `json:"curve_fee"`
	FlatFee              decimal.Decimal `json:"flat_fee"`
	GovernanceFee        decimal.Decimal `json:"governance_fee"`
	OracleSize           uint64          `json:"oracle_size"`
	UpdateGap            uint64          `json:"update_gap"`
}
