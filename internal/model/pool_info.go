package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolInfo is the pool state snapshot at a single block.
type PoolInfo struct {
	BlockNumber                     uint64          `json:"block_number"`
	Timestamp                       time.Time       `json:"timestamp"`
	ShareReserves                   decimal.Decimal `json:"share_reserves"`
	BondReserves                    decimal.Decimal `json:"bond_reserves"`
	LPTotalSupply                   decimal.Decimal `json:"lp_total_supply"`
	SharePrice                      decimal.Decimal `json:"share_price"`
	LongsOutstanding                decimal.Decimal `json:"longs_outstanding"`
	LongAverageMaturityTime         decimal.Decimal `json:"long_average_maturity_time"`
	ShortsOutstanding               decimal.Decimal `json:"shorts_outstanding"`
	ShortAverageMaturityTime        decimal.Decimal `json:"short_average_maturity_time"`
	ShortBaseVolume                 decimal.Decimal `json:"short_base_volume"`
	WithdrawalSharesReadyToWithdraw decimal.Decimal `json:"withdrawal_shares_ready_to_withdraw"`
	WithdrawalSharesProceeds        decimal.Decimal `json:"withdrawal_shares_proceeds"`
}
