package model

import "github.com/shopspring/decimal"

// Hyperdrive actions recognised by the transaction extractor.
const (
	ActionOpenLong               = "openLong"
	ActionCloseLong              = "closeLong"
	ActionOpenShort              = "openShort"
	ActionCloseShort             = "closeShort"
	ActionAddLiquidity           = "addLiquidity"
	ActionRemoveLiquidity        = "removeLiquidity"
	ActionRedeemWithdrawalShares = "redeemWithdrawalShares"
	ActionInitialize             = "initialize"
	ActionCheckpoint             = "checkpoint"
)

// TransactionRecord is a decoded Hyperdrive transaction.
type TransactionRecord struct {
	BlockNumber      uint64            `json:"block_number"`
	TransactionIndex uint64            `json:"transaction_index"`
	TransactionHash  string            `json:"transaction_hash"`
	Nonce            uint64            `json:"nonce"`
	From             string            `json:"from"`
	To               string            `json:"to"`
	Value            string            `json:"value"`
	GasUsed          uint64            `json:"gas_used"`
	Status           uint64            `json:"status"`
	Action           string            `json:"action"`
	Amount           decimal.Decimal   `json:"amount"`
	InputParams      map[string]string `json:"input_params"`
	Event            *TransferEvent    `json:"event,omitempty"`
}

// TransferEvent is the TransferSingle event emitted for a position change.
type TransferEvent struct {
	Operator     string          `json:"operator"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	ID           string          `json:"id"`
	Value        decimal.Decimal `json:"value"`
	Prefix       uint64          `json:"prefix"`
	MaturityTime uint64          `json:"maturity_time"`
}
