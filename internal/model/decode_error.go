package model

// DecodeError records a transaction that could not be decoded.
type DecodeError struct {
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	Address     string `json:"address"`
	Selector    string `json:"selector"`
	Error       string `json:"error"`
}
