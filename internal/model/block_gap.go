package model

import "time"

// BlockGap marks an inclusive block range that was skipped because it fell
// outside the lookback window.
type BlockGap struct {
	FromBlock  uint64    `json:"from_block"`
	ToBlock    uint64    `json:"to_block"`
	ChainHead  uint64    `json:"chain_head"`
	DetectedAt time.Time `json:"detected_at"`
}
