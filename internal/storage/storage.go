package storage

import (
	"context"

	"hyperdriveScope/internal/model"
)

// Sink persists acquisition results. Every write is idempotent: replaying a
// block never produces duplicate rows.
type Sink interface {
	SavePoolConfig(ctx context.Context, cfg model.PoolConfig) error
	UpsertPoolInfo(ctx context.Context, infos []model.PoolInfo) error
	AppendTransactions(ctx context.Context, txs []model.TransactionRecord) error
	RecordGap(ctx context.Context, gap model.BlockGap) error
}

// CursorStore persists the last processed block under a name.
type CursorStore interface {
	LoadCursor(ctx context.Context, name string) (uint64, bool, error)
	SaveCursor(ctx context.Context, name string, block uint64) error
}

// HistoryReader reads back everything persisted so far, ordered by block.
type HistoryReader interface {
	PoolConfig(ctx context.Context) (model.PoolConfig, bool, error)
	PoolInfoHistory(ctx context.Context) ([]model.PoolInfo, error)
	TransactionHistory(ctx context.Context) ([]model.TransactionRecord, error)
	Gaps(ctx context.Context) ([]model.BlockGap, error)
}

// Store is a durable backend for the acquisition loop.
type Store interface {
	Sink
	CursorStore
	HistoryReader
	Close()
}
