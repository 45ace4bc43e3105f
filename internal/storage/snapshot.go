package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"hyperdriveScope/internal/model"
)

// Snapshot file names inside the output directory.
const (
	PoolConfigFile         = "pool_config.json"
	PoolInfoHistoryFile    = "pool_info_history.json"
	TransactionHistoryFile = "transaction_history.json"
	BlockGapsFile          = "block_gaps.json"
	DecodeErrorsFile       = "decode_errors.jsonl"
)

// Snapshotter writes complete point-in-time JSON exports. Each file is
// replaced atomically; readers never observe a partial export.
type Snapshotter struct {
	dir string
}

func NewSnapshotter(dir string) *Snapshotter {
	return &Snapshotter{dir: dir}
}

// Dir returns the output directory.
func (s *Snapshotter) Dir() string {
	return s.dir
}

// WritePoolConfig overwrites the pool config snapshot.
func (s *Snapshotter) WritePoolConfig(cfg model.PoolConfig) error {
	return s.writeJSON(PoolConfigFile, cfg)
}

// Export re-reads the full history from the store and overwrites the
// history snapshots.
func (s *Snapshotter) Export(ctx context.Context, reader HistoryReader) error {
	infos, err := reader.PoolInfoHistory(ctx)
	if err != nil {
		return fmt.Errorf("read pool info history: %w", err)
	}
	if infos == nil {
		infos = []model.PoolInfo{}
	}
	if err := s.writeJSON(PoolInfoHistoryFile, infos); err != nil {
		return err
	}

	txs, err := reader.TransactionHistory(ctx)
	if err != nil {
		return fmt.Errorf("read transaction history: %w", err)
	}
	if txs == nil {
		txs = []model.TransactionRecord{}
	}
	if err := s.writeJSON(TransactionHistoryFile, txs); err != nil {
		return err
	}

	gaps, err := reader.Gaps(ctx)
	if err != nil {
		return fmt.Errorf("read block gaps: %w", err)
	}
	if gaps == nil {
		gaps = []model.BlockGap{}
	}
	return s.writeJSON(BlockGapsFile, gaps)
}

// ExportAll writes the pool config, if one is stored, and every history snapshot.
func (s *Snapshotter) ExportAll(ctx context.Context, reader HistoryReader) error {
	cfg, ok, err := reader.PoolConfig(ctx)
	if err != nil {
		return fmt.Errorf("read pool config: %w", err)
	}
	if ok {
		if err := s.WritePoolConfig(cfg); err != nil {
			return err
		}
	}
	return s.Export(ctx, reader)
}

func (s *Snapshotter) writeJSON(name string, value interface{}) error {
	if s.dir != "" && s.dir != "." {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s tmp: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
