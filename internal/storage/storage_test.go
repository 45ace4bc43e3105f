package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hyperdriveScope/internal/model"
)

type staticHistory struct {
	config *model.PoolConfig
	infos  []model.PoolInfo
	txs    []model.TransactionRecord
	gaps   []model.BlockGap
}

func (h staticHistory) PoolConfig(context.Context) (model.PoolConfig, bool, error) {
	if h.config == nil {
		return model.PoolConfig{}, false, nil
	}
	return *h.config, true, nil
}

func (h staticHistory) PoolInfoHistory(context.Context) ([]model.PoolInfo, error) {
	return h.infos, nil
}

func (h staticHistory) TransactionHistory(context.Context) ([]model.TransactionRecord, error) {
	return h.txs, nil
}

func (h staticHistory) Gaps(context.Context) ([]model.BlockGap, error) {
	return h.gaps, nil
}

func TestSnapshotterExportEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewSnapshotter(dir)

	if err := s.ExportAll(context.Background(), staticHistory{}); err != nil {
		t.Fatalf("export: %v", err)
	}

	for _, name := range []string{PoolInfoHistoryFile, TransactionHistoryFile, BlockGapsFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(data) != "[]" {
			t.Fatalf("%s: expected empty array, got %s", name, data)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, PoolConfigFile)); !os.IsNotExist(err) {
		t.Fatalf("pool config must not be written without a stored config")
	}
}

func TestSnapshotterOverwrites(t *testing.T) {
	dir := t.TempDir()
	s := NewSnapshotter(dir)
	ctx := context.Background()

	first := staticHistory{infos: []model.PoolInfo{{BlockNumber: 1, Timestamp: time.Unix(1, 0).UTC(), SharePrice: decimal.NewFromInt(1)}}}
	if err := s.Export(ctx, first); err != nil {
		t.Fatalf("export: %v", err)
	}
	second := staticHistory{infos: append(first.infos, model.PoolInfo{BlockNumber: 2, Timestamp: time.Unix(2, 0).UTC(), SharePrice: decimal.RequireFromString("1.5")})}
	if err := s.Export(ctx, second); err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, PoolInfoHistoryFile))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var infos []model.PoolInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 2 || !infos[1].SharePrice.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected snapshot: %+v", infos)
	}
	if _, err := os.Stat(filepath.Join(dir, PoolInfoHistoryFile+".tmp")); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind")
	}
}

func TestJSONLWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DecodeErrorsFile)
	s := NewJSONLWriter[model.DecodeError](path)

	if err := s.Append([]model.DecodeError{{BlockNumber: 1, TxHash: "0x01"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append([]model.DecodeError{{BlockNumber: 2, TxHash: "0x02"}, {BlockNumber: 2, TxHash: "0x03"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(nil); err != nil {
		t.Fatalf("append empty: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var hashes []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record model.DecodeError
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		hashes = append(hashes, record.TxHash)
	}
	if len(hashes) != 3 || hashes[0] != "0x01" || hashes[2] != "0x03" {
		t.Fatalf("unexpected lines: %v", hashes)
	}
}
