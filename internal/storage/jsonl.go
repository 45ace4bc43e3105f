package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLWriter appends records of one type to a JSON lines file. The file and
// its directory are created on first write.
type JSONLWriter[T any] struct {
	path string
	mu   sync.Mutex
}

// NewJSONLWriter returns a writer appending to path.
func NewJSONLWriter[T any](path string) *JSONLWriter[T] {
	return &JSONLWriter[T]{path: path}
}

// Append writes records as one JSON document per line. A batch is buffered
// and flushed once, so concurrent batches never interleave.
func (w *JSONLWriter[T]) Append(records []T) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := w.open()
	if err != nil {
		return err
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	enc := json.NewEncoder(buf)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encode %s line %d: %w", filepath.Base(w.path), i, err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", w.path, err)
	}
	return nil
}

func (w *JSONLWriter[T]) open() (*os.File, error) {
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", w.path, err)
	}
	return file, nil
}
