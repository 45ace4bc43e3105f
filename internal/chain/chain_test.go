package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

type testRPCError struct{}

func (testRPCError) Error() string  { return "header not found" }
func (testRPCError) ErrorCode() int { return -32000 }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"not found", ethereum.NotFound, ErrInvalidBlock},
		{"rpc error", fmt.Errorf("call: %w", testRPCError{}), ErrTransientQuery},
		{"http error", rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, ErrConnectivity},
		{"transport", errors.New("dial tcp: connection refused"), ErrConnectivity},
	}

	for _, tt := range tests {
		err := Classify("op", 7, tt.err)
		if !errors.Is(err, tt.kind) {
			t.Fatalf("%s: expected kind %v, got %v", tt.name, tt.kind, err)
		}
		var qe *QueryError
		if !errors.As(err, &qe) || qe.Err.Error() != tt.err.Error() || qe.Block != 7 {
			t.Fatalf("%s: underlying error lost: %v", tt.name, err)
		}
	}
}

func TestClassifyPassesThrough(t *testing.T) {
	if err := Classify("op", 1, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := Classify("op", 1, context.Canceled); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	inner := NewQueryError("inner", 3, ErrTransientQuery, errors.New("boom"))
	err := Classify("outer", 4, inner)
	var qe *QueryError
	if !errors.As(err, &qe) || qe.Op != "inner" {
		t.Fatalf("expected original query error, got %v", err)
	}
}

func TestAddressFetcherRetriesUntilAvailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"hyperdrive":"0x1111111111111111111111111111111111111111","baseToken":"0x2222222222222222222222222222222222222222"}`)
	}))
	defer srv.Close()

	fetcher := &AddressFetcher{URL: srv.URL, Interval: time.Millisecond}
	addrs, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if addrs.Hyperdrive != common.HexToAddress("0x1111111111111111111111111111111111111111") {
		t.Fatalf("hyperdrive mismatch: %s", addrs.Hyperdrive.Hex())
	}
	if addrs.BaseToken != common.HexToAddress("0x2222222222222222222222222222222222222222") {
		t.Fatalf("base token mismatch: %s", addrs.BaseToken.Hex())
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestAddressFetcherGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	fetcher := &AddressFetcher{URL: srv.URL, Interval: time.Millisecond, MaxWait: 20 * time.Millisecond}
	if _, err := fetcher.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error for missing hyperdrive address")
	}
}

// headerServer answers eth_getBlockByNumber with a header whose timestamp is
// ten times the block number.
func headerServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	zeroHash := common.Hash{}.Hex()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Method != "eth_getBlockByNumber" || len(req.Params) == 0 {
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
			return
		}
		var tag string
		if err := json.Unmarshal(req.Params[0], &tag); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		number, err := hexutil.DecodeUint64(tag)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		atomic.AddInt32(calls, 1)

		header := map[string]string{
			"parentHash":       zeroHash,
			"sha3Uncles":       zeroHash,
			"miner":            common.Address{}.Hex(),
			"stateRoot":        zeroHash,
			"transactionsRoot": zeroHash,
			"receiptsRoot":     zeroHash,
			"logsBloom":        "0x" + strings.Repeat("00", 256),
			"difficulty":       "0x0",
			"number":           hexutil.EncodeUint64(number),
			"gasLimit":         "0x0",
			"gasUsed":          "0x0",
			"timestamp":        hexutil.EncodeUint64(number * 10),
			"extraData":        "0x",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  header,
		})
	}))
}

func TestBlockTimestampCacheIsBounded(t *testing.T) {
	var calls int32
	srv := headerServer(t, &calls)
	defer srv.Close()

	ctx := context.Background()
	client, err := NewClient(ctx, srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	total := uint64(timestampCacheSize + 44)
	for n := uint64(1); n <= total; n++ {
		ts, err := client.BlockTimestamp(ctx, n)
		if err != nil {
			t.Fatalf("timestamp %d: %v", n, err)
		}
		if ts != n*10 {
			t.Fatalf("timestamp %d: expected %d, got %d", n, n*10, ts)
		}
	}
	if got := client.timestamps.Len(); got != timestampCacheSize {
		t.Fatalf("expected %d cached timestamps, got %d", timestampCacheSize, got)
	}

	before := atomic.LoadInt32(&calls)
	if _, err := client.BlockTimestamp(ctx, total); err != nil {
		t.Fatalf("cached timestamp: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != before {
		t.Fatalf("recent block should be served from cache, calls %d -> %d", before, got)
	}
	if _, err := client.BlockTimestamp(ctx, 1); err != nil {
		t.Fatalf("evicted timestamp: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != before+1 {
		t.Fatalf("evicted block should be fetched again, calls %d -> %d", before, got)
	}
}
