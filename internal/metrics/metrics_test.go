package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors(t *testing.T) {
	m := New()

	m.BlockProcessed(10)
	m.BlockProcessed(11)
	m.BlockSkipped()
	m.TransientRetry()
	m.DecodeErrors(3)
	m.Transaction("openLong")
	m.Transaction("openLong")
	m.ChainHead(20)
	m.Tick(TickOK, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.blocksProcessed); got != 2 {
		t.Fatalf("expected 2 processed blocks, got %v", got)
	}
	if got := testutil.ToFloat64(m.blocksSkipped); got != 1 {
		t.Fatalf("expected 1 skipped block, got %v", got)
	}
	if got := testutil.ToFloat64(m.cursor); got != 11 {
		t.Fatalf("a skipped block must not move the cursor, got %v", got)
	}
	m.Cursor(12)
	if got := testutil.ToFloat64(m.cursor); got != 12 {
		t.Fatalf("expected cursor 12, got %v", got)
	}
	if got := testutil.ToFloat64(m.decodeErrors); got != 3 {
		t.Fatalf("expected 3 decode errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.transactions.WithLabelValues("openLong")); got != 2 {
		t.Fatalf("expected 2 openLong, got %v", got)
	}
	if got := testutil.ToFloat64(m.ticks.WithLabelValues(TickOK)); got != 1 {
		t.Fatalf("expected 1 ok tick, got %v", got)
	}
	if got := testutil.ToFloat64(m.chainHead); got != 20 {
		t.Fatalf("expected head 20, got %v", got)
	}
}
