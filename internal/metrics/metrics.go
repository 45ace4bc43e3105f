package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Tick results.
const (
	TickOK     = "ok"
	TickIdle   = "idle"
	TickFailed = "failed"
)

// Metrics holds the collectors of the acquisition loop. Its recording
// methods are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	blocksProcessed  prometheus.Counter
	blocksSkipped    prometheus.Counter
	transientRetries prometheus.Counter
	decodeErrors     prometheus.Counter
	transactions     *prometheus.CounterVec
	ticks            *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	cursor           prometheus.Gauge
	chainHead        prometheus.Gauge
}

// New registers the acquisition collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acquire_blocks_processed_total", Help: "Blocks whose state and transactions were persisted",
		}),
		blocksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acquire_blocks_skipped_total", Help: "Blocks dropped for falling outside the lookback window",
		}),
		transientRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acquire_transient_retries_total", Help: "Retries of transient state queries",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acquire_decode_errors_total", Help: "Transactions that could not be decoded",
		}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acquire_transactions_total", Help: "Decoded Hyperdrive transactions",
		}, []string{"action"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acquire_ticks_total", Help: "Reconciliation ticks by result",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "acquire_tick_duration_seconds", Help: "Reconciliation tick latency", Buckets: prometheus.DefBuckets,
		}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acquire_cursor_block", Help: "Last processed block",
		}),
		chainHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acquire_chain_head_block", Help: "Latest block reported by the node",
		}),
	}
	m.registry.MustRegister(
		m.blocksProcessed,
		m.blocksSkipped,
		m.transientRetries,
		m.decodeErrors,
		m.transactions,
		m.ticks,
		m.tickDuration,
		m.cursor,
		m.chainHead,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// BlockProcessed counts a persisted block and moves the cursor gauge.
func (m *Metrics) BlockProcessed(block uint64) {
	if m == nil {
		return
	}
	m.blocksProcessed.Inc()
	m.cursor.Set(float64(block))
}

// BlockSkipped counts a block dropped by the lookback window.
func (m *Metrics) BlockSkipped() {
	if m == nil {
		return
	}
	m.blocksSkipped.Inc()
}

// Cursor records a durably saved cursor that no processed block moved.
func (m *Metrics) Cursor(block uint64) {
	if m == nil {
		return
	}
	m.cursor.Set(float64(block))
}

// TransientRetry counts one retried state query.
func (m *Metrics) TransientRetry() {
	if m == nil {
		return
	}
	m.transientRetries.Inc()
}

// DecodeErrors adds n undecodable transactions.
func (m *Metrics) DecodeErrors(n int) {
	if m == nil {
		return
	}
	m.decodeErrors.Add(float64(n))
}

// Transaction counts a decoded transaction by action.
func (m *Metrics) Transaction(action string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(action).Inc()
}

// ChainHead records the latest observed block.
func (m *Metrics) ChainHead(block uint64) {
	if m == nil {
		return
	}
	m.chainHead.Set(float64(block))
}

// Tick records a tick outcome and its duration.
func (m *Metrics) Tick(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
	m.tickDuration.Observe(took.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
