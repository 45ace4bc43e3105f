package acquire

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"hyperdriveScope/internal/metrics"
	"hyperdriveScope/internal/model"
	"hyperdriveScope/internal/storage"
)

// State is the lifecycle phase of a Runner.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateBackfilling  State = "BACKFILLING"
	StateStreaming    State = "STREAMING"
)

// HeadReader reports the chain head.
type HeadReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// StateExtractor reads pool configuration and per-block pool state.
type StateExtractor interface {
	PoolConfig(ctx context.Context, block uint64) (model.PoolConfig, error)
	PoolInfo(ctx context.Context, block uint64) (model.PoolInfo, error)
}

// TransactionExtractor decodes the pool transactions of a block.
type TransactionExtractor interface {
	Transactions(ctx context.Context, block uint64) ([]model.TransactionRecord, []model.DecodeError, error)
}

// RunConfig holds runtime settings for the acquisition loop.
type RunConfig struct {
	StartBlock    uint64
	LookbackLimit uint64
	PollInterval  time.Duration
	Transient     TransientPolicy
	MaxRetries    int
	RetryBackoff  time.Duration
	CursorName    string
	OutDir        string
}

// Deps are the collaborators of a Runner. Metrics and Logger are optional.
type Deps struct {
	Head         HeadReader
	State        StateExtractor
	Transactions TransactionExtractor
	Store        storage.Store
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Runner tails the chain and persists pool state and transactions block by block.
type Runner struct {
	cfg       RunConfig
	head      HeadReader
	state     StateExtractor
	txs       TransactionExtractor
	store     storage.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
	snapshots *storage.Snapshotter
	decodeLog *storage.JSONLWriter[model.DecodeError]
	now       func() time.Time

	mu            sync.RWMutex
	phase         State
	cursor        uint64
	exportPending bool
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CursorName == "" {
		cfg.CursorName = "acquire"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	r := &Runner{
		cfg:     cfg,
		head:    deps.Head,
		state:   deps.State,
		txs:     deps.Transactions,
		store:   deps.Store,
		metrics: deps.Metrics,
		logger:  logger,
		now:     time.Now,
		phase:   StateInitializing,
	}
	if cfg.OutDir != "" {
		r.snapshots = storage.NewSnapshotter(cfg.OutDir)
		r.decodeLog = storage.NewJSONLWriter[model.DecodeError](filepath.Join(cfg.OutDir, storage.DecodeErrorsFile))
	}
	return r
}

// State returns the current lifecycle phase.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Cursor returns the last processed block.
func (r *Runner) Cursor() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursor
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	prev := r.phase
	r.phase = s
	r.mu.Unlock()
	if prev != s {
		r.logger.Info("state change", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}

func (r *Runner) setCursor(block uint64) {
	r.mu.Lock()
	r.cursor = block
	r.mu.Unlock()
}

// Run initializes and then polls until ctx is cancelled. A cancelled context
// is a clean shutdown and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	if r.head == nil {
		return fmt.Errorf("head reader is nil")
	}
	if r.state == nil {
		return fmt.Errorf("state extractor is nil")
	}
	if r.txs == nil {
		return fmt.Errorf("transaction extractor is nil")
	}
	if r.store == nil {
		return fmt.Errorf("store is nil")
	}

	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		err := r.initialize(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("initialization failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("initialize: %w", err)
	}

	for {
		err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			err := r.tick(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Warn("tick failed", zap.Error(err), zap.Uint64("cursor", r.Cursor()))
			}
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("shutdown", zap.Uint64("cursor", r.Cursor()))
				return nil
			}
			return fmt.Errorf("tick: %w", err)
		}

		if !sleep(ctx, r.cfg.PollInterval) {
			r.logger.Info("shutdown", zap.Uint64("cursor", r.Cursor()))
			return nil
		}
	}
}

// initialize persists the pool config and positions the cursor.
func (r *Runner) initialize(ctx context.Context) error {
	r.setState(StateInitializing)

	latest, err := r.head.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	r.metrics.ChainHead(latest)

	var poolConfig model.PoolConfig
	err = r.retryTransient(ctx, "pool config", latest, func(ctx context.Context) error {
		var err error
		poolConfig, err = r.state.PoolConfig(ctx, latest)
		return err
	})
	if err != nil {
		return fmt.Errorf("pool config: %w", err)
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := r.store.SavePoolConfig(persistCtx, poolConfig); err != nil {
		return fmt.Errorf("store pool config: %w", err)
	}
	if r.snapshots != nil {
		if err := r.snapshots.WritePoolConfig(poolConfig); err != nil {
			return err
		}
	}

	cursor, ok, err := r.store.LoadCursor(ctx, r.cfg.CursorName)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	start := ResolveStart(r.cfg.StartBlock, cursor, ok, latest, r.cfg.LookbackLimit)
	if start.Resumed {
		r.logger.Info("resume from cursor", zap.Uint64("last_processed", cursor), zap.Uint64("latest", latest))
	}
	if start.Clamped {
		r.logger.Warn("start block outside lookback window, clamping",
			zap.Uint64("requested", r.cfg.StartBlock),
			zap.Uint64("start", start.Cursor),
			zap.Uint64("latest", latest),
			zap.Uint64("lookback", r.cfg.LookbackLimit),
		)
	}
	if start.Gap != nil {
		if err := r.recordGap(persistCtx, *start.Gap, latest); err != nil {
			return err
		}
	}

	if start.ProcessFirst {
		r.setState(StateBackfilling)
		if err := r.processBlock(ctx, start.Cursor); err != nil {
			return err
		}
	} else {
		r.setCursor(start.Cursor)
	}

	if err := r.exportIfPending(persistCtx); err != nil {
		return err
	}

	if r.Cursor() >= latest {
		r.setState(StateStreaming)
	} else {
		r.setState(StateBackfilling)
	}
	r.logger.Info("initialized",
		zap.String("pool", poolConfig.ContractAddress),
		zap.Uint64("cursor", r.Cursor()),
		zap.Uint64("latest", latest),
	)
	return nil
}

// tick processes every block in (cursor, latest] in ascending order.
func (r *Runner) tick(ctx context.Context) (err error) {
	started := r.now()
	result := metrics.TickOK
	defer func() {
		if err != nil {
			result = metrics.TickFailed
		}
		r.metrics.Tick(result, r.now().Sub(started))
	}()

	latest, err := r.head.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	r.metrics.ChainHead(latest)

	persistCtx := context.WithoutCancel(ctx)
	cursor := r.Cursor()
	if latest <= cursor {
		result = metrics.TickIdle
		r.setState(StateStreaming)
		return r.exportIfPending(persistCtx)
	}
	if latest-cursor > 1 {
		r.setState(StateBackfilling)
	}

	var (
		gap       *BlockRange
		processed int
	)
	// flushGap stores the pending skipped run, then moves the cursor past it.
	flushGap := func() error {
		if gap == nil {
			return nil
		}
		g := *gap
		gap = nil
		if err := r.recordGap(persistCtx, g, latest); err != nil {
			return err
		}
		if err := r.store.SaveCursor(persistCtx, r.cfg.CursorName, g.To); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
		r.setCursor(g.To)
		r.metrics.Cursor(g.To)
		return nil
	}

	for b := cursor + 1; b <= latest; b++ {
		if ctx.Err() != nil {
			if err := flushGap(); err != nil {
				return err
			}
			return ctx.Err()
		}

		if outsideLookback(b, latest, r.cfg.LookbackLimit) {
			r.logger.Warn("block outside lookback window, skipping",
				zap.Uint64("block_number", b),
				zap.Uint64("latest", latest),
				zap.Uint64("lookback", r.cfg.LookbackLimit),
			)
			if gap == nil {
				gap = &BlockRange{From: b, To: b}
			} else {
				gap.To = b
			}
			r.metrics.BlockSkipped()
			continue
		}

		if err := flushGap(); err != nil {
			return err
		}
		if err := r.processBlock(ctx, b); err != nil {
			return err
		}
		processed++
	}
	if err := flushGap(); err != nil {
		return err
	}

	if err := r.exportIfPending(persistCtx); err != nil {
		return err
	}
	r.setState(StateStreaming)
	r.logger.Info("tick complete",
		zap.Uint64("from", cursor+1),
		zap.Uint64("to", latest),
		zap.Int("processed", processed),
		zap.Duration("took", r.now().Sub(started)),
	)
	return nil
}

// processBlock extracts and persists one block, then advances the cursor.
// Writes run on a non-cancelled context so a block is never half-persisted.
func (r *Runner) processBlock(ctx context.Context, block uint64) error {
	var info model.PoolInfo
	err := r.retryTransient(ctx, "pool info", block, func(ctx context.Context) error {
		var err error
		info, err = r.state.PoolInfo(ctx, block)
		return err
	})
	if err != nil {
		return fmt.Errorf("pool info %d: %w", block, err)
	}

	var (
		records    []model.TransactionRecord
		decodeErrs []model.DecodeError
	)
	err = r.retryTransient(ctx, "transactions", block, func(ctx context.Context) error {
		var err error
		records, decodeErrs, err = r.txs.Transactions(ctx, block)
		return err
	})
	if err != nil {
		return fmt.Errorf("transactions %d: %w", block, err)
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := r.store.UpsertPoolInfo(persistCtx, []model.PoolInfo{info}); err != nil {
		return fmt.Errorf("store pool info %d: %w", block, err)
	}
	if err := r.store.AppendTransactions(persistCtx, records); err != nil {
		return fmt.Errorf("store transactions %d: %w", block, err)
	}
	r.handleDecodeErrors(decodeErrs)

	if err := r.store.SaveCursor(persistCtx, r.cfg.CursorName, block); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	r.setCursor(block)

	r.mu.Lock()
	r.exportPending = true
	r.mu.Unlock()

	r.metrics.BlockProcessed(block)
	for _, record := range records {
		r.metrics.Transaction(record.Action)
	}
	r.logger.Info("block processed",
		zap.Uint64("block_number", block),
		zap.Int("transactions", len(records)),
		zap.Int("decode_errors", len(decodeErrs)),
	)
	return nil
}

func (r *Runner) retryTransient(ctx context.Context, op string, block uint64, fn func(context.Context) error) error {
	return retryTransient(ctx, r.cfg.Transient, func(attempt int, err error) {
		r.metrics.TransientRetry()
		r.logger.Warn("transient query failure, retrying",
			zap.String("op", op),
			zap.Uint64("block_number", block),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}, fn)
}

func (r *Runner) handleDecodeErrors(errs []model.DecodeError) {
	if len(errs) == 0 {
		return
	}
	for _, de := range errs {
		r.logger.Warn("decode error",
			zap.Uint64("block_number", de.BlockNumber),
			zap.String("tx_hash", de.TxHash),
			zap.String("selector", de.Selector),
			zap.String("error", de.Error),
		)
	}
	r.metrics.DecodeErrors(len(errs))
	if r.decodeLog != nil {
		if err := r.decodeLog.Append(errs); err != nil {
			r.logger.Error("write decode errors", zap.Error(err))
		}
	}
}

func (r *Runner) recordGap(ctx context.Context, gap BlockRange, latest uint64) error {
	err := r.store.RecordGap(ctx, model.BlockGap{
		FromBlock:  gap.From,
		ToBlock:    gap.To,
		ChainHead:  latest,
		DetectedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record gap %d-%d: %w", gap.From, gap.To, err)
	}
	r.logger.Warn("block gap recorded", zap.Uint64("from", gap.From), zap.Uint64("to", gap.To), zap.Uint64("latest", latest))

	r.mu.Lock()
	r.exportPending = true
	r.mu.Unlock()
	return nil
}

func (r *Runner) exportIfPending(ctx context.Context) error {
	if r.snapshots == nil {
		return nil
	}
	r.mu.RLock()
	pending := r.exportPending
	r.mu.RUnlock()
	if !pending {
		return nil
	}
	if err := r.snapshots.Export(ctx, r.store); err != nil {
		return fmt.Errorf("export snapshots: %w", err)
	}
	r.mu.Lock()
	r.exportPending = false
	r.mu.Unlock()
	return nil
}
