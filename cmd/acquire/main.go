package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"hyperdriveScope/internal/acquire"
	"hyperdriveScope/internal/chain"
	"hyperdriveScope/internal/config"
	"hyperdriveScope/internal/hyperdrive"
	"hyperdriveScope/internal/metrics"
)

func main() {
	root := &cobra.Command{
		Use:          "acquire",
		Short:        "Hyperdrive pool data acquisition",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Tail the chain and persist pool state and transactions",
		RunE:  runAcquire,
	}

	runCmd.Flags().String("rpc", "http://localhost:8545", "Ethereum RPC URL")
	runCmd.Flags().String("contracts-url", "http://localhost:80/addresses.json", "deploy server URL serving contract addresses")
	runCmd.Flags().String("hyperdrive-address", "", "Hyperdrive contract address (skips contract discovery)")
	runCmd.Flags().String("state-abi", "", "ABI file for pool state calls (default: embedded IHyperdrive ABI)")
	runCmd.Flags().String("transactions-abi", "", "ABI file for transaction decoding (default: embedded IHyperdrive ABI)")
	runCmd.Flags().String("out-dir", "./data", "snapshot output directory")
	runCmd.Flags().Uint64("start-block", 6, "first block to acquire")
	runCmd.Flags().Uint64("lookback-block-limit", 1000, "maximum distance behind the chain head to process")
	runCmd.Flags().Duration("poll-interval", time.Second, "sleep between polls")
	runCmd.Flags().Duration("transient-backoff", 100*time.Millisecond, "fixed backoff between transient query retries")
	runCmd.Flags().Int("transient-max-attempts", 50, "maximum attempts for a transient query")
	runCmd.Flags().Duration("transient-max-duration", 2*time.Minute, "maximum time spent retrying a transient query")
	runCmd.Flags().Int("max-retries", 5, "maximum consecutive retries of a failed tick")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial tick retry backoff")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN (takes precedence over sqlite-path)")
	runCmd.Flags().Int32("pg-max-conns", 4, "Postgres pool size")
	runCmd.Flags().String("sqlite-path", "./data/acquire.sqlite", "SQLite database path")
	runCmd.Flags().String("cursor-name", "acquire", "name of the persisted cursor")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Re-export JSON snapshots from the durable store",
		RunE:  runExport,
	}

	exportCmd.Flags().String("out-dir", "./data", "snapshot output directory")
	exportCmd.Flags().String("pg-dsn", "", "Postgres DSN (takes precedence over sqlite-path)")
	exportCmd.Flags().Int32("pg-max-conns", 4, "Postgres pool size")
	exportCmd.Flags().String("sqlite-path", "./data/acquire.sqlite", "SQLite database path")
	exportCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(exportCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAcquire(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	poolAddress, err := resolvePoolAddress(ctx, cfg, logger)
	if err != nil {
		return err
	}

	stateABI, err := hyperdrive.LoadABI(cfg.StateABI)
	if err != nil {
		return fmt.Errorf("load state abi: %w", err)
	}
	txABI, err := hyperdrive.LoadABI(cfg.TransactionsABI)
	if err != nil {
		return fmt.Errorf("load transactions abi: %w", err)
	}

	stateExtractor, err := hyperdrive.NewStateExtractor(chainClient, stateABI, poolAddress)
	if err != nil {
		return err
	}
	txExtractor, err := hyperdrive.NewTransactionExtractor(chainClient, txABI, poolAddress, chainID, logger)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	runner := acquire.NewRunner(acquire.RunConfig{
		StartBlock:    cfg.StartBlock,
		LookbackLimit: cfg.LookbackBlockLimit,
		PollInterval:  cfg.PollInterval,
		Transient: acquire.TransientPolicy{
			Backoff:     cfg.TransientBackoff,
			MaxAttempts: cfg.TransientMaxAttempts,
			MaxDuration: cfg.TransientMaxDuration,
		},
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		CursorName:   cfg.CursorName,
		OutDir:       cfg.OutDir,
	}, acquire.Deps{
		Head:         chainClient,
		State:        stateExtractor,
		Transactions: txExtractor,
		Store:        store,
		Metrics:      m,
		Logger:       logger,
	})

	logger.Info("acquire start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("pool", poolAddress.Hex()),
		zap.Uint64("start_block", cfg.StartBlock),
		zap.Uint64("lookback_block_limit", cfg.LookbackBlockLimit),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.String("out_dir", cfg.OutDir),
		zap.Bool("postgres", cfg.Store.UsePostgres()),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return m.Serve(gctx, cfg.MetricsAddr, logger)
		})
	}
	return g.Wait()
}

func resolvePoolAddress(ctx context.Context, cfg config.Config, logger *zap.Logger) (common.Address, error) {
	if cfg.HyperdriveAddress != "" {
		if !common.IsHexAddress(cfg.HyperdriveAddress) {
			return common.Address{}, fmt.Errorf("invalid hyperdrive address %q", cfg.HyperdriveAddress)
		}
		return common.HexToAddress(cfg.HyperdriveAddress), nil
	}

	fetcher := &chain.AddressFetcher{URL: cfg.ContractsURL, Logger: logger}
	addrs, err := fetcher.Fetch(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("discover contracts: %w", err)
	}
	logger.Info("contracts discovered",
		zap.String("hyperdrive", addrs.Hyperdrive.Hex()),
		zap.String("base_token", addrs.BaseToken.Hex()),
	)
	return addrs.Hyperdrive, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
