package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hyperdriveScope/internal/config"
	"hyperdriveScope/internal/storage"
)

func runExport(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadExport(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	snapshots := storage.NewSnapshotter(cfg.OutDir)
	if err := snapshots.ExportAll(ctx, store); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	logger.Info("export complete", zap.String("out_dir", cfg.OutDir))
	return nil
}
