package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"hyperdriveScope/internal/config"
	"hyperdriveScope/internal/storage"
	"hyperdriveScope/internal/storage/postgres"
	"hyperdriveScope/internal/storage/sqlite"
)

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (storage.Store, error) {
	if cfg.UsePostgres() {
		store, err := postgres.NewStore(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		logger.Info("store ready", zap.String("backend", "postgres"), zap.Int32("max_conns", cfg.PGMaxConns))
		return store, nil
	}

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	store, err := sqlite.NewStore(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	logger.Info("store ready", zap.String("backend", "sqlite"), zap.String("path", cfg.SQLitePath))
	return store, nil
}
