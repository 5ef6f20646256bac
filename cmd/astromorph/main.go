package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"astromorph/internal/cli"
	"astromorph/internal/config"
	"astromorph/internal/logging"
	"astromorph/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}

	// Run history is optional; the result table is written either way.
	var store *storage.Store
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.DatabasePath), 0o755); err != nil {
		logger.Warn("run history disabled", "path", cfg.Paths.DatabasePath, "error", err)
	} else if store, err = storage.New(cfg.Paths.DatabasePath); err != nil {
		logger.Warn("run history disabled", "path", cfg.Paths.DatabasePath, "error", err)
		store = nil
	}
	defer store.Close()

	root, err := cli.NewRoot(cfg, logger, store)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cli.NewRootCmd(root).ExecuteContext(ctx)
	stop()
	if err != nil {
		store.Close()
		os.Exit(1)
	}
}
