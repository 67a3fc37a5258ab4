package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/confsync/internal/config"
	"github.com/alexjbarnes/confsync/internal/confstore"
	"github.com/alexjbarnes/confsync/internal/dumpstore"
	"github.com/alexjbarnes/confsync/internal/engine"
	"github.com/alexjbarnes/confsync/internal/logging"
	"github.com/alexjbarnes/confsync/internal/store"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("confsync starting",
		slog.String("version", Version),
		slog.String("device", cfg.DeviceName),
		slog.String("db", cfg.DBPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	presets, err := cfg.LoadPresets()
	if err != nil {
		return fmt.Errorf("loading duration presets: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	masterKey, err := cfg.DumpMasterKey()
	if err != nil {
		return err
	}

	dumps, err := dumpstore.Open(cfg.DumpDBPath, masterKey)
	if err != nil {
		return fmt.Errorf("opening dump store: %w", err)
	}
	defer dumps.Close()

	registry := confstore.NewRegistry(logger)
	defer registry.Close()

	eng := engine.New(registry, st, dumps, nil, nil, presets, cfg.OwnerID, logger)

	if err := eng.RestoreDumps(); err != nil {
		return err
	}

	logger.Info("config handles ready", slog.Int("handles", len(registry.Registered())))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runFlusher(gctx, eng, cfg.DumpFlushInterval, logger)
	})

	err = g.Wait()

	// One last flush so nothing accepted before shutdown is lost.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eng.FlushDumps(flushCtx)

	return err
}

// runFlusher persists diverged handles on a fixed interval until the
// context is cancelled.
func runFlusher(ctx context.Context, eng *engine.Engine, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("dump flusher running", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			eng.FlushDumps(ctx)
		}
	}
}
