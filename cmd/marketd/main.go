package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"fsanano/marketplace/internal/config"
	"fsanano/marketplace/internal/handler"
	"fsanano/marketplace/internal/repository"
	"fsanano/marketplace/internal/server"
	"fsanano/marketplace/internal/service"
	"fsanano/marketplace/internal/session"
	"fsanano/marketplace/internal/sidecar"
)

func main() {
	if err := run(); err != nil {
		slog.Error("marketd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.BindFlags(pflag.CommandLine)
	pflag.Parse()
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Setup storage
	opts := repository.Options{Compression: cfg.BlobCompression}
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			return err
		}
		ledger := repository.NewPostgresLedger(dbPool)
		if err := ledger.Migrate(ctx); err != nil {
			return err
		}
		opts.Ledger = ledger
		logger.Info("connected to database, ledger in postgres")
	}

	store, err := repository.Open(cfg.DataDir, opts)
	if err != nil {
		return err
	}

	// 3. Setup logic
	svc := service.NewMarketService(store, service.WithStartingBalance(cfg.StartingBalance))
	acceptor := server.New(server.Config{
		SessionAddr: cfg.SessionAddr,
		SidecarAddr: cfg.SidecarAddr,
	}, session.NewEngine(svc, logger), sidecar.NewServer(store.Blobs, logger), logger)

	// 4. Bind both ports; either failing ends the process
	if err := acceptor.Listen(); err != nil {
		return err
	}

	// 5. Run until interrupted, then drain
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return acceptor.Serve(gctx)
	})

	if cfg.HTTPAddr != "" {
		opsServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: handler.NewHandler(acceptor),
		}
		g.Go(func() error {
			logger.Info("starting operations endpoint", "addr", cfg.HTTPAddr)
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("operations endpoint failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("operations endpoint forced to shutdown", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("server exiting")
	return err
}
