package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/looper/internal/api"
	"github.com/hyperengineering/looper/internal/store"
	"github.com/hyperengineering/looper/internal/studio"
	"github.com/hyperengineering/looper/internal/worker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference looper server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration and initialize logger
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 3. Initialize update log (migrations, WAL mode for sqlite)
	log, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "driver", cfg.Database.Driver, "path", cfg.Database.Path)

	// 4. Rebuild studio state from the log
	feed := store.NewFeed(log)
	st := studio.New(feed, studio.Options{
		LoopLength: cfg.Server.LoopLength,
		Beats:      cfg.Server.Beats,
	})
	history, err := log.Since(ctx, 0)
	if err != nil {
		log.Close()
		return fmt.Errorf("read update log: %w", err)
	}
	replayed := st.Restore(history)
	slog.Info("studio restored", "updates", replayed)

	// 5. Initialize HTTP router
	handler := api.NewHandler(st, feed, api.Config{
		APIKey:     cfg.Auth.APIKey,
		CORSOrigin: cfg.Server.CORSOrigin,
		Version:    Version,
	})
	router := api.NewRouter(handler)
	slog.Info("router initialized", "auth", cfg.Auth.APIKey != "")

	// 6. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 7. Workers
	var wg sync.WaitGroup
	if interval := time.Duration(cfg.Server.TimestampInterval); interval > 0 {
		startWorker(ctx, &wg, "timestamp", worker.NewTimestampWorker(st, interval).Run)
	}

	// 8. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 9. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 9a. Stop HTTP server (drains in-flight requests, long polls included)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 9b. Wait for workers to complete
	wg.Wait()

	// 9c. Close store
	if err := log.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
