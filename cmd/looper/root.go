package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/looper/internal/client"
	"github.com/hyperengineering/looper/internal/config"
	"github.com/hyperengineering/looper/internal/model"
	"github.com/hyperengineering/looper/internal/poller"
	"github.com/hyperengineering/looper/internal/replica"
	"github.com/hyperengineering/looper/internal/snapshot"
	"github.com/hyperengineering/looper/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "looper",
	Short: "Looper - replica client for a multi-synth live looper",
	Long: "Runs a replica of the looper server state: polls updates, keeps the " +
		"transport clock and writes periodic snapshots.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(createCmd, muteCmd, echoCmd, finishCmd, restartCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration and initialize logger
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 3. Connect and build the replica from a full fetch
	cl, err := newClient(cfg)
	if err != nil {
		return err
	}
	r := replica.New()
	if err := bootstrap(ctx, cl, r); err != nil {
		return err
	}

	// 4. The poller keeps the replica current
	p := poller.New(cl, r, poller.Config{
		Window:     time.Duration(cfg.Poll.Window),
		RetryDelay: time.Duration(cfg.Poll.RetryDelay),
	})
	slog.Info("replica initialized", "client_id", cl.ClientID(), "server_url", cfg.Client.ServerURL)

	// 5. Workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "poller", func(ctx context.Context) {
		_ = p.Run(ctx)
	})
	clock := worker.NewTransportClock(r, time.Duration(cfg.Worker.ClockInterval), loopWatcher())
	startWorker(ctx, &wg, "transport-clock", clock.Run)

	if interval := time.Duration(cfg.Worker.SnapshotInterval); interval > 0 {
		uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
		if err != nil {
			return err
		}
		coord := worker.NewSnapshotCoordinator(r, cl.ClientID(), cfg.Worker.SnapshotDir, interval, uploader)
		startWorker(ctx, &wg, "snapshot-coordinator", coord.Run)
	}

	// 6. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 7. Wait for workers
	wg.Wait()

	slog.Info("shutdown complete", "cursor", r.Cursor())
	return nil
}

// loadConfig loads configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("configuration loaded", "level", cfg.Log.Level)
	return cfg, nil
}

func newClient(cfg *config.Config) (*client.Client, error) {
	return client.New(cfg.Client.ServerURL, client.Options{
		APIKey:   cfg.Auth.APIKey,
		ClientID: cfg.Client.ClientID,
		Timeout:  time.Duration(cfg.Client.RequestTimeout),
	})
}

// bootstrap loads the full tree and song into r. The cursor starts at 0 so
// the first poll replays the whole log over the fetched state.
func bootstrap(ctx context.Context, cl *client.Client, r *replica.Replica) error {
	synths, err := cl.FetchSynths(ctx)
	if err != nil {
		return fmt.Errorf("fetch synths: %w", err)
	}
	song, err := cl.FetchSong(ctx)
	if err != nil {
		return fmt.Errorf("fetch song: %w", err)
	}
	if err := r.Load(synths, song, time.Now()); err != nil {
		return err
	}
	slog.Info("replica loaded", "synths", len(synths), "loop_length", song.LoopLength)
	return nil
}

// loopWatcher returns a TickFunc logging each time the loop wraps around.
func loopWatcher() worker.TickFunc {
	last := 0.0
	loops := 0
	return func(pos float64, song model.Song) {
		if pos < last {
			loops++
			slog.Debug("loop wrapped",
				"component", "clock",
				"loops", loops,
				"loop_length", song.LoopLength,
			)
		}
		last = pos
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
