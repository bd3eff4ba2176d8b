package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/looper/internal/replica"
	"github.com/hyperengineering/looper/internal/snapshot"
)

// SnapshotSource produces detached copies of the replica.
// Implemented by replica.Replica.
type SnapshotSource interface {
	Snapshot(now time.Time) replica.Snapshot
}

// SnapshotCoordinator periodically writes the replica to a local JSON file
// and uploads it.
type SnapshotCoordinator struct {
	source   SnapshotSource
	uploader snapshot.Uploader
	clientID string
	dir      string
	interval time.Duration
}

// NewSnapshotCoordinator creates a coordinator writing into dir.
// The uploader parameter is optional; if nil, no S3 upload is attempted.
func NewSnapshotCoordinator(
	source SnapshotSource,
	clientID string,
	dir string,
	interval time.Duration,
	uploader snapshot.Uploader,
) *SnapshotCoordinator {
	return &SnapshotCoordinator{
		source:   source,
		uploader: uploader,
		clientID: clientID,
		dir:      dir,
		interval: interval,
	}
}

// Run starts the coordinator loop. A snapshot is taken immediately, then
// on each interval.
func (c *SnapshotCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce writes one snapshot and uploads it. It returns the local path and
// the object key, which is empty when nothing was uploaded. Upload failures
// are logged as warnings and are not returned; the local file remains valid.
func (c *SnapshotCoordinator) RunOnce(ctx context.Context) (path, key string, err error) {
	start := time.Now()
	path, err = c.write(start)
	if err != nil {
		slog.Warn("snapshot write failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_failed",
			"error", err,
		)
		return "", "", err
	}

	if c.uploader != nil {
		key = c.upload(ctx, path)
	}

	slog.Debug("snapshot written",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "snapshot_written",
		"path", path,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return path, key, nil
}

// write serializes the replica to <dir>/<clientID>.json via a temp file and
// rename, so readers never observe a partial snapshot.
func (c *SnapshotCoordinator) write(now time.Time) (string, error) {
	data, err := json.MarshalIndent(c.source.Snapshot(now), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".snapshot-*.json")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp snapshot: %w", err)
	}

	path := filepath.Join(c.dir, c.clientID+".json")
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename snapshot: %w", err)
	}
	return path, nil
}

func (c *SnapshotCoordinator) upload(ctx context.Context, path string) string {
	key, err := c.uploader.Upload(ctx, c.clientID, path)
	if err != nil {
		if ctx.Err() != nil {
			return ""
		}
		slog.Warn("snapshot upload to S3 failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_upload_failed",
			"client_id", c.clientID,
			"error", err,
		)
		return ""
	}
	if key != "" {
		slog.Info("snapshot uploaded to S3",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_uploaded",
			"client_id", c.clientID,
			"key", key,
		)
	}
	return key
}
