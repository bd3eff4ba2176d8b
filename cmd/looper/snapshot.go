package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/looper/internal/replica"
	"github.com/hyperengineering/looper/internal/snapshot"
	"github.com/hyperengineering/looper/internal/worker"
	"github.com/spf13/cobra"
)

var snapshotPresign bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write and upload one replica snapshot now",
	Long: "Fetches the server state, writes it to the snapshot directory and, when " +
		"snapshot storage is configured, uploads it.",
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().BoolVar(&snapshotPresign, "url", false,
		"Print a pre-signed download URL for the uploaded snapshot")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := newClient(cfg)
	if err != nil {
		return err
	}
	r := replica.New()
	if err := bootstrap(ctx, cl, r); err != nil {
		return err
	}

	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		return err
	}
	coord := worker.NewSnapshotCoordinator(r, cl.ClientID(), cfg.Worker.SnapshotDir, time.Hour, uploader)
	path, key, err := coord.RunOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Snapshot written: %s\n", path)
	if key == "" {
		fmt.Fprintln(out, "Not uploaded.")
		return nil
	}
	fmt.Fprintf(out, "Uploaded: %s\n", key)

	if snapshotPresign {
		url, expiry, err := uploader.PresignedURL(ctx, key)
		if err != nil {
			if errors.Is(err, snapshot.ErrNotConfigured) {
				return nil
			}
			return fmt.Errorf("presign snapshot: %w", err)
		}
		fmt.Fprintf(out, "URL (expires %s): %s\n", expiry.Format(time.RFC3339), url)
	}
	return nil
}
