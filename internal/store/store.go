// Package store persists the server's update log: the numbered sequence of
// deltas that clients long-poll.
package store

import (
	"context"

	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// UpdateLog is an append-only sequence of updates. Ids start at 0 and
// increase by one per append.
type UpdateLog interface {
	// Append records action and returns its id.
	Append(ctx context.Context, action loopsync.Action, clientID string) (int64, error)

	// Since returns every update with id >= since, in id order.
	Since(ctx context.Context, since int64) ([]loopsync.Update, error)

	// NextID returns the id the next append will get.
	NextID(ctx context.Context) (int64, error)

	Close() error
}
