package store

import (
	"context"
	"sync"

	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// MemoryLog keeps the update log in memory. It is lost on restart.
type MemoryLog struct {
	mu      sync.RWMutex
	updates []loopsync.Update
	closed  bool
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements UpdateLog.
func (l *MemoryLog) Append(ctx context.Context, action loopsync.Action, clientID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	id := int64(len(l.updates))
	l.updates = append(l.updates, loopsync.Update{ID: id, Action: action})
	return id, nil
}

// Since implements UpdateLog.
func (l *MemoryLog) Since(ctx context.Context, since int64) ([]loopsync.Update, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	if since < 0 {
		since = 0
	}
	if since >= int64(len(l.updates)) {
		return []loopsync.Update{}, nil
	}
	out := make([]loopsync.Update, len(l.updates)-int(since))
	copy(out, l.updates[since:])
	return out, nil
}

// NextID implements UpdateLog.
func (l *MemoryLog) NextID(ctx context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.updates)), nil
}

// Close implements UpdateLog.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
