package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// SQLiteLog is the SQLite-backed update log. It survives restarts, so the
// server can rebuild its state by replaying it.
type SQLiteLog struct {
	db *sql.DB

	// appends are serialized so ids stay dense.
	mu sync.Mutex
}

// NewSQLiteLog opens the database at dbPath, applying pragmas and running
// migrations.
func NewSQLiteLog(dbPath string) (*SQLiteLog, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteLog{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Append implements UpdateLog.
func (l *SQLiteLog) Append(ctx context.Context, action loopsync.Action, clientID string) (int64, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return 0, fmt.Errorf("encode action: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var id int64
	err = l.db.QueryRowContext(ctx, `
		INSERT INTO update_log (id, action, client_id, created_at)
		VALUES ((SELECT COALESCE(MAX(id) + 1, 0) FROM update_log), ?, ?, ?)
		RETURNING id
	`, string(payload), nullableString(clientID), time.Now().UTC().Format(time.RFC3339Nano)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append update: %w", err)
	}
	return id, nil
}

// Since implements UpdateLog.
func (l *SQLiteLog) Since(ctx context.Context, since int64) ([]loopsync.Update, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, action FROM update_log
		WHERE id >= ?
		ORDER BY id ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query update log: %w", err)
	}
	defer rows.Close()

	updates := make([]loopsync.Update, 0)
	for rows.Next() {
		var u loopsync.Update
		var payload string
		if err := rows.Scan(&u.ID, &payload); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &u.Action); err != nil {
			slog.Warn("update_log: undecodable action",
				"component", "store",
				"update_id", u.ID,
				"error", err,
			)
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// NextID implements UpdateLog.
func (l *SQLiteLog) NextID(ctx context.Context) (int64, error) {
	var next int64
	err := l.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM update_log`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next update id: %w", err)
	}
	return next, nil
}

// Close closes the database connection.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
