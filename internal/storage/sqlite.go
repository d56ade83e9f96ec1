package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"storegate/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	ip TEXT NOT NULL,
	rate_key TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events (created_at);

CREATE TABLE IF NOT EXISTS ip_blocks (
	ip TEXT PRIMARY KEY,
	reason TEXT NOT NULL,
	blocked_until TIMESTAMP NOT NULL,
	violation_count INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore implements the Store interface using SQLite via the pure-Go
// modernc driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite database and ensures
// the schema exists.
func NewSQLiteStore(ctx context.Context, cfg models.DatabaseConfig) (*SQLiteStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database path is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles one writer at a time; a small pool avoids lock
	// contention errors.
	db.SetMaxOpenConns(1)
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// RecordEvent appends one audit event.
func (ss *SQLiteStore) RecordEvent(ctx context.Context, event *models.AuditEvent) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, event_type, ip, rate_key, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, event.IP, event.Key, event.Detail, event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Events returns events created at or after since, newest first.
func (ss *SQLiteStore) Events(ctx context.Context, since time.Time, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}

	rows, err := ss.db.QueryContext(ctx,
		`SELECT id, event_type, ip, rate_key, detail, created_at
		 FROM audit_events
		 WHERE created_at >= ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		since.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.IP, &ev.Key, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// SaveBlock stores or updates a block record (upsert by IP).
func (ss *SQLiteStore) SaveBlock(ctx context.Context, block models.BlockInfo) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO ip_blocks (ip, reason, blocked_until, violation_count)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (ip) DO UPDATE SET
			reason = excluded.reason,
			blocked_until = excluded.blocked_until,
			violation_count = excluded.violation_count`,
		block.IP, block.Reason, block.BlockedUntil.UTC(), block.ViolationCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

// DeleteBlock removes the block record for ip.
func (ss *SQLiteStore) DeleteBlock(ctx context.Context, ip string) error {
	if _, err := ss.db.ExecContext(ctx, `DELETE FROM ip_blocks WHERE ip = ?`, ip); err != nil {
		return fmt.Errorf("failed to delete block for %s: %w", ip, err)
	}
	return nil
}

// Blocks returns all persisted block records.
func (ss *SQLiteStore) Blocks(ctx context.Context) ([]models.BlockInfo, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT ip, reason, blocked_until, violation_count FROM ip_blocks ORDER BY ip`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.BlockInfo
	for rows.Next() {
		var b models.BlockInfo
		if err := rows.Scan(&b.IP, &b.Reason, &b.BlockedUntil, &b.ViolationCount); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blocks: %w", err)
	}
	return blocks, nil
}

// Ping verifies the database connection.
func (ss *SQLiteStore) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the database.
func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}
