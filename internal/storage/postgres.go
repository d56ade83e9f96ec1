package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"storegate/internal/models"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	ip TEXT NOT NULL,
	rate_key TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events (created_at);

CREATE TABLE IF NOT EXISTS ip_blocks (
	ip TEXT PRIMARY KEY,
	reason TEXT NOT NULL,
	blocked_until TIMESTAMPTZ NOT NULL,
	violation_count INTEGER NOT NULL DEFAULT 0
);
`

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL store, verifying the connection and
// ensuring the schema exists.
func NewPostgresStore(ctx context.Context, cfg models.DatabaseConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// RecordEvent appends one audit event.
func (ps *PostgresStore) RecordEvent(ctx context.Context, event *models.AuditEvent) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO audit_events (id, event_type, ip, rate_key, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.Type, event.IP, event.Key, event.Detail, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Events returns events created at or after since, newest first.
func (ps *PostgresStore) Events(ctx context.Context, since time.Time, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}

	rows, err := ps.pool.Query(ctx,
		`SELECT id, event_type, ip, rate_key, detail, created_at
		 FROM audit_events
		 WHERE created_at >= $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		since, limit,
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
func (ps *PostgresStore) SaveBlock(ctx context.Context, block models.BlockInfo) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO ip_blocks (ip, reason, blocked_until, violation_count)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (ip) DO UPDATE SET
			reason = EXCLUDED.reason,
			blocked_until = EXCLUDED.blocked_until,
			violation_count = EXCLUDED.violation_count`,
		block.IP, block.Reason, block.BlockedUntil, block.ViolationCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

// DeleteBlock removes the block record for ip.
func (ps *PostgresStore) DeleteBlock(ctx context.Context, ip string) error {
	if _, err := ps.pool.Exec(ctx, `DELETE FROM ip_blocks WHERE ip = $1`, ip); err != nil {
		return fmt.Errorf("failed to delete block for %s: %w", ip, err)
	}
	return nil
}

// Blocks returns all persisted block records.
func (ps *PostgresStore) Blocks(ctx context.Context) ([]models.BlockInfo, error) {
	rows, err := ps.pool.Query(ctx,
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

// Ping verifies the pool connection.
func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	return nil
}
