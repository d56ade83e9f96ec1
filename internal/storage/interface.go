// Package storage persists the admission layer's audit trail: rejection and
// block events, plus block records that survive a restart. It provides a
// clean abstraction implemented by memory, PostgreSQL and SQLite backends.
//
// The store connection is the gateway's one shared external dependency;
// every connect attempt goes through the circuit breaker (see Connect), and
// callers never dial the backend directly.
package storage

import (
	"context"
	"time"

	"storegate/internal/models"
)

// Store defines the audit persistence contract.
type Store interface {
	// RecordEvent appends one audit event.
	RecordEvent(ctx context.Context, event *models.AuditEvent) error

	// Events returns events created at or after since, newest first,
	// capped at limit (0 means a backend-chosen default).
	Events(ctx context.Context, since time.Time, limit int) ([]*models.AuditEvent, error)

	// SaveBlock stores or updates a block record (upsert by IP).
	SaveBlock(ctx context.Context, block models.BlockInfo) error

	// DeleteBlock removes the block record for ip, if any.
	DeleteBlock(ctx context.Context, ip string) error

	// Blocks returns all persisted block records.
	Blocks(ctx context.Context) ([]models.BlockInfo, error)

	// Ping verifies the backend connection.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources.
	Close() error
}

// defaultEventLimit caps Events queries when the caller passes 0.
const defaultEventLimit = 500
