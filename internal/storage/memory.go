package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"storegate/internal/models"
)

// maxMemoryEvents bounds the in-memory event log; the oldest events are
// dropped once the cap is reached.
const maxMemoryEvents = 10000

// MemoryStore is an in-memory Store used for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*models.AuditEvent
	blocks map[string]models.BlockInfo
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[string]models.BlockInfo),
	}
}

// RecordEvent appends one audit event, dropping the oldest entry when full.
func (ms *MemoryStore) RecordEvent(_ context.Context, event *models.AuditEvent) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if len(ms.events) >= maxMemoryEvents {
		ms.events = ms.events[1:]
	}
	copied := *event
	ms.events = append(ms.events, &copied)
	return nil
}

// Events returns events created at or after since, newest first.
func (ms *MemoryStore) Events(_ context.Context, since time.Time, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*models.AuditEvent
	for _, ev := range ms.events {
		if !ev.CreatedAt.Before(since) {
			copied := *ev
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveBlock stores or updates a block record by IP.
func (ms *MemoryStore) SaveBlock(_ context.Context, block models.BlockInfo) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.blocks[block.IP] = block
	return nil
}

// DeleteBlock removes the block record for ip.
func (ms *MemoryStore) DeleteBlock(_ context.Context, ip string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.blocks, ip)
	return nil
}

// Blocks returns all persisted block records.
func (ms *MemoryStore) Blocks(_ context.Context) ([]models.BlockInfo, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]models.BlockInfo, 0, len(ms.blocks))
	for _, b := range ms.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

// Ping always succeeds for the in-memory store.
func (ms *MemoryStore) Ping(context.Context) error { return nil }

// Close marks the store closed.
func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	return nil
}
