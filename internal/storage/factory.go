package storage

import (
	"context"
	"fmt"

	"storegate/internal/breaker"
	"storegate/internal/models"
)

// Factory provides a centralized way to create storage instances based on
// configuration, so backends can be swapped without code changes.
type Factory struct{}

// NewFactory creates a new storage factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage backend based on the provided configuration.
// Supported backends:
//   - memory: In-memory storage (for testing/development)
//   - postgres: PostgreSQL database storage (production-ready)
//   - sqlite: SQLite database storage (lightweight single-node deployments)
func (f *Factory) Create(ctx context.Context, cfg models.StorageConfig) (Store, error) {
	switch cfg.Type {
	case models.StorageTypeMemory:
		return NewMemoryStore(), nil
	case models.StorageTypePostgres:
		return NewPostgresStore(ctx, cfg.Database)
	case models.StorageTypeSQLite:
		return NewSQLiteStore(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// Connect creates the store through the circuit breaker. Connect failures
// count toward the breaker's failure threshold; while the breaker is open,
// the attempt is rejected immediately with breaker.ErrOpen and the backend
// is left alone to recover.
func Connect(ctx context.Context, cfg models.StorageConfig, br *breaker.Breaker) (Store, error) {
	var store Store
	err := br.Execute(ctx, func(ctx context.Context) error {
		s, err := NewFactory().Create(ctx, cfg)
		if err != nil {
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}
