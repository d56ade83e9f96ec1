package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storegate/internal/breaker"
	"storegate/internal/models"
)

func TestFactory_CreateMemory(t *testing.T) {
	store, err := NewFactory().Create(context.Background(), models.StorageConfig{Type: models.StorageTypeMemory})
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, ok := store.(*MemoryStore)
	assert.True(t, ok)
}

func TestFactory_CreateUnsupported(t *testing.T) {
	_, err := NewFactory().Create(context.Background(), models.StorageConfig{Type: "cassandra"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage type")
}

func TestConnect_Succeeds(t *testing.T) {
	br := breaker.New("audit-store")

	store, err := Connect(context.Background(), models.StorageConfig{Type: models.StorageTypeMemory}, br)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	assert.Equal(t, breaker.StateClosed, br.State())
	assert.Equal(t, 0, br.Snapshot().FailureCount)
}

func TestConnect_FailuresOpenBreaker(t *testing.T) {
	br := breaker.New("audit-store", breaker.WithFailureThreshold(2), breaker.WithResetTimeout(time.Minute))
	cfg := models.StorageConfig{Type: "bogus"}

	_, err := Connect(context.Background(), cfg, br)
	require.Error(t, err)
	assert.Equal(t, breaker.StateClosed, br.State())

	_, err = Connect(context.Background(), cfg, br)
	require.Error(t, err)
	assert.Equal(t, breaker.StateOpen, br.State(), "repeated connect failures open the breaker")

	// While open, the attempt is rejected before touching the factory.
	_, err = Connect(context.Background(), models.StorageConfig{Type: models.StorageTypeMemory}, br)
	require.Error(t, err)
	assert.ErrorIs(t, err, breaker.ErrOpen)
}
