package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storegate/internal/models"
	"storegate/internal/storage"
	"storegate/internal/version"
)

func setupTestProvider(t *testing.T) *Provider {
	t.Helper()
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}
	obs := models.ObservabilityConfig{
		ServiceName: "test",
		Tracing: models.TracingConfig{
			Enabled:    true,
			Exporter:   "stdout",
			SampleRate: 1.0,
		},
	}
	provider, err := Setup(metrics, obs, version.Info{Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { provider.Shutdown(context.Background()) })
	return provider
}

func TestSetup(t *testing.T) {
	provider := setupTestProvider(t)
	assert.NotNil(t, provider.PrometheusExporter())
}

func TestSetup_MetricsDisabled(t *testing.T) {
	provider, err := Setup(models.MetricsConfig{Enabled: false}, models.ObservabilityConfig{ServiceName: "test"}, version.Info{})
	require.NoError(t, err)
	t.Cleanup(func() { provider.Shutdown(context.Background()) })

	assert.Nil(t, provider.PrometheusExporter())
}

func TestSetup_UnsupportedExporter(t *testing.T) {
	obs := models.ObservabilityConfig{
		ServiceName: "test",
		Tracing:     models.TracingConfig{Enabled: true, Exporter: "jaeger"},
	}
	_, err := Setup(models.MetricsConfig{}, obs, version.Info{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestInstrumentedStore_PassThrough(t *testing.T) {
	_ = setupTestProvider(t)
	inner := storage.NewMemoryStore()

	instrumented, err := NewInstrumentedStore(inner)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, instrumented.Ping(ctx))

	event := &models.AuditEvent{
		ID:        "ev-1",
		Type:      models.EventRateLimited,
		IP:        "10.0.0.1",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, instrumented.RecordEvent(ctx, event))

	events, err := instrumented.Events(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-1", events[0].ID)

	block := models.BlockInfo{IP: "10.0.0.1", Reason: "suspicious_activity", BlockedUntil: time.Now().Add(time.Hour)}
	require.NoError(t, instrumented.SaveBlock(ctx, block))

	blocks, err := instrumented.Blocks(ctx)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	require.NoError(t, instrumented.DeleteBlock(ctx, "10.0.0.1"))
	require.NoError(t, instrumented.Close())
}

func TestAdmissionRecorder(t *testing.T) {
	_ = setupTestProvider(t)

	recorder, err := NewAdmissionRecorder()
	require.NoError(t, err)

	// Counters must accept records without error or panic.
	recorder.Admitted("public")
	recorder.Rejected("api", "rate_limited")
	recorder.FailOpen("public")
}

func TestMetricsServer_Shutdown(t *testing.T) {
	provider := setupTestProvider(t)
	server := NewMetricsServer(0, "/metrics", provider)

	done := make(chan error, 1)
	go func() { done <- server.Start() }()

	require.NoError(t, server.Shutdown(context.Background()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
