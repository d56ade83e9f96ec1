package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storegate/internal/breaker"
	"storegate/internal/models"
	"storegate/internal/ratelimit"
	"storegate/internal/storage"
	"storegate/internal/version"
)

// failingStore wraps a working store but fails Ping, for degraded-health
// tests.
type failingStore struct {
	storage.Store
}

func (f *failingStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

// downStore wraps a working store but fails reads, for backend-outage
// tests.
type downStore struct {
	storage.Store
}

func (d *downStore) Events(context.Context, time.Time, int) ([]*models.AuditEvent, error) {
	return nil, errors.New("connection refused")
}

func testConfig() *models.Config {
	cfg := models.NewDefaultConfig()
	cfg.Security.APIKeys = []models.APIKey{
		{Key: "admin-key", Name: "ops", Role: "admin", Enabled: true},
		{Key: "shop-key", Name: "storefront", Enabled: true},
	}
	return cfg
}

type testEnv struct {
	store   *storage.MemoryStore
	limiter *ratelimit.SlidingWindow
	breaker *breaker.Breaker
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	limiter := ratelimit.NewSlidingWindow(ratelimit.Config{})
	t.Cleanup(limiter.Close)

	br := breaker.New("audit-store")
	handlers := NewHandlers(store, limiter, br, version.Info{Version: "test"})
	router := SetupRoutes(handlers, testConfig())

	return &testEnv{store: store, limiter: limiter, breaker: br, router: router}
}

func (e *testEnv) request(method, path, apiKey string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if apiKey != "" {
		r.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func TestHealthCheck_Healthy(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusHealthy, resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, models.StatusHealthy, resp.Components["storage"].Status)
	assert.Equal(t, models.StatusHealthy, resp.Components["admission"].Status)
	assert.Contains(t, resp.Components["breaker"].Message, "closed")
}

func TestHealthCheck_APIPathAlias(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusOK, env.request(http.MethodGet, "/api/v1/health", "").Code)
}

func TestHealthCheck_DegradedWhenStoreDown(t *testing.T) {
	store := storage.NewMemoryStore()
	limiter := ratelimit.NewSlidingWindow(ratelimit.Config{})
	t.Cleanup(limiter.Close)

	br := breaker.New("audit-store")
	handlers := NewHandlers(&failingStore{Store: store}, limiter, br, version.Info{Version: "test"})
	router := SetupRoutes(handlers, testConfig())

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusDegraded, resp.Status)
	assert.Equal(t, models.StatusUnhealthy, resp.Components["storage"].Status)
}

func TestAdminAPI_RequiresAdminKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodGet, "/admin/blocks", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(http.MethodGet, "/admin/blocks", "shop-key")
	assert.Equal(t, http.StatusForbidden, w.Code, "non-admin keys are rejected")

	w = env.request(http.MethodGet, "/admin/blocks", "admin-key")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListBlocks(t *testing.T) {
	env := newTestEnv(t)

	env.limiter.Block("10.9.9.9", ratelimit.ReasonSuspicious, time.Hour)

	w := env.request(http.MethodGet, "/admin/blocks", "admin-key")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ListBlocksResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, "10.9.9.9", resp.Blocks[0].IP)
	assert.Equal(t, ratelimit.ReasonSuspicious, resp.Blocks[0].Reason)
}

func TestUnblockIP(t *testing.T) {
	env := newTestEnv(t)

	env.limiter.Block("10.9.9.9", ratelimit.ReasonRepeated, time.Hour)

	w := env.request(http.MethodDelete, "/admin/blocks/10.9.9.9", "admin-key")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.UnblockResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "10.9.9.9", resp.IP)

	_, blocked := env.limiter.IsBlocked("10.9.9.9")
	assert.False(t, blocked)

	// The unblock is recorded in the audit trail.
	events, err := env.store.Events(context.Background(), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventIPUnblocked, events[0].Type)
	assert.Equal(t, "10.9.9.9", events[0].IP)
}

func TestUnblockIP_NotBlocked(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodDelete, "/admin/blocks/10.9.9.9", "admin-key")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeNotFound, resp.Code)
}

func TestGetBreakerStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodGet, "/admin/breaker", "admin-key")
	require.Equal(t, http.StatusOK, w.Code)

	var snap breaker.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "audit-store", snap.Resource)
	assert.Equal(t, "closed", snap.State)
}

func TestGetAdmissionMetrics(t *testing.T) {
	env := newTestEnv(t)

	policy := ratelimit.Policy{Points: 1, Duration: time.Minute}
	env.limiter.Allow("some-key", policy)
	env.limiter.Block("10.9.9.9", ratelimit.ReasonSuspicious, time.Hour)

	w := env.request(http.MethodGet, "/admin/ratelimit/metrics", "admin-key")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.AdmissionMetricsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TrackedKeys)
	assert.Equal(t, 1, resp.BlockedIPs)
	assert.Equal(t, 1, resp.Events["ip_blocked"])
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t)

	base := time.Now().UTC()
	for i, id := range []string{"ev-a", "ev-b"} {
		require.NoError(t, env.store.RecordEvent(context.Background(), &models.AuditEvent{
			ID:        id,
			Type:      models.EventRateLimited,
			IP:        "10.0.0.1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	w := env.request(http.MethodGet, "/admin/events", "admin-key")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ListEventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalCount)

	// The since filter drops older events.
	since := base.Add(30 * time.Second).Format(time.RFC3339)
	w = env.request(http.MethodGet, "/admin/events?since="+since, "admin-key")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, "ev-b", resp.Events[0].ID)
}

func TestListEvents_StoreUnavailable(t *testing.T) {
	store := storage.NewMemoryStore()
	limiter := ratelimit.NewSlidingWindow(ratelimit.Config{})
	t.Cleanup(limiter.Close)

	br := breaker.New("audit-store")
	handlers := NewHandlers(&downStore{Store: store}, limiter, br, version.Info{Version: "test"})
	router := SetupRoutes(handlers, testConfig())

	r := httptest.NewRequest(http.MethodGet, "/admin/events", nil)
	r.Header.Set("X-API-Key", "admin-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeServiceUnavailable, resp.Code)
}

func TestListEvents_BadParams(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodGet, "/admin/events?since=yesterday", "admin-key")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodGet, "/admin/events?limit=-3", "admin-key")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// A proxy-supplied request ID is preserved.
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("X-Request-ID", "upstream-id")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, r)
	assert.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}
