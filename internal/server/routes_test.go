package server

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

	"github.com/pulsegate/backend/internal/config"
	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/kvstore"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(ctx context.Context) error { return p.err }

func TestHealthBothStoresUp(t *testing.T) {
	handler := healthHandler(fakePinger{}, kvstore.NewMemory())
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.Equal(t, "connected", body["redis"])
}

func TestHealthDatabaseDown(t *testing.T) {
	handler := healthHandler(fakePinger{err: errors.New("refused")}, kvstore.NewMemory())
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "error", body["database"])
	assert.Equal(t, "connected", body["redis"])
}

func TestSystemInfoRequiresAdmin(t *testing.T) {
	cfg := &config.Config{Env: config.EnvDev, Version: "test"}
	handler := systemInfoHandler(cfg, func() int { return 2 })

	// Unauthenticated.
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/system-info", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Authenticated without the admin role.
	user := identity.NewPrincipal("u1", "alice", []string{"user"}, time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/system-info", nil)
	req = req.WithContext(identity.WithPrincipal(req.Context(), user))
	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "permission_denied")

	// Admin.
	admin := identity.NewPrincipal("u2", "root", []string{"admin"}, time.Now().Add(time.Hour))
	req = httptest.NewRequest(http.MethodGet, "/system-info", nil)
	req = req.WithContext(identity.WithPrincipal(req.Context(), admin))
	rec = httptest.NewRecorder()
	handler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "test", body["version"])
	ws := body["websocket"].(map[string]any)
	assert.EqualValues(t, 2, ws["active_connections"])
}

func TestOpenAPIDocumentIsValidJSON(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(openAPIDoc), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])

	paths := doc["paths"].(map[string]any)
	for _, p := range []string{"/health", "/metrics", "/system-info", "/web"} {
		assert.Contains(t, paths, p)
	}
}
