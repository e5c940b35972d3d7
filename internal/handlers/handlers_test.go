package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/router"
	"github.com/pulsegate/backend/internal/wire"
	"github.com/pulsegate/backend/internal/ws"
)

func testRouter() *router.Router {
	r := router.New()
	RegisterAll(r, Deps{Registry: ws.NewRegistry(nil)})
	r.Freeze()
	return r
}

func testPrincipal(roles ...string) *identity.Principal {
	return identity.NewPrincipal("u1", "alice", roles, time.Now().Add(time.Hour))
}

func request(pkgID int32, data map[string]any) *wire.Request {
	return &wire.Request{PkgID: pkgID, ReqID: uuid.New(), Data: data}
}

func TestEcho(t *testing.T) {
	r := testRouter()
	resp, err := r.Dispatch(context.Background(), testPrincipal(), request(PkgEcho, nil))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOK, resp.StatusCode)
	assert.Equal(t, "test response", resp.Data["message"])
}

func TestWhoAmI(t *testing.T) {
	r := testRouter()
	p := testPrincipal("user", "admin")
	resp, err := r.Dispatch(context.Background(), p, request(PkgWhoAmI, nil))
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.StatusCode)
	assert.Equal(t, "u1", resp.Data["user_id"])
	assert.Equal(t, "alice", resp.Data["username"])
	assert.Equal(t, []string{"admin", "user"}, resp.Data["roles"])

	expiry, err := time.Parse(time.RFC3339, resp.Data["expires_at"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, p.Expiry, expiry, time.Second)
}

func TestBroadcastRequiresAdmin(t *testing.T) {
	r := testRouter()
	resp, err := r.Dispatch(context.Background(), testPrincipal("user"),
		request(PkgBroadcast, map[string]any{"message": "hi"}))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusPermissionDenied, resp.StatusCode)
}

func TestBroadcastRejectsEmptyMessage(t *testing.T) {
	r := testRouter()
	resp, err := r.Dispatch(context.Background(), testPrincipal("admin"),
		request(PkgBroadcast, map[string]any{"message": ""}))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInvalidData, resp.StatusCode)
}

func TestBroadcastReportsRecipientCount(t *testing.T) {
	r := testRouter()
	resp, err := r.Dispatch(context.Background(), testPrincipal("admin"),
		request(PkgBroadcast, map[string]any{"message": "maintenance at noon"}))
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, resp.Data["recipients"])
}

func TestServerTime(t *testing.T) {
	r := testRouter()
	resp, err := r.Dispatch(context.Background(), testPrincipal(), request(PkgServerTime, nil))
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.StatusCode)

	ts, err := time.Parse(time.RFC3339Nano, resp.Data["time"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
	assert.InDelta(t, time.Now().Unix(), resp.Data["unix"].(int64), 5)
}
