package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/wire"
)

func testPrincipal(roles ...string) *identity.Principal {
	return identity.NewPrincipal("user-1", "alice", roles, time.Now().Add(time.Hour))
}

func testRequest(pkgID int32) *wire.Request {
	return &wire.Request{
		PkgID: pkgID,
		ReqID: uuid.New(),
		Data:  map[string]any{},
	}
}

func echoHandler(ctx context.Context, p *identity.Principal, req *wire.Request) (*wire.Response, error) {
	return wire.OK(req, map[string]any{"echo": true}), nil
}

func TestDispatchInvokesHandler(t *testing.T) {
	r := New()
	r.Register(1, echoHandler)
	r.Freeze()

	req := testRequest(1)
	resp, err := r.Dispatch(context.Background(), testPrincipal(), req)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOK, resp.StatusCode)
	assert.Equal(t, req.ReqID, resp.ReqID)
	assert.Equal(t, true, resp.Data["echo"])
}

func TestDispatchUnknownPackage(t *testing.T) {
	r := New()
	r.Freeze()

	resp, err := r.Dispatch(context.Background(), testPrincipal(), testRequest(9999))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, resp.StatusCode)
	msg, _ := resp.Data["msg"].(string)
	assert.True(t, strings.HasPrefix(msg, "No handler found"), "got %q", msg)
	assert.Equal(t, "not_found", resp.Data["code"])
}

func TestDispatchRoleGate(t *testing.T) {
	called := false
	r := New()
	r.Register(2, func(ctx context.Context, p *identity.Principal, req *wire.Request) (*wire.Response, error) {
		called = true
		return wire.OK(req, nil), nil
	}, WithRoles("admin", "operator"))
	r.Freeze()

	// Missing one of the required roles: AND semantics deny.
	resp, err := r.Dispatch(context.Background(), testPrincipal("admin"), testRequest(2))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusPermissionDenied, resp.StatusCode)
	assert.False(t, called, "handler must not run on a failed role gate")

	// Case matters.
	resp, err = r.Dispatch(context.Background(), testPrincipal("Admin", "operator"), testRequest(2))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusPermissionDenied, resp.StatusCode)

	resp, err = r.Dispatch(context.Background(), testPrincipal("admin", "operator"), testRequest(2))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOK, resp.StatusCode)
	assert.True(t, called)
}

func TestDispatchSchemaValidation(t *testing.T) {
	const schema = `{
		"type": "object",
		"properties": {"message": {"type": "string", "minLength": 1}},
		"required": ["message"]
	}`

	r := New()
	r.Register(3, echoHandler, WithSchema(schema))
	r.Freeze()

	req := testRequest(3)
	req.Data = map[string]any{"wrong": 1}
	resp, err := r.Dispatch(context.Background(), testPrincipal(), req)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInvalidData, resp.StatusCode)
	assert.Equal(t, "validation_error", resp.Data["code"])
	assert.NotEmpty(t, resp.Data["details"])

	req.Data = map[string]any{"message": "hello"}
	resp, err = r.Dispatch(context.Background(), testPrincipal(), req)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOK, resp.StatusCode)
}

func TestDispatchHandlerErrorPropagates(t *testing.T) {
	boom := errors.New("handler exploded")
	r := New()
	r.Register(4, func(ctx context.Context, p *identity.Principal, req *wire.Request) (*wire.Response, error) {
		return nil, boom
	})
	r.Freeze()

	_, err := r.Dispatch(context.Background(), testPrincipal(), testRequest(4))
	assert.ErrorIs(t, err, boom)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := New()
	r.Register(1, echoHandler)
	assert.PanicsWithValue(t, "router: duplicate registration for package 1", func() {
		r.Register(1, echoHandler)
	})
	// The first registration stays intact.
	resp, err := r.Dispatch(context.Background(), testPrincipal(), testRequest(1))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOK, resp.StatusCode)
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	r := New()
	r.Freeze()
	assert.Panics(t, func() { r.Register(1, echoHandler) })
}

func TestWithSchemaInvalidSourcePanics(t *testing.T) {
	assert.Panics(t, func() { WithSchema(`{"type": 42}`) })
}
