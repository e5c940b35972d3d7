// Package handlers registers the built-in package types on the router during
// startup.
package handlers

import (
	"context"
	"time"

	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/router"
	"github.com/pulsegate/backend/internal/wire"
	"github.com/pulsegate/backend/internal/ws"
)

// Package type enumeration.
const (
	PkgEcho       int32 = 1
	PkgWhoAmI     int32 = 2
	PkgBroadcast  int32 = 3
	PkgServerTime int32 = 4
)

const broadcastSchema = `{
	"type": "object",
	"properties": {
		"message": {"type": "string", "minLength": 1}
	},
	"required": ["message"],
	"additionalProperties": true
}`

// Deps carries what the built-in handlers need.
type Deps struct {
	Registry *ws.Registry
}

// RegisterAll binds every built-in package type. Called exactly once during
// startup, before the router freezes.
func RegisterAll(r *router.Router, deps Deps) {
	r.Register(PkgEcho, echo)
	r.Register(PkgWhoAmI, whoAmI)
	r.Register(PkgBroadcast, broadcast(deps.Registry),
		router.WithRoles("admin"), router.WithSchema(broadcastSchema))
	r.Register(PkgServerTime, serverTime)
}

func echo(ctx context.Context, p *identity.Principal, req *wire.Request) (*wire.Response, error) {
	return wire.OK(req, map[string]any{"message": "test response"}), nil
}

func whoAmI(ctx context.Context, p *identity.Principal, req *wire.Request) (*wire.Response, error) {
	return wire.OK(req, map[string]any{
		"user_id":    p.UserID,
		"username":   p.Username,
		"roles":      p.Roles,
		"expires_at": p.Expiry.UTC().Format(time.RFC3339),
	}), nil
}

// broadcast fans the message out to every live connection. Admin-only; the
// payload schema guarantees a non-empty message.
func broadcast(registry *ws.Registry) router.HandlerFunc {
	return func(ctx context.Context, p *identity.Principal, req *wire.Request) (*wire.Response, error) {
		recipients := registry.Len()
		registry.Broadcast(&wire.Broadcast{
			PkgID: req.PkgID,
			Data: map[string]any{
				"message": req.Data["message"],
				"from":    p.Username,
			},
		})
		return wire.OK(req, map[string]any{"recipients": recipients}), nil
	}
}

func serverTime(ctx context.Context, p *identity.Principal, req *wire.Request) (*wire.Response, error) {
	now := time.Now().UTC()
	return wire.OK(req, map[string]any{
		"time": now.Format(time.RFC3339Nano),
		"unix": now.Unix(),
	}), nil
}
