// Package router maps package types to handlers, enforcing role gates and
// payload schemas before invocation. The registry is populated once during
// startup and frozen; after that, dispatch is lock-free.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pulsegate/backend/internal/apperr"
	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/wire"
)

// HandlerFunc processes one request frame. A returned error is treated as an
// unrecoverable handler fault: the dispatch loop records it and closes the
// connection.
type HandlerFunc func(ctx context.Context, p *identity.Principal, req *wire.Request) (*wire.Response, error)

type registration struct {
	handler HandlerFunc
	schema  *gojsonschema.Schema
	roles   []string
}

// Option configures a registration.
type Option func(*registration)

// WithSchema attaches a JSON schema the request payload must satisfy.
// The schema source must be valid; registration happens at startup, so a bad
// schema is a programmer error and panics.
func WithSchema(schemaJSON string) Option {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("router: invalid payload schema: %v", err))
	}
	return func(r *registration) { r.schema = schema }
}

// WithRoles requires the principal to hold every listed role (AND semantics).
func WithRoles(roles ...string) Option {
	return func(r *registration) { r.roles = roles }
}

// Router is the write-once handler registry.
type Router struct {
	mu       sync.Mutex
	frozen   atomic.Bool
	handlers map[int32]*registration
}

func New() *Router {
	return &Router{handlers: make(map[int32]*registration)}
}

// Register binds pkgID to a handler. Duplicate registration and registration
// after Freeze are programmer errors and panic.
func (r *Router) Register(pkgID int32, h HandlerFunc, opts ...Option) {
	if r.frozen.Load() {
		panic(fmt.Sprintf("router: registration of package %d after freeze", pkgID))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[pkgID]; exists {
		panic(fmt.Sprintf("router: duplicate registration for package %d", pkgID))
	}
	reg := &registration{handler: h}
	for _, opt := range opts {
		opt(reg)
	}
	r.handlers[pkgID] = reg
}

// Freeze ends the registration phase; reads need no synchronization after.
func (r *Router) Freeze() {
	r.frozen.Store(true)
}

// PackageTypes lists the registered package IDs.
func (r *Router) PackageTypes() []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int32, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	return ids
}

// Dispatch routes one request to its handler. Unknown packages, failed role
// gates, and schema violations produce error responses without invoking the
// handler; handler errors are returned to the caller untouched.
func (r *Router) Dispatch(ctx context.Context, p *identity.Principal, req *wire.Request) (*wire.Response, error) {
	reg, ok := r.handlers[req.PkgID]
	if !ok {
		e := apperr.Newf(apperr.KindNotFound, "No handler found for package type %d", req.PkgID)
		return wire.Err(req, e.WireStatus(), e.Envelope()), nil
	}

	if len(reg.roles) > 0 && !p.HasAllRoles(reg.roles) {
		e := apperr.Newf(apperr.KindAuthorization, "Insufficient permissions for package type %d", req.PkgID)
		return wire.Err(req, e.WireStatus(), e.Envelope()), nil
	}

	if reg.schema != nil {
		if resp := r.validatePayload(reg, req); resp != nil {
			return resp, nil
		}
	}

	return reg.handler(ctx, p, req)
}

func (r *Router) validatePayload(reg *registration, req *wire.Request) *wire.Response {
	payload, err := json.Marshal(req.Data)
	if err != nil {
		e := apperr.New(apperr.KindValidation, "Request payload is not serializable")
		return wire.Err(req, e.WireStatus(), e.Envelope())
	}
	result, err := reg.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		e := apperr.New(apperr.KindValidation, "Request payload validation failed")
		return wire.Err(req, e.WireStatus(), e.Envelope())
	}
	if !result.Valid() {
		violations := make([]any, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}
		e := apperr.New(apperr.KindValidation, "Request payload failed schema validation").
			WithDetails(map[string]any{"violations": violations})
		return wire.Err(req, e.WireStatus(), e.Envelope())
	}
	return nil
}
