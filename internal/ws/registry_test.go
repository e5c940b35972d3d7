package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/wire"
)

func registryConn(username string) *Conn {
	p := identity.NewPrincipal("id-"+username, username, nil, time.Now().Add(time.Hour))
	return NewConn(nil, p, wire.JSONCodec{}, "")
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry(nil)
	a := registryConn("alice")
	b := registryConn("bob")

	r.Add(a)
	r.Add(b)
	assert.Equal(t, 2, r.Len())

	r.Remove(a)
	assert.Equal(t, 1, r.Len())

	// Removing an unknown connection is a no-op.
	r.Remove(a)
	assert.Equal(t, 1, r.Len())
}

func TestRegistrySessionTracksMostRecent(t *testing.T) {
	r := NewRegistry(nil)
	first := registryConn("alice")
	second := registryConn("alice")

	r.Add(first)
	r.Add(second)
	assert.Equal(t, 2, r.Len())

	sessions := r.Sessions()
	assert.Len(t, sessions, 1)
	assert.Equal(t, second.ID, sessions[0].ID, "session key points at the newest connection")

	// Removing the older connection leaves the newer session mapping intact.
	r.Remove(first)
	sessions = r.Sessions()
	assert.Len(t, sessions, 1)
	assert.Equal(t, second.ID, sessions[0].ID)

	r.Remove(second)
	assert.Empty(t, r.Sessions())
}
