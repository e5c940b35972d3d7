package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pulsegate/backend/internal/kvstore"
	"github.com/pulsegate/backend/internal/wire"
)

// broadcastTimeout bounds how long a fan-out waits on one slow consumer
// before closing it.
const broadcastTimeout = 5 * time.Second

// Registry tracks live connections and the session key of the most recent
// connection per user. Broadcast copies the connection snapshot under the
// lock and fans out concurrently, so a slow consumer never blocks the
// registry or the other receivers.
type Registry struct {
	mu       sync.Mutex
	conns    map[uuid.UUID]*Conn
	sessions map[string]*Conn // session key -> most recent connection

	sendTimeout time.Duration
	onFailure   func()
}

// NewRegistry builds a registry. onFailure, when non-nil, is called once per
// failed broadcast send.
func NewRegistry(onFailure func()) *Registry {
	if onFailure == nil {
		onFailure = func() {}
	}
	return &Registry{
		conns:       make(map[uuid.UUID]*Conn),
		sessions:    make(map[string]*Conn),
		sendTimeout: broadcastTimeout,
		onFailure:   onFailure,
	}
}

// Add registers a live connection and records it as the user's most recent.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
	r.sessions[kvstore.SessionKey(c.Principal.Username)] = c
}

// Remove unregisters the connection. Removing an unknown connection is a
// no-op, and a newer connection under the same session key is left in place.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; !ok {
		return
	}
	delete(r.conns, c.ID)
	key := kvstore.SessionKey(c.Principal.Username)
	if current, ok := r.sessions[key]; ok && current.ID == c.ID {
		delete(r.sessions, key)
	}
}

// Len is the live connection count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Sessions snapshots the most recent connection per user, for the session
// sync worker.
func (r *Registry) Sessions() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]*Conn, 0, len(r.sessions))
	for _, c := range r.sessions {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast fans the frame out to every live connection concurrently and
// waits for completion. Connections whose send fails or times out are closed
// and removed.
func (r *Registry) Broadcast(b *wire.Broadcast) {
	r.mu.Lock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range snapshot {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			if err := c.SendBroadcast(b, r.sendTimeout); err != nil {
				slog.Warn("broadcast send failed, dropping connection",
					"conn_id", c.ID, "user", c.Principal.Username, "error", err)
				r.onFailure()
				c.Close(websocket.CloseInternalServerErr, "broadcast send failed")
				r.Remove(c)
			}
		}(c)
	}
	wg.Wait()
}

// CloseAll closes every live connection with the given code; used at
// shutdown with 1001 (going away).
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		snapshot = append(snapshot, c)
	}
	r.conns = make(map[uuid.UUID]*Conn)
	r.sessions = make(map[string]*Conn)
	r.mu.Unlock()

	for _, c := range snapshot {
		c.Close(code, reason)
	}
}
