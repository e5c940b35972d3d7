// Package ws owns the WebSocket surface: the connection type, the live
// connection registry with broadcast fan-out, and the endpoint that runs the
// connection lifecycle.
package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/wire"
)

const writeWait = 10 * time.Second

// Conn is one live WebSocket conversation. All socket writes go through the
// send mutex so a direct response and a concurrent broadcast can never
// interleave fragments.
type Conn struct {
	ID            uuid.UUID
	Principal     *identity.Principal
	Codec         wire.Codec
	CorrelationID string
	CreatedAt     time.Time

	socket    *websocket.Conn
	sendMu    sync.Mutex
	closeOnce sync.Once
}

func NewConn(socket *websocket.Conn, p *identity.Principal, codec wire.Codec, correlationID string) *Conn {
	return &Conn{
		ID:            uuid.New(),
		Principal:     p,
		Codec:         codec,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
		socket:        socket,
	}
}

func (c *Conn) messageType() int {
	if c.Codec.Format() == wire.FormatProtobuf {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Send encodes and writes one response frame.
func (c *Conn) Send(resp *wire.Response) error {
	frame, err := c.Codec.Encode(resp)
	if err != nil {
		return err
	}
	return c.write(frame, writeWait)
}

// SendBroadcast writes one broadcast frame with the given send timeout.
func (c *Conn) SendBroadcast(b *wire.Broadcast, timeout time.Duration) error {
	frame, err := c.Codec.EncodeBroadcast(b)
	if err != nil {
		return err
	}
	return c.write(frame, timeout)
}

func (c *Conn) write(frame []byte, timeout time.Duration) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.socket.SetWriteDeadline(time.Now().Add(timeout))
	return c.socket.WriteMessage(c.messageType(), frame)
}

// Ping sends a control ping under the send mutex.
func (c *Conn) Ping() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends the close frame with the given code and reason, then closes the
// socket. Safe to call more than once; only the first call takes effect.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		c.sendMu.Lock()
		c.socket.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.sendMu.Unlock()
		c.socket.Close()
	})
}
