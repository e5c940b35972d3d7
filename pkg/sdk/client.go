// Package sdk is the Go client for the gateway's websocket protocol.
//
// A client holds one authenticated connection and issues requests over it,
// matching replies by request ID. Broadcast frames observed while waiting
// are handed to the OnBroadcast callback.
//
// Quick start:
//
//	client, err := sdk.Dial(sdk.Config{
//	    GatewayURL: "https://gateway.yourcompany.com",
//	    Token:      os.Getenv("GATEWAY_TOKEN"),
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	resp, err := client.WhoAmI(ctx)
package sdk

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pulsegate/backend/internal/wire"
)

const defaultTimeout = 30 * time.Second

// Client is a gateway connection. Methods are safe for concurrent use; the
// connection serializes requests, so concurrent calls queue.
type Client struct {
	cfg   Config
	codec wire.Codec
	conn  *websocket.Conn
	mu    sync.Mutex
}

// Dial opens and authenticates a gateway connection.
func Dial(cfg Config) (*Client, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("sdk: GatewayURL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	codec, coerced := wire.Negotiate(cfg.Format)
	if coerced {
		return nil, fmt.Errorf("sdk: unknown wire format %q", cfg.Format)
	}

	url := wsURL(cfg.GatewayURL) + "/web?format=" + string(codec.Format())
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("sdk: dial %s: %w", url, err)
	}
	return &Client{cfg: cfg, codec: codec, conn: conn}, nil
}

func wsURL(gatewayURL string) string {
	switch {
	case strings.HasPrefix(gatewayURL, "https://"):
		return "wss://" + strings.TrimPrefix(gatewayURL, "https://")
	case strings.HasPrefix(gatewayURL, "http://"):
		return "ws://" + strings.TrimPrefix(gatewayURL, "http://")
	default:
		return gatewayURL
	}
}

// Do sends one request and waits for its reply.
func (c *Client) Do(ctx context.Context, pkgID int32, data map[string]any) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := &wire.Request{PkgID: pkgID, ReqID: uuid.New(), Data: data}
	frame, err := c.codec.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	msgType := websocket.TextMessage
	if c.codec.Format() == wire.FormatProtobuf {
		msgType = websocket.BinaryMessage
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(msgType, frame); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.conn.SetReadDeadline(deadline)
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		resp, err := c.codec.DecodeResponse(payload)
		if err != nil {
			return nil, err
		}
		// Broadcasts carry the nil request ID.
		if resp.ReqID == uuid.Nil {
			if c.cfg.OnBroadcast != nil {
				c.cfg.OnBroadcast(&Broadcast{PkgID: resp.PkgID, Data: resp.Data})
			}
			continue
		}
		if resp.ReqID != req.ReqID {
			continue
		}
		return &Response{
			PkgID:  resp.PkgID,
			Status: Status(resp.StatusCode),
			Data:   resp.Data,
		}, nil
	}
}

// Echo round-trips a test request.
func (c *Client) Echo(ctx context.Context) (*Response, error) {
	return c.Do(ctx, PkgEcho, map[string]any{})
}

// WhoAmI returns the authenticated identity as the gateway sees it.
func (c *Client) WhoAmI(ctx context.Context) (*Response, error) {
	return c.Do(ctx, PkgWhoAmI, map[string]any{})
}

// ServerTime fetches the gateway clock.
func (c *Client) ServerTime(ctx context.Context) (*Response, error) {
	return c.Do(ctx, PkgServerTime, map[string]any{})
}

// Announce broadcasts a message to every connected client. Requires the
// admin role.
func (c *Client) Announce(ctx context.Context, message string) (*Response, error) {
	return c.Do(ctx, PkgBroadcast, map[string]any{"message": message})
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
