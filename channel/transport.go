package channel

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

// Conn is the transport seam the Supervisor drives. Production connections
// wrap coder/websocket; tests inject scripted implementations.
type Conn interface {
	// Read blocks until the next text frame arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error

	// Ping sends a heartbeat and waits for the pong.
	Ping(ctx context.Context) error

	// Close terminates the connection with the given close code.
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens transport connections to the realtime endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// wsReadLimit bounds inbound frame size; realtime events are small.
const wsReadLimit = 64 * 1024

// wsDialer is the production Dialer over coder/websocket.
type wsDialer struct{}

// NewDialer returns the production websocket Dialer.
func NewDialer() Dialer { return wsDialer{} }

// Dial opens a websocket connection to the endpoint.
func (wsDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil) //nolint:bodyclose // hijacked by the websocket
	if err != nil {
		if cs := websocket.CloseStatus(err); cs != -1 {
			return nil, &CloseError{Code: cs, Reason: err.Error()}
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(wsReadLimit)
	return &wsConn{conn: conn}, nil
}

// wsConn adapts *websocket.Conn to the Conn interface, mapping close
// statuses to CloseError so the Supervisor can distinguish auth-failure
// closes from transient ones.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if cs := websocket.CloseStatus(err); cs != -1 {
			return nil, &CloseError{Code: cs, Reason: err.Error()}
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}

// endpointWithToken attaches the bearer token as a query parameter. The
// browser WebSocket API cannot set custom headers, so the server reads the
// token from the URL; the Go client follows the same contract.
func endpointWithToken(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
