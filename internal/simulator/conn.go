package simulator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout   = 10 * time.Second
	readLimit      = 64 * 1024
	sendBuffer     = 256
	pingInterval   = 30 * time.Second
	pingTimeout    = 10 * time.Second
	maxMissedPongs = int32(2)
)

// conn wraps a single client websocket connection managed by the Hub.
type conn struct {
	hub       *Hub
	ws        *websocket.Conn
	send      chan []byte
	log       *logrus.Logger
	userID    string
	closeOnce sync.Once
	onMessage func(userID string, frame []byte)
}

// closeSend safely closes the send channel exactly once.
func (c *conn) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

func newConn(hub *Hub, ws *websocket.Conn, userID string, onMessage func(string, []byte)) *conn {
	return &conn{
		hub:       hub,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		log:       hub.log,
		userID:    userID,
		onMessage: onMessage,
	}
}

// readPump reads frames from the connection until it closes. Inbound frames
// from the client (presence updates, read receipts) are handed to the server
// for accounting.
func (c *conn) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.ws.CloseNow() //nolint:errcheck // best-effort close on teardown
	}()

	c.ws.SetReadLimit(readLimit)

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.WithField("status", websocket.CloseStatus(err)).Debug("client disconnected")
			}

			return
		}

		c.handleFrame(data)
	}
}

// handleFrame validates an inbound client frame and forwards it.
func (c *conn) handleFrame(data []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		c.log.WithField("user_id", c.userID).Debug("ignoring malformed client frame")

		return
	}

	if c.onMessage != nil {
		c.onMessage(c.userID, data)
	}
}

// sendPing sends a websocket ping and tracks missed pongs.
// Returns true if the connection should be closed.
func (c *conn) sendPing(ctx context.Context, missedPongs *atomic.Int32) bool {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := c.ws.Ping(pingCtx)
	cancel()

	if err != nil {
		if missedPongs.Add(1) >= maxMissedPongs {
			c.log.Debug("closing: 2 consecutive missed pongs")

			return true
		}

		return false
	}

	missedPongs.Store(0)

	return false
}

// writePump writes frames from the send channel to the connection and
// drives the server-side heartbeat.
func (c *conn) writePump(ctx context.Context) {
	defer c.ws.CloseNow() //nolint:errcheck // best-effort close on teardown

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var missedPongs atomic.Int32

	for {
		select {
		case <-pingTicker.C:
			if c.sendPing(ctx, &missedPongs) {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				c.ws.Close(websocket.StatusNormalClosure, "server shutting down") //nolint:errcheck // best-effort
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)

			err := c.ws.Write(writeCtx, websocket.MessageText, msg)

			cancel()

			if err != nil {
				c.log.WithError(err).Debug("write failed")

				return
			}
		case <-ctx.Done():
			return
		}
	}
}
