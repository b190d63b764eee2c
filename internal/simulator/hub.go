// Package simulator implements a local ContractDesk realtime server: it
// authenticates websocket connections, emits synthetic contract events, and
// serves the login and stats REST endpoints. Used for development and as
// the integration-test peer for the channel package.
package simulator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/contractdesk/realtime/internal/metrics"
)

// Hub channel buffer sizes.
const (
	broadcastBuffer = 256
	registerBuffer  = 64
)

// Hub manages active websocket connections and broadcasts event frames.
// All connection map mutations happen exclusively in the Run goroutine.
type Hub struct {
	conns      map[*conn]bool
	register   chan *conn
	unregister chan *conn
	broadcast  chan []byte
	shutdown   chan struct{}
	done       chan struct{}
	active     atomic.Int64
	log        *logrus.Logger
}

// Active reports the current number of registered connections.
func (h *Hub) Active() int { return int(h.active.Load()) }

// setActive publishes the connection count to callers and to Prometheus.
func (h *Hub) setActive(n int) {
	h.active.Store(int64(n))
	metrics.SimConnections.Set(float64(n))
}

// NewHub creates a new Hub instance.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		conns:      make(map[*conn]bool),
		register:   make(chan *conn, registerBuffer),
		unregister: make(chan *conn, registerBuffer),
		broadcast:  make(chan []byte, broadcastBuffer),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
}

// maxConnections caps concurrent simulator connections.
const maxConnections = 100

// Run starts the hub event loop. It should be run as a goroutine and exits
// when Shutdown is called or the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.drain()
			return
		case <-h.shutdown:
			h.drain()
			return

		case c := <-h.register:
			if len(h.conns) >= maxConnections {
				h.log.Warn("connection limit reached, dropping client")
				c.closeSend()
				continue
			}
			h.conns[c] = true
			h.setActive(len(h.conns))
			h.log.WithField("total", len(h.conns)).Info("client connected")

		case c := <-h.unregister:
			if _, ok := h.conns[c]; ok {
				delete(h.conns, c)
				c.closeSend()
			}
			h.setActive(len(h.conns))
			h.log.WithField("total", len(h.conns)).Info("client disconnected")

		case msg := <-h.broadcast:
			for c := range h.conns {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it rather than block the loop.
					c.closeSend()
					delete(h.conns, c)
				}
			}
			h.setActive(len(h.conns))
		}
	}
}

// Broadcast queues a frame for delivery to every connected client.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast channel full, dropping frame")
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *conn) {
	select {
	case h.register <- c:
	default:
		h.log.Warn("register channel full, dropping client")
		c.closeSend()
	}
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(c *conn) {
	select {
	case h.unregister <- c:
	default:
		// Run loop already exited; cleanup happened in drain.
	}
}

// Shutdown stops the Run loop and closes all connections. Blocks until
// drain is complete.
func (h *Hub) Shutdown() {
	close(h.shutdown)
	<-h.done
}

// drainTimeout is how long the hub waits for send buffers to flush.
const drainTimeout = 3 * time.Second

// drain closes every connection after giving write pumps a moment to flush.
func (h *Hub) drain() {
	if len(h.conns) == 0 {
		return
	}

	h.log.WithField("clients", len(h.conns)).Info("draining simulator connections")

	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true
		for c := range h.conns {
			if len(c.send) > 0 {
				allDrained = false
				break
			}
		}
		if allDrained {
			break
		}

		select {
		case <-deadline:
			h.log.Warn("drain timeout, closing remaining clients")
			goto closeAll
		case <-ticker.C:
		}
	}

closeAll:
	for c := range h.conns {
		c.closeSend()
		delete(h.conns, c)
	}
	h.setActive(0)
}
