package channel

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/contractdesk/realtime/internal/metrics"
)

// Outbound is a client-to-server message awaiting transport availability.
type Outbound struct {
	// Type is the outbound frame discriminator (e.g. "presence_ping").
	Type string

	// Data holds the type-specific payload fields, merged into the frame
	// alongside Type on encode.
	Data map[string]any

	// Critical marks messages that must not be dropped silently. Presence
	// heartbeats are best-effort; user-initiated writes are critical.
	Critical bool

	// Sequence is a monotonic client-assigned counter, set on enqueue.
	// Used to drop duplicates if the server echoes acknowledgments.
	Sequence uint64
}

// encode renders the outbound frame: {"type": ..., "seq": ..., ...Data}.
func (m Outbound) encode() ([]byte, error) {
	frame := make(map[string]any, len(m.Data)+2)
	for k, v := range m.Data {
		frame[k] = v
	}
	frame["type"] = m.Type
	frame["seq"] = m.Sequence
	return json.Marshal(frame)
}

// RejectedWriteFunc is notified when a critical message is evicted from a
// full queue. Silent loss of critical writes is never acceptable; the
// caller can retry or alert the user.
type RejectedWriteFunc func(Outbound, error)

// OutboundQueue buffers writes attempted while the connection is not open.
// Bounded: on overflow the oldest best-effort message is evicted first; if
// only critical messages remain, the oldest critical one is evicted and
// reported through the rejected-write callback. Safe for concurrent use.
type OutboundQueue struct {
	mu       sync.Mutex
	items    []Outbound
	capacity int
	seq      uint64
	onReject RejectedWriteFunc
	log      *logrus.Logger
}

// NewOutboundQueue creates a queue holding at most capacity messages.
func NewOutboundQueue(log *logrus.Logger, capacity int, onReject RejectedWriteFunc) *OutboundQueue {
	return &OutboundQueue{
		capacity: capacity,
		onReject: onReject,
		log:      log,
	}
}

// Enqueue assigns the message its sequence number and appends it in FIFO
// position, evicting per the overflow policy if the queue is full.
func (q *OutboundQueue) Enqueue(m Outbound) {
	q.mu.Lock()

	q.seq++
	m.Sequence = q.seq

	var rejected *Outbound
	if len(q.items) >= q.capacity {
		rejected = q.evictLocked()
	}
	q.items = append(q.items, m)
	metrics.OutboundQueueDepth.Set(float64(len(q.items)))

	q.mu.Unlock()

	if rejected != nil {
		if rejected.Critical {
			q.log.WithFields(logrus.Fields{
				"seq":  rejected.Sequence,
				"type": rejected.Type,
			}).Warn("evicted critical outbound message")
			if q.onReject != nil {
				q.onReject(*rejected, ErrQueueOverflow)
			}
		} else {
			metrics.OutboundEvicted.WithLabelValues("best_effort").Inc()
		}
	}
}

// evictLocked removes and returns the eviction victim: the oldest
// best-effort message, or the oldest message outright when every entry
// is critical.
func (q *OutboundQueue) evictLocked() *Outbound {
	for i, m := range q.items {
		if !m.Critical {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return &m
		}
	}

	victim := q.items[0]
	q.items = q.items[1:]
	metrics.OutboundEvicted.WithLabelValues("critical").Inc()
	return &victim
}

// Drain removes and returns all queued messages in FIFO order. Called by
// the Supervisor on transition to Open, before any newly enqueued message
// is sent.
func (q *OutboundQueue) Drain() []Outbound {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	metrics.OutboundQueueDepth.Set(0)
	return out
}

// Requeue puts messages back at the head of the queue, preserving their
// sequence numbers. Used when a flush fails partway: the unsent tail goes
// back in front of anything enqueued since. The queue may transiently
// exceed capacity; the next Enqueue evicts per the overflow policy.
func (q *OutboundQueue) Requeue(items []Outbound) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(append([]Outbound{}, items...), q.items...)
	metrics.OutboundQueueDepth.Set(float64(len(q.items)))
}

// Len returns the number of queued messages.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards all queued messages without sending them.
func (q *OutboundQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	metrics.OutboundQueueDepth.Set(0)
}
