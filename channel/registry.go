package channel

import "sync"

// Handler receives dispatched events. Handlers run synchronously on the
// Supervisor's run loop; long work should be handed off by the subscriber.
type Handler func(Event)

// UnsubscribeFunc removes the subscription that produced it. Calling it
// more than once is a no-op.
type UnsubscribeFunc func()

type subscription struct {
	id uint64
	fn Handler
}

// Registry manages the add/remove lifecycle of subscriptions, independent
// of dispatch. UI features subscribe by event type without coupling to
// transport details. Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	subs   map[EventType][]subscription
	nextID uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[EventType][]subscription)}
}

// Subscribe registers fn for events of type t. Use EventWildcard to receive
// all traffic. Subscriptions for the same type are delivered in
// registration order. The returned func removes exactly this subscription
// and is idempotent.
func (r *Registry) Subscribe(t EventType, fn Handler) UnsubscribeFunc {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[t] = append(r.subs[t], subscription{id: id, fn: fn})
	r.mu.Unlock()

	return func() { r.remove(t, id) }
}

// remove deletes the subscription with the given id. Missing ids (already
// unsubscribed) are ignored.
func (r *Registry) remove(t EventType, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[t]
	for i, s := range subs {
		if s.id == id {
			r.subs[t] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(r.subs[t]) == 0 {
		delete(r.subs, t)
	}
}

// handlers returns the delivery list for an event of type t: typed
// subscribers first, wildcard subscribers after, each group in
// registration order. The snapshot is safe to iterate without the lock.
func (r *Registry) handlers(t EventType) []subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	typed := r.subs[t]
	wild := r.subs[EventWildcard]
	if len(typed) == 0 && len(wild) == 0 {
		return nil
	}

	out := make([]subscription, 0, len(typed)+len(wild))
	out = append(out, typed...)
	out = append(out, wild...)
	return out
}

// Len returns the total number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}
