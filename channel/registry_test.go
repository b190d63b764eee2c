package channel

import "testing"

func TestSubscribeOrder(t *testing.T) {
	r := NewRegistry()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		r.Subscribe(EventContractUpdated, func(Event) { got = append(got, i) })
	}

	for _, s := range r.handlers(EventContractUpdated) {
		s.fn(Event{})
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("delivery order %v, want registration order", got)
		}
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	r := NewRegistry()

	calls := 0
	unsub1 := r.Subscribe(EventContractUpdated, func(Event) { calls++ })
	unsub2 := r.Subscribe(EventContractUpdated, func(Event) { calls++ })

	unsub1()
	unsub1() // double-unsubscribe is a no-op, not an error
	unsub1()

	if n := r.Len(); n != 1 {
		t.Fatalf("Len() = %d after idempotent unsubscribe, want 1", n)
	}

	for _, s := range r.handlers(EventContractUpdated) {
		s.fn(Event{})
	}
	if calls != 1 {
		t.Errorf("remaining subscriber called %d times, want 1", calls)
	}

	unsub2()
	if n := r.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestWildcardReceivesAll(t *testing.T) {
	r := NewRegistry()

	var typed, wild int
	r.Subscribe(EventContractUpdated, func(Event) { typed++ })
	r.Subscribe(EventWildcard, func(Event) { wild++ })

	for _, typ := range []EventType{EventContractUpdated, EventSystemNotification, EventUnknown} {
		for _, s := range r.handlers(typ) {
			s.fn(Event{Type: typ})
		}
	}

	if typed != 1 {
		t.Errorf("typed subscriber called %d times, want 1", typed)
	}
	if wild != 3 {
		t.Errorf("wildcard subscriber called %d times, want 3", wild)
	}
}

func TestHandlersSnapshotIsolated(t *testing.T) {
	r := NewRegistry()

	var unsub UnsubscribeFunc
	called := 0
	// Unsubscribing during delivery must not disturb the in-flight snapshot.
	unsub = r.Subscribe(EventContractUpdated, func(Event) {
		called++
		unsub()
	})
	r.Subscribe(EventContractUpdated, func(Event) { called++ })

	for _, s := range r.handlers(EventContractUpdated) {
		s.fn(Event{})
	}

	if called != 2 {
		t.Errorf("delivered to %d subscribers, want 2", called)
	}
	if n := r.Len(); n != 1 {
		t.Errorf("Len() = %d after self-unsubscribe, want 1", n)
	}
}
