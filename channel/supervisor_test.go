package channel

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const establishedFrame = `{"type":"connection_established","user_id":"u-1"}`

// fakeConn is a scripted transport connection.
type fakeConn struct {
	frames  chan []byte
	readErr chan error

	mu      sync.Mutex
	writes  [][]byte
	pingErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 64),
		readErr: make(chan error, 1),
	}
}

func (c *fakeConn) serve(frame string) { c.frames <- []byte(frame) }
func (c *fakeConn) fail(err error)     { c.readErr <- err }

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.frames:
		return data, nil
	case err := <-c.readErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

func (c *fakeConn) Close(websocket.StatusCode, string) error { return nil }

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// fakeDialer hands out scripted connections per dial attempt.
type fakeDialer struct {
	mu   sync.Mutex
	n    int
	next func(attempt int) (Conn, error)
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	d.n++
	attempt := d.n
	d.mu.Unlock()
	return d.next(attempt)
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// stateRecorder collects state transitions thread-safely.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) handler(st State, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *stateRecorder) has(want State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.states {
		if st == want {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{
		URL:          "ws://realtime.test/ws/connect",
		PingInterval: time.Hour, // heartbeat off unless a test shortens it
		AuthTimeout:  time.Second,
		DialTimeout:  time.Second,
		WriteTimeout: time.Second,
		Backoff: BackoffPolicy{
			Base:        time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			MaxAttempts: 3,
			Jitter:      -1,
		},
	}
}

func newTestSupervisor(t *testing.T, cfg Config, opts ...Option) *Supervisor {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	opts = append([]Option{WithLogger(log)}, opts...)
	s := New(cfg, opts...)
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestStartRequiresToken(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	err := s.Start(context.Background(), "")
	if !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("Start() = %v, want ErrTokenMissing", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if !errors.Is(s.LastError(), ErrTokenMissing) {
		t.Errorf("LastError() = %v, want ErrTokenMissing", s.LastError())
	}
}

func TestDispatchesEventsInOrder(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	s := newTestSupervisor(t, testConfig(), WithDialer(dialer))

	var mu sync.Mutex
	var progress []float64
	var statuses []string
	s.Subscribe(EventBulkOperationProgress, func(e Event) {
		p := e.Payload.(BulkOperationProgress)
		mu.Lock()
		progress = append(progress, p.ProgressPercentage)
		statuses = append(statuses, p.Status)
		mu.Unlock()
	})

	if err := s.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	conn.serve(establishedFrame)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	steps := []struct {
		pct    int
		status string
	}{
		{10, BulkStatusRunning}, {35, BulkStatusRunning}, {60, BulkStatusRunning},
		{85, BulkStatusRunning}, {100, BulkStatusCompleted},
	}
	for _, st := range steps {
		pct := strconv.Itoa(st.pct)
		conn.serve(`{"type":"bulk_operation_progress","operation_id":"bulk-op-789",` +
			`"operation_type":"export","progress_percentage":` + pct + `,` +
			`"processed_count":` + pct + `,"total_count":100,"status":"` + st.status + `"}`)
	}

	waitFor(t, "all progress events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(progress) == len(steps)
	})

	mu.Lock()
	defer mu.Unlock()
	for i, st := range steps {
		if progress[i] != float64(st.pct) {
			t.Fatalf("progress order %v, want 10,35,60,85,100", progress)
		}
		if statuses[i] != st.status {
			t.Fatalf("status at %d%% = %q, want %q", st.pct, statuses[i], st.status)
		}
	}
}

func TestAuthTimeoutThenAbandoned(t *testing.T) {
	dialer := &fakeDialer{next: func(int) (Conn, error) { return newFakeConn(), nil }}

	cfg := testConfig()
	cfg.AuthTimeout = 20 * time.Millisecond
	cfg.Backoff.MaxAttempts = 2

	rec := &stateRecorder{}
	s := newTestSupervisor(t, cfg, WithDialer(dialer), WithStateHandler(rec.handler))

	var mu sync.Mutex
	var abandoned *ConnectionStatus
	s.Subscribe(EventConnectionStatus, func(e Event) {
		cs := e.Payload.(ConnectionStatus)
		if cs.Status == StatusAbandoned {
			mu.Lock()
			abandoned = &cs
			mu.Unlock()
		}
	})

	if err := s.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitFor(t, "closed", func() bool { return s.State() == StateClosed })

	if !errors.Is(s.LastError(), ErrAbandoned) {
		t.Errorf("LastError() = %v, want ErrAbandoned", s.LastError())
	}
	if got := dialer.dials(); got != 2 {
		t.Errorf("dialed %d times, want 2", got)
	}
	if !rec.has(StateReconnecting) {
		t.Error("never entered reconnecting state")
	}

	mu.Lock()
	defer mu.Unlock()
	if abandoned == nil {
		t.Fatal("no abandoned status event dispatched")
	}
	if abandoned.Attempts != 2 {
		t.Errorf("abandoned after %d attempts, want 2", abandoned.Attempts)
	}
}

func TestAuthFailureCloseNotRetried(t *testing.T) {
	dialer := &fakeDialer{next: func(int) (Conn, error) {
		return nil, &CloseError{Code: StatusAuthFailure, Reason: "invalid token"}
	}}
	s := newTestSupervisor(t, testConfig(), WithDialer(dialer))

	if err := s.Start(context.Background(), "expired-tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitFor(t, "closed", func() bool { return s.State() == StateClosed })

	if !errors.Is(s.LastError(), ErrAuthFailed) {
		t.Errorf("LastError() = %v, want ErrAuthFailed", s.LastError())
	}
	if got := dialer.dials(); got != 1 {
		t.Errorf("dialed %d times, want 1 (auth failures are not retried)", got)
	}
}

func TestReconnectOnTransportClose(t *testing.T) {
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	dialer := &fakeDialer{next: func(attempt int) (Conn, error) {
		return conns[attempt-1], nil
	}}

	rec := &stateRecorder{}
	s := newTestSupervisor(t, testConfig(), WithDialer(dialer), WithStateHandler(rec.handler))

	if err := s.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	conns[0].serve(establishedFrame)
	waitFor(t, "first open", func() bool { return s.State() == StateOpen && s.Generation() == 1 })

	conns[0].fail(&CloseError{Code: websocket.StatusGoingAway, Reason: "server restart"})
	conns[1].serve(establishedFrame)

	waitFor(t, "second open", func() bool { return s.State() == StateOpen && s.Generation() == 2 })

	if !rec.has(StateReconnecting) {
		t.Error("never entered reconnecting state")
	}
	if err := s.LastError(); err != nil {
		t.Errorf("LastError() = %v after successful reopen, want nil", err)
	}
	if got := dialer.dials(); got != 2 {
		t.Errorf("dialed %d times, want 2", got)
	}
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{next: func(int) (Conn, error) {
		return nil, errors.New("connection refused")
	}}

	cfg := testConfig()
	cfg.Backoff.Base = time.Hour // reconnect timer must be cancelled, not awaited
	cfg.Backoff.MaxDelay = time.Hour
	cfg.Backoff.MaxAttempts = 10

	rec := &stateRecorder{}
	s := newTestSupervisor(t, cfg, WithDialer(dialer), WithStateHandler(rec.handler))

	if err := s.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitFor(t, "reconnecting", func() bool { return s.State() == StateReconnecting })
	done := s.Done()
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit after Stop")
	}

	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}

	s.Stop() // idempotent
	if got := dialer.dials(); got != 1 {
		t.Errorf("dialed %d times after stop, want 1", got)
	}
}

func TestHeartbeatLossTriggersReconnect(t *testing.T) {
	first := newFakeConn()
	first.setPingErr(errors.New("pong timeout"))
	second := newFakeConn()

	dialer := &fakeDialer{next: func(attempt int) (Conn, error) {
		if attempt == 1 {
			return first, nil
		}
		return second, nil
	}}

	cfg := testConfig()
	cfg.PingInterval = 10 * time.Millisecond
	cfg.PingTimeout = 5 * time.Millisecond
	cfg.MaxMissedPongs = 2

	s := newTestSupervisor(t, cfg, WithDialer(dialer))

	if err := s.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	first.serve(establishedFrame)
	second.serve(establishedFrame)

	// Two consecutive missed pongs declare the socket dead and reconnect.
	waitFor(t, "reconnect after heartbeat loss", func() bool {
		return dialer.dials() == 2 && s.State() == StateOpen
	})
}

func TestQueueFlushedOnOpen(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	s := newTestSupervisor(t, testConfig(), WithDialer(dialer))

	// Enqueued while not open: held until the connection establishes.
	s.Send(Outbound{Type: "presence_ping", Data: map[string]any{"contract_id": "c-1"}})
	s.Send(Outbound{Type: "mark_read", Critical: true})
	s.Send(Outbound{Type: "presence_ping"})

	if err := s.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	conn.serve(establishedFrame)

	waitFor(t, "queued writes flushed", func() bool { return len(conn.written()) == 3 })

	writes := conn.written()
	wantOrder := []string{`"seq":1`, `"seq":2`, `"seq":3`}
	for i, w := range writes {
		if !bytes.Contains(w, []byte(wantOrder[i])) {
			t.Errorf("write %d = %s, want FIFO order", i, w)
		}
	}

	// Messages sent while open flow immediately.
	s.Send(Outbound{Type: "presence_ping"})
	waitFor(t, "live write", func() bool { return len(conn.written()) == 4 })
}

func TestMalformedFrameDoesNotDestabilize(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	s := newTestSupervisor(t, testConfig(), WithDialer(dialer))

	var mu sync.Mutex
	var got []string
	s.Subscribe(EventContractUpdated, func(e Event) {
		mu.Lock()
		got = append(got, e.Payload.(ContractUpdated).ContractID)
		mu.Unlock()
	})

	if err := s.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	conn.serve(establishedFrame)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	conn.serve(`{"type":"contract_updated","contract_id":"c-1","title":"t","status":"draft","updated_by":{"id":"u-1","name":"Dana"},"changes":[]}`)
	conn.serve(`{{{ not json`)
	conn.serve(`{"type":"contract_updated","contract_id":"c-2","title":"t","status":"draft","updated_by":{"id":"u-1","name":"Dana"},"changes":[]}`)

	waitFor(t, "both valid frames", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "c-1" || got[1] != "c-2" {
		t.Errorf("delivered %v, want [c-1 c-2]", got)
	}
	if s.State() != StateOpen {
		t.Errorf("state = %v after malformed frame, want open", s.State())
	}
}

func TestStartWhileRunning(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	s := newTestSupervisor(t, testConfig(), WithDialer(dialer))

	if err := s.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	conn.serve(establishedFrame)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	if err := s.Start(context.Background(), "tok"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
}

func TestUnknownEventStillDispatched(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	s := newTestSupervisor(t, testConfig(), WithDialer(dialer))

	var mu sync.Mutex
	seen := false
	s.Subscribe(EventUnknown, func(e Event) {
		mu.Lock()
		seen = true
		mu.Unlock()
	})

	if err := s.Start(context.Background(), "tok"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	conn.serve(establishedFrame)
	conn.serve(`{"type":"contract_commented","contract_id":"c-1","comment":"lgtm"}`)

	waitFor(t, "unknown event dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen
	})
}
