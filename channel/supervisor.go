// Package channel implements the ContractDesk realtime client channel: a
// supervised websocket connection that authenticates, decodes and fans out
// server events to subscribers, and survives network interruptions with
// exponential backoff, without delivering stale or duplicate frames.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/contractdesk/realtime/internal/metrics"
)

// Config tunes the channel. Zero values fall back to production defaults;
// tests shrink the timeouts.
type Config struct {
	// URL is the realtime endpoint, e.g. "wss://api.contractdesk.io/ws/connect".
	URL string

	// PingInterval is the heartbeat period while open.
	PingInterval time.Duration

	// PingTimeout bounds the wait for a single pong.
	PingTimeout time.Duration

	// MaxMissedPongs is how many consecutive lost pongs declare the
	// connection dead. Catches silently-dead sockets that never fire a
	// close event.
	MaxMissedPongs int

	// AuthTimeout bounds the wait for connection_established after the
	// transport opens.
	AuthTimeout time.Duration

	// DialTimeout bounds the transport dial.
	DialTimeout time.Duration

	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration

	// QueueCapacity bounds the outbound queue.
	QueueCapacity int

	// Backoff is the reconnection policy.
	Backoff BackoffPolicy
}

// Production defaults.
const (
	defaultPingInterval   = 30 * time.Second
	defaultPingTimeout    = 10 * time.Second
	defaultMaxMissedPongs = 2
	defaultAuthTimeout    = 5 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultQueueCapacity  = 64

	defaultBackoffBase   = 1 * time.Second
	defaultBackoffMax    = 30 * time.Second
	defaultMaxAttempts   = 10
	defaultBackoffJitter = 0.2
)

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = defaultPingTimeout
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = defaultMaxMissedPongs
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = defaultBackoffBase
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = defaultBackoffMax
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff.MaxAttempts = defaultMaxAttempts
	}
	if c.Backoff.Jitter == 0 {
		c.Backoff.Jitter = defaultBackoffJitter
	}
	return c
}

// frameBuffer decouples the read pump from dispatch without reordering:
// frames are consumed strictly FIFO.
const frameBuffer = 32

// Supervisor owns one realtime connection at a time and mediates all
// transport I/O. All state transitions happen on its run loop; every other
// component (codec, dispatcher, registry, queue) is coordinated by it.
//
// Construct with New, wire subscribers through Subscribe, then Start.
// The Supervisor is explicitly owned: tie Start/Stop to the application
// session rather than process lifetime.
type Supervisor struct {
	cfg    Config
	log    *logrus.Logger
	dialer Dialer

	codec *Codec
	reg   *Registry
	disp  *Dispatcher
	queue *OutboundQueue

	onState  StateHandler
	onReject RejectedWriteFunc

	state atomic.Int32
	gen   atomic.Uint64
	kick  chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	lastErr error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. Defaults to logrus.StandardLogger.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithDialer injects a transport dialer. Tests use scripted connections.
func WithDialer(d Dialer) Option {
	return func(s *Supervisor) { s.dialer = d }
}

// WithStateHandler registers a callback observing every state transition.
// Invoked from the run loop; keep it fast.
func WithStateHandler(fn StateHandler) Option {
	return func(s *Supervisor) { s.onState = fn }
}

// WithRejectedWriteHandler registers the callback notified when a critical
// outbound message is evicted from a full queue.
func WithRejectedWriteHandler(fn RejectedWriteFunc) Option {
	return func(s *Supervisor) { s.onReject = fn }
}

// New creates a Supervisor for the given endpoint configuration.
func New(cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:    cfg.withDefaults(),
		log:    logrus.StandardLogger(),
		dialer: NewDialer(),
		kick:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}

	s.codec = NewCodec(s.log)
	s.reg = NewRegistry()
	s.disp = NewDispatcher(s.log, s.reg)
	s.queue = NewOutboundQueue(s.log, s.cfg.QueueCapacity, s.onReject)
	s.state.Store(int32(StateIdle))
	return s
}

// Subscribe registers fn for events of type t (EventWildcard for all
// traffic). The returned func removes the subscription idempotently; call
// it on the owning feature's teardown so callbacks referencing destroyed
// state do not leak.
func (s *Supervisor) Subscribe(t EventType, fn Handler) UnsubscribeFunc {
	return s.reg.Subscribe(t, fn)
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Generation returns the current connection generation.
func (s *Supervisor) Generation() uint64 {
	return s.gen.Load()
}

// LastError returns the last failure reason, cleared on successful open.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// QueueLen reports how many outbound messages are waiting to be flushed.
func (s *Supervisor) QueueLen() int {
	return s.queue.Len()
}

// Send enqueues an outbound message. While open it is flushed immediately;
// otherwise it waits for the next successful connection, subject to the
// queue's overflow policy.
func (s *Supervisor) Send(m Outbound) {
	s.queue.Enqueue(m)
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start transitions Idle → Connecting and begins supervising the
// connection in a background goroutine. It fails fast with ErrTokenMissing
// when no bearer token is supplied, and with ErrAlreadyRunning while a
// previous run is still active.
func (s *Supervisor) Start(ctx context.Context, token string) error {
	if token == "" {
		s.setState(StateClosed, ErrTokenMissing)
		return ErrTokenMissing
	}

	endpoint, err := endpointWithToken(s.cfg.URL, token)
	if err != nil {
		s.setState(StateClosed, err)
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	go s.run(ctx, endpoint, stopCh, done)
	return nil
}

// Stop closes the channel unconditionally: any pending reconnection timer
// is cancelled and no further attempt is made until Start is called again.
// Safe to call from any state; idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	ch := s.stopCh
	s.stopCh = nil
	running := s.running
	s.mu.Unlock()

	if ch != nil {
		close(ch)
		return
	}
	if !running && s.State() != StateClosed {
		s.setState(StateClosed, nil)
	}
}

// Done returns a channel closed when the current run loop has exited, or
// nil if Start has not been called.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// run drives connect → authenticate → open → reconnect cycles until
// stopped, abandoned, or rejected by the server.
func (s *Supervisor) run(ctx context.Context, endpoint string, stopCh <-chan struct{}, done chan struct{}) {
	defer close(done)

	attempts := 0
	termErr := error(nil)
	termStatus := StatusDisconnected
	termReason := ""

loop:
	for {
		err := s.runConnection(ctx, endpoint, stopCh, &attempts)

		switch {
		case errors.Is(err, errStopped) || ctx.Err() != nil:
			break loop

		case isAuthFailure(err):
			s.log.WithError(err).Warn("server rejected token, not retrying")
			termErr = ErrAuthFailed
			termReason = "authentication rejected"
			break loop
		}

		attempts++
		metrics.Reconnects.Inc()

		if s.cfg.Backoff.Exhausted(attempts) {
			s.log.WithFields(logrus.Fields{
				"attempts": attempts,
			}).Warn("reconnection attempts exhausted")
			termErr = ErrAbandoned
			termStatus = StatusAbandoned
			termReason = err.Error()
			break loop
		}

		delay := s.cfg.Backoff.Delay(attempts)
		s.setState(StateReconnecting, err)
		s.statusEvent(StatusReconnecting, attempts, err.Error())
		s.log.WithFields(logrus.Fields{
			"attempt": attempts,
			"delay":   delay.String(),
		}).Info("scheduling reconnect")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-stopCh:
			timer.Stop()
			break loop
		case <-ctx.Done():
			timer.Stop()
			break loop
		}
	}

	s.mu.Lock()
	s.running = false
	s.stopCh = nil
	s.mu.Unlock()

	s.setState(StateClosed, termErr)
	s.statusEvent(termStatus, attempts, termReason)
}

// runConnection handles a single connection generation from dial to
// failure. It returns errStopped on user stop, a CloseError carrying the
// server's close code, or the transport/heartbeat error that killed the
// connection.
func (s *Supervisor) runConnection(ctx context.Context, endpoint string, stopCh <-chan struct{}, attempts *int) error {
	gen := s.gen.Add(1)
	s.disp.SetGeneration(gen)
	s.codec.ResetSession()
	s.setState(StateConnecting, nil)

	dialCtx, cancelDial := context.WithTimeout(ctx, s.cfg.DialTimeout)
	conn, err := s.dialer.Dial(dialCtx, endpoint)
	cancelDial()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "client closing") //nolint:errcheck // best-effort close on teardown

	s.setState(StateAuthenticating, nil)

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	frames := make(chan []byte, frameBuffer)
	readErr := make(chan error, 1)
	go readPump(readCtx, conn, frames, readErr)

	authTimer := time.NewTimer(s.cfg.AuthTimeout)
	defer authTimer.Stop()

	var pingC <-chan time.Time
	missedPongs := 0
	open := false

	for {
		select {
		case <-stopCh:
			return errStopped

		case <-ctx.Done():
			return ctx.Err()

		case <-authTimer.C:
			if !open {
				return ErrAuthTimeout
			}

		case err := <-readErr:
			return err

		case data := <-frames:
			evt, derr := s.codec.Decode(data, gen)
			if derr != nil {
				// Bad frames never destabilize the channel; codec logged it.
				s.log.WithError(derr).Debug("frame dropped")
				continue
			}

			if !open && evt.Type == EventConnectionEstablished {
				open = true
				authTimer.Stop()
				*attempts = 0
				s.setState(StateOpen, nil)
				s.statusEvent(StatusConnected, 0, "")

				ticker := time.NewTicker(s.cfg.PingInterval)
				defer ticker.Stop()
				pingC = ticker.C

				s.disp.Dispatch(evt)

				if err := s.flush(ctx, conn); err != nil {
					return err
				}
				continue
			}

			s.disp.Dispatch(evt)

		case <-s.kick:
			if open {
				if err := s.flush(ctx, conn); err != nil {
					return err
				}
			}

		case <-pingC:
			if s.ping(ctx, conn) {
				missedPongs = 0
				continue
			}
			missedPongs++
			if missedPongs >= s.cfg.MaxMissedPongs {
				s.log.WithField("missed", missedPongs).Warn("heartbeat lost, declaring connection dead")
				return ErrHeartbeat
			}
		}
	}
}

// readPump forwards frames from the transport until it fails. Frames are
// delivered in arrival order; the channel buffer never reorders.
func readPump(ctx context.Context, conn Conn, frames chan<- []byte, readErr chan<- error) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

// flush drains the outbound queue in FIFO order. Messages left unsent when
// a write fails are requeued for the next connection.
func (s *Supervisor) flush(ctx context.Context, conn Conn) error {
	pending := s.queue.Drain()
	for i, m := range pending {
		data, err := m.encode()
		if err != nil {
			s.log.WithError(err).WithField("type", m.Type).Warn("dropping unencodable outbound message")
			continue
		}

		writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		err = conn.Write(writeCtx, data)
		cancel()

		if err != nil {
			s.queue.Requeue(pending[i:])
			return err
		}
	}
	return nil
}

// ping sends one heartbeat. Returns false when the pong did not arrive in
// time.
func (s *Supervisor) ping(ctx context.Context, conn Conn) bool {
	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		s.log.WithError(err).Debug("ping failed")
		return false
	}
	return true
}

// setState records a transition and notifies the state handler. A nil err
// on StateOpen clears last_error.
func (s *Supervisor) setState(st State, err error) {
	s.state.Store(int32(st))
	metrics.ConnectionState.Set(float64(st))

	s.mu.Lock()
	if err != nil {
		s.lastErr = err
	} else if st == StateOpen {
		s.lastErr = nil
	}
	s.mu.Unlock()

	if s.onState != nil {
		s.onState(st, err)
	}
}

// statusEvent synthesizes a local connection_status event for subscribers
// (generation zero, so it is never filtered as stale).
func (s *Supervisor) statusEvent(status string, attempts int, reason string) {
	s.disp.Dispatch(Event{
		Type: EventConnectionStatus,
		Payload: ConnectionStatus{
			Status:   status,
			Attempts: attempts,
			Reason:   reason,
		},
		ReceivedAt: time.Now(),
	})
}
