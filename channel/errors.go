package channel

import (
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// Sentinel errors surfaced by the channel.
var (
	// ErrTokenMissing is returned by Start when no bearer token is supplied.
	ErrTokenMissing = errors.New("channel: auth token missing")

	// ErrAlreadyRunning is returned by Start while a previous run is active.
	ErrAlreadyRunning = errors.New("channel: supervisor already running")

	// ErrAuthTimeout means connection_established was not received in time.
	ErrAuthTimeout = errors.New("channel: authentication timed out")

	// ErrAuthFailed means the server rejected the token. Not retried with
	// the same token; the caller must re-authenticate.
	ErrAuthFailed = errors.New("channel: authentication rejected")

	// ErrHeartbeat means consecutive pongs were missed and the connection
	// was declared dead.
	ErrHeartbeat = errors.New("channel: heartbeat lost")

	// ErrAbandoned means the reconnection policy gave up after exhausting
	// its attempt budget.
	ErrAbandoned = errors.New("channel: reconnection abandoned")

	// ErrQueueOverflow is passed to the rejected-write callback when a
	// critical outbound message is evicted from a full queue.
	ErrQueueOverflow = errors.New("channel: outbound queue overflow")

	// errStopped signals a user-initiated Stop to the run loop.
	errStopped = errors.New("channel: stopped")
)

// StatusAuthFailure is the application close code the server uses to reject
// an invalid or expired token during the websocket handshake.
const StatusAuthFailure = websocket.StatusCode(4001)

// CloseError reports the close code and reason of a terminated connection.
type CloseError struct {
	Code   websocket.StatusCode
	Reason string
}

// Error implements the error interface.
func (e *CloseError) Error() string {
	return fmt.Sprintf("channel: connection closed (code %d): %s", e.Code, e.Reason)
}

// isAuthFailure reports whether err is a server-issued auth-failure close.
func isAuthFailure(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == StatusAuthFailure
}

// DecodeError reports a frame the codec refused.
type DecodeError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel: decode: %s: %v", e.Reason, e.Err)
	}
	return "channel: decode: " + e.Reason
}

// Unwrap returns the underlying parse error, if any.
func (e *DecodeError) Unwrap() error { return e.Err }

// SecurityError reports a frame rejected because it appears to originate
// from a different session or an unauthenticated context.
type SecurityError struct {
	Reason string
}

// Error implements the error interface.
func (e *SecurityError) Error() string { return "channel: security: " + e.Reason }
