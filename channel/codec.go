package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/contractdesk/realtime/internal/metrics"
)

// Codec validates and parses inbound text frames into typed Events.
//
// A Codec is owned by the Supervisor's run loop and is not safe for
// concurrent use. Session identity is captured from the first
// connection_established frame and checked against subsequent frames.
type Codec struct {
	log *logrus.Logger

	// userID is the authenticated session user, learned from
	// connection_established. Frames claiming a different user are
	// rejected as cross-session leakage.
	userID string
}

// NewCodec creates a Codec logging through log.
func NewCodec(log *logrus.Logger) *Codec {
	return &Codec{log: log}
}

// ResetSession clears the captured session identity. Called by the
// Supervisor before each (re)connection attempt.
func (c *Codec) ResetSession() { c.userID = "" }

// envelope is the minimal shape every inbound frame must satisfy.
type envelope struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Decode parses a frame into an Event stamped with the given connection
// generation. Recognized types with malformed payloads and security-suspect
// frames yield an error and must be dropped by the caller; unrecognized
// types decode successfully as EventUnknown.
func (c *Codec) Decode(data []byte, gen uint64) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.EventsDropped.WithLabelValues("decode").Inc()
		return Event{}, &DecodeError{Reason: "malformed frame", Err: err}
	}
	if env.Type == "" {
		metrics.EventsDropped.WithLabelValues("decode").Inc()
		return Event{}, &DecodeError{Reason: "frame missing type"}
	}

	if err := c.checkSession(env); err != nil {
		metrics.EventsDropped.WithLabelValues("security").Inc()
		c.log.WithFields(logrus.Fields{
			"type":    env.Type,
			"user_id": env.UserID,
		}).Warn("rejected frame from foreign session")
		return Event{}, err
	}

	evt := Event{
		Type:       EventType(env.Type),
		Raw:        json.RawMessage(data),
		ReceivedAt: time.Now(),
		Generation: gen,
	}
	if ts, err := time.Parse(time.RFC3339, env.Timestamp); err == nil {
		evt.Timestamp = ts
	}

	payload, err := decodePayload(evt.Type, data)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("decode").Inc()
		return Event{}, err
	}
	evt.Payload = payload

	if est, ok := payload.(ConnectionEstablished); ok && c.userID == "" {
		c.userID = est.UserID
	}
	if _, ok := payload.(json.RawMessage); ok {
		evt.Type = EventUnknown
	}

	return evt, nil
}

// checkSession rejects frames that claim an identity other than the one
// established on this connection. Defense in depth against cross-tab or
// cross-session leakage; connection_established itself establishes identity.
func (c *Codec) checkSession(env envelope) error {
	if env.Type == string(EventConnectionEstablished) {
		return nil
	}
	if env.UserID != "" && c.userID != "" && env.UserID != c.userID {
		return &SecurityError{Reason: fmt.Sprintf("frame user %q does not match session user", env.UserID)}
	}
	return nil
}

// decodePayload validates the type-specific required shape. Unrecognized
// types return the raw frame so they can be dispatched as EventUnknown.
func decodePayload(t EventType, data []byte) (any, error) {
	switch t {
	case EventConnectionEstablished:
		var p ConnectionEstablished
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &DecodeError{Reason: "connection_established payload", Err: err}
		}
		if p.UserID == "" {
			return nil, &DecodeError{Reason: "connection_established missing user_id"}
		}
		return p, nil

	case EventContractUpdated:
		var p ContractUpdated
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &DecodeError{Reason: "contract_updated payload", Err: err}
		}
		if p.ContractID == "" || p.Title == "" || p.Status == "" {
			return nil, &DecodeError{Reason: "contract_updated missing required fields"}
		}
		return p, nil

	case EventBulkOperationProgress:
		var p BulkOperationProgress
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &DecodeError{Reason: "bulk_operation_progress payload", Err: err}
		}
		switch {
		case p.OperationID == "":
			return nil, &DecodeError{Reason: "bulk_operation_progress missing operation_id"}
		case p.ProgressPercentage < 0 || p.ProgressPercentage > 100:
			return nil, &DecodeError{Reason: "bulk_operation_progress percentage out of range"}
		case p.ProcessedCount > p.TotalCount:
			return nil, &DecodeError{Reason: "bulk_operation_progress processed exceeds total"}
		}
		switch p.Status {
		case BulkStatusRunning, BulkStatusCompleted, BulkStatusFailed:
		default:
			return nil, &DecodeError{Reason: fmt.Sprintf("bulk_operation_progress unknown status %q", p.Status)}
		}
		return p, nil

	case EventUserActivity:
		var p UserActivity
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &DecodeError{Reason: "user_activity payload", Err: err}
		}
		if p.ActivityType == "" || p.User.ID == "" {
			return nil, &DecodeError{Reason: "user_activity missing required fields"}
		}
		return p, nil

	case EventSystemNotification:
		var p SystemNotification
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &DecodeError{Reason: "system_notification payload", Err: err}
		}
		if p.NotificationType == "" || p.Title == "" || p.Message == "" {
			return nil, &DecodeError{Reason: "system_notification missing required fields"}
		}
		return p, nil

	default:
		return json.RawMessage(data), nil
	}
}
