package channel

import (
	"encoding/json"
	"time"
)

// EventType discriminates decoded realtime events.
type EventType string

// Known event types emitted by the ContractDesk realtime endpoint.
const (
	EventConnectionEstablished EventType = "connection_established"
	EventContractUpdated       EventType = "contract_updated"
	EventBulkOperationProgress EventType = "bulk_operation_progress"
	EventUserActivity          EventType = "user_activity"
	EventSystemNotification    EventType = "system_notification"

	// EventConnectionStatus is synthesized locally by the Supervisor on
	// connection state changes; it never arrives on the wire.
	EventConnectionStatus EventType = "connection_status"

	// EventUnknown wraps frames whose type is not recognized, so newer
	// servers can add event types without breaking older clients.
	EventUnknown EventType = "unknown"

	// EventWildcard subscribes to all traffic.
	EventWildcard EventType = "*"
)

// Event is an immutable decoded realtime message.
type Event struct {
	Type EventType

	// Payload holds the typed payload struct for the event's Type, or the
	// raw frame for EventUnknown.
	Payload any

	// Raw is the frame as received, retained for wildcard/audit subscribers.
	Raw json.RawMessage

	// Timestamp is the server-side timestamp. Advisory only: clock skew is
	// expected, ReceivedAt is authoritative for ordering and staleness.
	Timestamp time.Time

	// ReceivedAt is assigned client-side when the frame is decoded.
	ReceivedAt time.Time

	// Generation identifies the connection the event arrived on. Zero for
	// locally synthesized events, which are always dispatched.
	Generation uint64
}

// ConnectionEstablished is sent by the server once the channel is authenticated.
type ConnectionEstablished struct {
	UserID string `json:"user_id"`
}

// UpdatedBy identifies the user who performed a contract mutation.
type UpdatedBy struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ContractUpdated notifies subscribers of a contract mutation.
type ContractUpdated struct {
	ContractID string    `json:"contract_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	UpdatedBy  UpdatedBy `json:"updated_by"`
	Changes    []string  `json:"changes"`
}

// Bulk operation status values.
const (
	BulkStatusRunning   = "RUNNING"
	BulkStatusCompleted = "COMPLETED"
	BulkStatusFailed    = "FAILED"
)

// BulkOperationProgress reports progress of a long-running bulk operation.
type BulkOperationProgress struct {
	OperationID        string  `json:"operation_id"`
	OperationType      string  `json:"operation_type"`
	ProgressPercentage float64 `json:"progress_percentage"`
	ProcessedCount     int64   `json:"processed_count"`
	TotalCount         int64   `json:"total_count"`
	Status             string  `json:"status"`
}

// ActivityUser identifies the user behind a presence event.
type ActivityUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserActivity is a collaborative-presence event (viewing, editing a field).
type UserActivity struct {
	ActivityType string       `json:"activity_type"`
	ContractID   string       `json:"contract_id"`
	User         ActivityUser `json:"user"`
	Field        string       `json:"field,omitempty"`
}

// SystemNotification is a system-wide alert (maintenance window, quota, ...).
type SystemNotification struct {
	NotificationType string `json:"notification_type"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	Severity         string `json:"severity"`
	ActionRequired   bool   `json:"action_required"`
	ActionURL        string `json:"action_url,omitempty"`
}

// Connection status values carried by ConnectionStatus events.
const (
	StatusConnected    = "connected"
	StatusReconnecting = "reconnecting"
	StatusDisconnected = "disconnected"
	StatusAbandoned    = "abandoned"
)

// ConnectionStatus is the payload of locally synthesized EventConnectionStatus
// events. It drives connection indicators without coupling the UI to the
// Supervisor's state machine.
type ConnectionStatus struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
