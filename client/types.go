package client

import "time"

// HealthResponse is the liveness check payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// LoginRequest is the payload for password authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is the authenticated session returned by login and refresh.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RealtimeStats is the aggregate realtime channel statistics payload,
// consumed read-only for status dashboards.
type RealtimeStats struct {
	ActiveConnections int     `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	EventsSent        int64   `json:"events_sent"`
	ErrorCount        int64   `json:"error_count"`
}
