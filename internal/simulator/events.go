package simulator

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contractdesk/realtime/internal/metrics"
)

// bulkSteps is the percentage schedule a simulated bulk operation walks
// through before completing.
var bulkSteps = []int{10, 35, 60, 85, 100}

// frame assembles a wire frame of the given type with a current timestamp.
func frame(eventType string, fields map[string]any) []byte {
	m := map[string]any{
		"type":      eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		m[k] = v
	}

	data, err := json.Marshal(m)
	if err != nil {
		// Only reachable with non-marshalable field values.
		return nil
	}

	return data
}

func (s *Server) countEvent(eventType string) {
	s.eventsSent.Add(1)
	metrics.SimEventsSent.WithLabelValues(eventType).Inc()
}

func (s *Server) emit(eventType string, fields map[string]any) {
	data := frame(eventType, fields)
	if data == nil {
		s.errorCount.Add(1)

		return
	}

	s.hub.Broadcast(data)
	s.countEvent(eventType)
}

// connectionEstablished builds the per-connection welcome frame.
func (s *Server) connectionEstablished(userID string) []byte {
	return frame("connection_established", map[string]any{
		"user_id":    userID,
		"session_id": uuid.NewString(),
	})
}

// EmitContractUpdated broadcasts a contract change to all clients.
func (s *Server) EmitContractUpdated(contractID, title, status, updatedBy string) {
	s.emit("contract_updated", map[string]any{
		"contract_id": contractID,
		"title":       title,
		"status":      status,
		"updated_by":  map[string]any{"id": "u-" + updatedBy, "name": updatedBy},
		"changes":     []string{"status"},
	})
}

// EmitUserActivity broadcasts a presence event.
func (s *Server) EmitUserActivity(userID, userName, contractID, activityType string) {
	s.emit("user_activity", map[string]any{
		"activity_type": activityType,
		"contract_id":   contractID,
		"user": map[string]any{
			"id":    userID,
			"name":  userName,
			"email": strings.ToLower(userName) + "@acme.test",
		},
	})
}

// EmitSystemNotification broadcasts a banner notification.
func (s *Server) EmitSystemNotification(notificationType, title, message, severity string) {
	s.emit("system_notification", map[string]any{
		"notification_type": notificationType,
		"title":             title,
		"message":           message,
		"severity":          severity,
		"action_required":   false,
	})
}

// RunBulkOperation emits a scripted bulk_operation_progress sequence for
// the given operation, stepping through the fixed percentage schedule with
// stepDelay between frames. The final frame carries status COMPLETED.
// Blocks until done or the context is cancelled.
func (s *Server) RunBulkOperation(ctx context.Context, operationID, operationType string, total int64, stepDelay time.Duration) {
	for i, pct := range bulkSteps {
		if i > 0 && stepDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(stepDelay):
			}
		}

		status := "RUNNING"
		if pct == 100 {
			status = "COMPLETED"
		}

		s.emit("bulk_operation_progress", map[string]any{
			"operation_id":        operationID,
			"operation_type":      operationType,
			"progress_percentage": pct,
			"processed_count":     total * int64(pct) / 100,
			"total_count":         total,
			"status":              status,
		})
	}
}

// Canned tick data. Variety matters more than realism here.
var (
	tickStatuses = []string{"DRAFT", "IN_REVIEW", "APPROVED", "EXECUTED"}
	tickActions  = []string{"viewing", "editing", "commenting"}
	tickTitles   = []string{
		"Master Services Agreement",
		"Vendor NDA",
		"SaaS Subscription Order",
		"Data Processing Addendum",
	}
	tickUsers = []string{"Dana", "Priya", "Marcus", "Yuki"}
)

// tickLoop emits a random synthetic event every TickInterval, with an
// occasional full bulk operation. Exits when the context is cancelled.
func (s *Server) tickLoop(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // simulation data, not security

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		switch rng.Intn(10) {
		case 0:
			s.EmitSystemNotification("maintenance", "Scheduled maintenance",
				"Scheduled maintenance window this weekend", "info")
		case 1, 2:
			go s.RunBulkOperation(ctx,
				uuid.NewString(), "contract_export",
				int64(50+rng.Intn(500)), s.cfg.TickInterval/5)
		case 3, 4, 5:
			s.EmitUserActivity(
				"u-"+uuid.NewString(),
				tickUsers[rng.Intn(len(tickUsers))],
				"c-"+uuid.NewString(),
				tickActions[rng.Intn(len(tickActions))])
		default:
			s.EmitContractUpdated(
				"c-"+uuid.NewString(),
				tickTitles[rng.Intn(len(tickTitles))],
				tickStatuses[rng.Intn(len(tickStatuses))],
				tickUsers[rng.Intn(len(tickUsers))])
		}
	}
}
