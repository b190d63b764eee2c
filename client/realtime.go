package client

import "context"

// RealtimeService reads aggregate realtime channel statistics. The stats
// endpoint is polled independently of the websocket channel to drive
// status dashboards.
type RealtimeService struct {
	c *Client
}

// Stats returns active connection counts, uptime and error totals.
func (s *RealtimeService) Stats(ctx context.Context) (*RealtimeStats, error) {
	var resp RealtimeStats
	if err := s.c.get(ctx, "/api/v1/realtime/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
