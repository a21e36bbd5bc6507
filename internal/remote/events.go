package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bobarin/framecast/internal/models"
)

// EventStream reads push progress events for one job.
type EventStream struct {
	conn *websocket.Conn
}

// Subscribe opens the job's websocket event stream.
func (c *Client) Subscribe(ctx context.Context, jobID uuid.UUID) (*EventStream, error) {
	u := c.baseURL + fmt.Sprintf("/v1/jobs/%s/events", jobID)
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	h := http.Header{}
	c.authorize(h)

	conn, resp, err := c.dialer.DialContext(ctx, u, h)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, statusError("subscribe", resp)
		}
		return nil, fmt.Errorf("failed to dial job events: %w", err)
	}
	return &EventStream{conn: conn}, nil
}

// Next blocks until the next event arrives.
func (s *EventStream) Next() (models.JobEvent, error) {
	var ev models.JobEvent
	if err := s.conn.ReadJSON(&ev); err != nil {
		return ev, fmt.Errorf("failed to read job event: %w", err)
	}
	return ev, nil
}

func (s *EventStream) Close() error {
	return s.conn.Close()
}
