package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer and the API key
	CheckOrigin: func(r *http.Request) bool { return true },
}

// JobEvents handles GET /v1/jobs/{id}/events. The first message is the
// job's current state; the socket closes after a terminal event.
func (h *Handler) JobEvents(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "Push progress unavailable")
		return
	}
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before reading the snapshot so no transition falls between
	events, err := h.queue.SubscribeEvents(ctx, *job.JobID)
	if err != nil {
		h.fail(r, w, http.StatusServiceUnavailable, "Failed to subscribe to job events", err)
		return
	}
	if fresh, err := h.store.GetExportJob(ctx, *job.JobID); err == nil {
		job = fresh
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}
	defer conn.Close()

	logger := logx.FromCtx(ctx, h.logger).With().Str("job_id", job.JobID.String()).Logger()
	logger.Debug().Msg("event subscriber connected")

	// The read pump notices the client going away
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(ev models.JobEvent) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			logger.Debug().Err(err).Msg("event subscriber gone")
			return false
		}
		return !ev.Status.Terminal()
	}

	if !send(snapshotEvent(job)) {
		closeNormal(conn)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !send(ev) {
				closeNormal(conn)
				return
			}
		}
	}
}

func snapshotEvent(job *models.ExportJob) models.JobEvent {
	ev := models.JobEvent{Status: job.Status, Progress: job.ProgressPercent}
	if job.ErrorMessage != nil {
		ev.Error = *job.ErrorMessage
	}
	return ev
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
