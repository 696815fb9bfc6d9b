package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/claude-bridge/backend/internal/buffer"
	"github.com/claude-bridge/backend/internal/session"
)

// keepaliveInterval is how often an SSE ping goes out when the session is
// quiet, so proxies and mobile radios keep the connection open.
const keepaliveInterval = 15 * time.Second

// StreamHandler serves the SSE event stream for a session.
type StreamHandler struct {
	registry *session.Registry
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(registry *session.Registry) *StreamHandler {
	return &StreamHandler{registry: registry}
}

// Stream handles GET /api/sessions/:id/stream. Events the client already
// has are skipped by passing last_event_id (or the Last-Event-ID header);
// missed events are replayed before live delivery starts.
func (h *StreamHandler) Stream(c *gin.Context) {
	sess, err := h.registry.GetOrResume(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendSessionError(c, err)
		return
	}

	lastEventID := int64(0)
	raw := c.Query("last_event_id")
	if raw == "" {
		raw = c.GetHeader("Last-Event-ID")
	}
	if raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "last_event_id must be a non-negative integer")
			return
		}
		lastEventID = id
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	replay, sub := sess.Subscribe(lastEventID)
	defer sess.Unsubscribe(sub)

	for _, ev := range replay {
		if err := writeSSE(c.Writer, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				// Session ended; the exit event was already delivered.
				return
			}
			if err := writeSSE(c.Writer, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprintf(c.Writer, "event: ping\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes one event in SSE wire format. Pings carry no id; they
// are keepalives, not part of the replayable stream.
func writeSSE(w http.ResponseWriter, ev buffer.BufferedEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if ev.ID > 0 {
		_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ev.Type, ev.ID, data)
	} else {
		_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	}
	return err
}

// RegisterRoutes registers the stream route on a Gin router group.
func (h *StreamHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions/:id/stream", h.Stream)
}
