package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/claude-bridge/backend/internal/session"
	"github.com/claude-bridge/backend/internal/ws"
)

// WebSocketHandler handles WebSocket attach connections.
type WebSocketHandler struct {
	registry  *session.Registry
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(registry *session.Registry, wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		registry:  registry,
		wsHandler: wsHandler,
	}
}

// Attach handles WS /api/sessions/:id/ws - attaches to a session's
// event stream over WebSocket. last_event_id works the same way as on
// the SSE endpoint.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	sess, err := h.registry.GetOrResume(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendSessionError(c, err)
		return
	}

	lastEventID := int64(0)
	if raw := c.Query("last_event_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "last_event_id must be a non-negative integer")
			return
		}
		lastEventID = id
	}

	h.wsHandler.HandleConnection(c.Writer, c.Request, sess, lastEventID)
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions/:id/ws", h.Attach)
}
