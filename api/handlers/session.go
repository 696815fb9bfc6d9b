// Package handlers provides HTTP API request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/claude-bridge/backend/internal/model"
	"github.com/claude-bridge/backend/internal/session"
)

// defaultHistoryLines is how many buffered events Get returns when the
// client does not say.
const defaultHistoryLines = 200

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	registry  *session.Registry
	startTime time.Time
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *session.Registry) *SessionHandler {
	return &SessionHandler{
		registry:  registry,
		startTime: time.Now(),
	}
}

// InputRequest is the body of POST /api/sessions/:id/input. Type selects
// the action; the remaining fields depend on it.
type InputRequest struct {
	Type    string          `json:"type" binding:"required"`
	Content string          `json:"content"`
	Payload json.RawMessage `json:"payload"`
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	model.Session
	LastEventID int64           `json:"last_event_id"`
	Events      []EventResponse `json:"events,omitempty"`
}

// EventResponse is one buffered event in API responses.
type EventResponse struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendSessionError maps session errors onto HTTP responses.
func sendSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found")
	case errors.Is(err, model.ErrMaxSessions):
		sendError(c, http.StatusServiceUnavailable, "CAPACITY", "Maximum number of sessions reached")
	case errors.Is(err, model.ErrSessionDead):
		sendError(c, http.StatusBadRequest, "SESSION_DEAD", "Session process has exited")
	case errors.Is(err, model.ErrSessionDestroyed):
		sendError(c, http.StatusBadRequest, "SESSION_DESTROYED", "Session was destroyed")
	case errors.Is(err, model.ErrNotResumable):
		sendError(c, http.StatusBadRequest, "NOT_RESUMABLE", "Session has no conversation to resume")
	case errors.Is(err, model.ErrWorkingDirectory):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrContentRequired), errors.Is(err, model.ErrUnknownInputType):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// Create handles POST /api/sessions - starts a new agent session.
func (h *SessionHandler) Create(c *gin.Context) {
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	sess, err := h.registry.Create(c.Request.Context(), &req)
	if err != nil {
		sendSessionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(sess, 0))
}

// List handles GET /api/sessions - lists all sessions.
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.registry.List()

	response := make([]SessionResponse, 0, len(sessions))
	for _, snap := range sessions {
		response = append(response, SessionResponse{Session: snap})
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/sessions/:id - session metadata plus recent
// events. history_lines controls how many events come back; 0 disables
// the history.
func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		// An unloaded session with resume state can be brought back.
		sess, err = h.registry.GetOrResume(c.Request.Context(), c.Param("id"))
		if err != nil {
			sendSessionError(c, err)
			return
		}
	}

	lines := defaultHistoryLines
	if raw := c.Query("history_lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "history_lines must be a non-negative integer")
			return
		}
		lines = n
	}

	c.JSON(http.StatusOK, h.toResponse(sess, lines))
}

// Input handles POST /api/sessions/:id/input - routes one client frame
// into the session. A dead session with a known conversation is resumed
// first.
func (h *SessionHandler) Input(c *gin.Context) {
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	sess, err := h.registry.GetOrResume(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendSessionError(c, err)
		return
	}

	switch req.Type {
	case "user_message":
		err = sess.SendUserMessage(req.Content)
	case "control_response", "control_request", "tool_result":
		err = sess.SendCommand(req.Type, req.Payload)
	case "interrupt":
		err = sess.Interrupt()
	case "resize":
		// Terminal geometry is meaningless for a headless agent.
		err = nil
	default:
		err = model.ErrUnknownInputType
	}
	if err != nil {
		sendSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(sess.Status())})
}

// Resize handles POST /api/sessions/:id/resize. The agent has no
// terminal, so geometry is accepted and ignored.
func (h *SessionHandler) Resize(c *gin.Context) {
	if _, err := h.registry.Get(c.Param("id")); err != nil {
		sendSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Delete handles DELETE /api/sessions/:id - destroys a session and its
// resume state.
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.registry.Destroy(c.Request.Context(), c.Param("id")); err != nil {
		sendSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Version is reported by the health endpoint.
const Version = "0.3.0"

// Health handles GET /health.
func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"version":         Version,
		"uptime_seconds":  int(time.Since(h.startTime).Seconds()),
		"sessions_active": h.registry.ActiveCount(),
	})
}

func (h *SessionHandler) toResponse(sess *session.Session, historyLines int) SessionResponse {
	resp := SessionResponse{
		Session:     sess.Snapshot(),
		LastEventID: sess.LastEventID(),
	}
	if historyLines > 0 {
		events := sess.History(historyLines)
		resp.Events = make([]EventResponse, 0, len(events))
		for _, ev := range events {
			resp.Events = append(resp.Events, EventResponse{
				ID:        ev.ID,
				Event:     string(ev.Type),
				Data:      ev.Data,
				Timestamp: ev.Timestamp,
			})
		}
	}
	return resp
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.POST("/:id/input", h.Input)
		sessions.POST("/:id/resize", h.Resize)
		sessions.DELETE("/:id", h.Delete)
	}
}
