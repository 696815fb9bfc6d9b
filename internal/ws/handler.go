package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/claude-bridge/backend/internal/buffer"
	"github.com/claude-bridge/backend/internal/model"
	"github.com/claude-bridge/backend/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventFrame is one outbound event on the WebSocket, mirroring the SSE
// wire format. Pings carry id 0.
type EventFrame struct {
	ID    int64  `json:"id,omitempty"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// InputFrame is one inbound client frame.
type InputFrame struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler upgrades connections and bridges them to sessions.
type Handler struct {
	log *slog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}

// HandleConnection upgrades the request and attaches it to the session:
// missed events replay first, then live events flow out while input
// frames flow in.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, sess *session.Session, lastEventID int64) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := newClient(conn)
	go client.writePump()

	replay, sub := sess.Subscribe(lastEventID)
	for _, ev := range replay {
		h.sendEvent(client, ev)
	}

	go h.forwardEvents(client, sess, sub)
	h.readPump(client, sess, sub)
	return nil
}

// forwardEvents copies live session events to the client until either
// side goes away.
func (h *Handler) forwardEvents(client *Client, sess *session.Session, sub *session.Subscriber) {
	defer client.close()

	for ev := range sub.Events() {
		if !h.sendEvent(client, ev) {
			sess.Unsubscribe(sub)
			return
		}
	}
}

func (h *Handler) sendEvent(client *Client, ev buffer.BufferedEvent) bool {
	frame, err := json.Marshal(EventFrame{
		ID:    ev.ID,
		Event: string(ev.Type),
		Data:  ev.Data,
	})
	if err != nil {
		h.log.Warn("failed to marshal event frame", "error", err)
		return true
	}
	if !client.enqueue(frame) {
		h.log.Warn("dropping slow websocket client")
		return false
	}
	return true
}

// readPump consumes input frames until the connection drops.
func (h *Handler) readPump(client *Client, sess *session.Session, sub *session.Subscriber) {
	defer func() {
		sess.Unsubscribe(sub)
		client.close()
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket closed", "error", err)
			}
			return
		}

		var frame InputFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			h.sendError(client, "invalid input frame")
			continue
		}
		if err := h.dispatch(sess, &frame); err != nil {
			h.sendError(client, err.Error())
		}
	}
}

// dispatch routes one input frame into the session.
func (h *Handler) dispatch(sess *session.Session, frame *InputFrame) error {
	switch frame.Type {
	case "user_message":
		return sess.SendUserMessage(frame.Content)
	case "control_response", "control_request", "tool_result":
		return sess.SendCommand(frame.Type, frame.Payload)
	case "interrupt":
		return sess.Interrupt()
	case "resize":
		return nil
	default:
		return model.ErrUnknownInputType
	}
}

func (h *Handler) sendError(client *Client, message string) {
	frame, err := json.Marshal(EventFrame{
		Event: "error",
		Data:  map[string]string{"message": message},
	})
	if err != nil {
		return
	}
	client.enqueue(frame)
}
