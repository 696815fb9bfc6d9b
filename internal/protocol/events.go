// Package protocol translates between the agent CLI's stream-json protocol
// (newline-delimited JSON on the subprocess's stdin/stdout) and the typed
// domain events the rest of the server works with.
package protocol

import "encoding/json"

// EventType tags a domain event. These are also the SSE event names on the
// stream endpoint.
type EventType string

const (
	EventSystemInit      EventType = "system_init"
	EventAssistant       EventType = "assistant"
	EventResult          EventType = "result"
	EventStatus          EventType = "status"
	EventExit            EventType = "exit"
	EventError           EventType = "error"
	EventUser            EventType = "user"
	EventControlRequest  EventType = "control_request"
	EventControlResponse EventType = "control_response"
	EventPing            EventType = "ping"
)

// Event is a typed domain event decoded from one subprocess output line,
// or synthesized by the session (status changes, exit). Data holds the
// payload struct for the event's type.
type Event struct {
	Type EventType
	Data any
}

// SystemInit is emitted once when the agent finishes initializing. The
// session id it carries is the agent's conversation id, used for resume.
type SystemInit struct {
	Subtype   string   `json:"subtype"`
	SessionID string   `json:"session_id"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

// ContentBlock is one element of an assistant message's content array.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// AssistantMessage carries the agent's response content blocks.
type AssistantMessage struct {
	Content []ContentBlock `json:"content"`
}

// Result marks the end of a user turn.
type Result struct {
	Result       string   `json:"result"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
}

// Status reports a session status transition to stream subscribers.
type Status struct {
	Status string `json:"status"`
}

// Exit reports the subprocess exit code.
type Exit struct {
	Code int `json:"code"`
}

// ErrorEvent reports a session-level error to stream subscribers.
type ErrorEvent struct {
	Message string `json:"message"`
}

// UserMessage is a user-role message echoed back by the agent, most
// commonly a tool result. For tool results the content is flattened to a
// single string.
type UserMessage struct {
	Content      string `json:"content"`
	ToolUseID    string `json:"tool_use_id,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
	IsToolResult bool   `json:"is_tool_result,omitempty"`
}

// ControlRequest is the agent asking permission to use a tool. The server
// relays it to clients without interpreting it.
type ControlRequest struct {
	RequestID   string          `json:"request_id"`
	ToolName    string          `json:"tool_name"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	BlockedPath string          `json:"blocked_path,omitempty"`
}

// ControlResponse is the client's allow/deny answer to a ControlRequest.
type ControlResponse struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
}
