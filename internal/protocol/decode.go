package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawLine is the envelope shared by every stream-json line.
type rawLine struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`

	// system init fields
	SessionID string   `json:"session_id,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`

	// result fields
	Result       string   `json:"result,omitempty"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`

	// control_request / control_response
	RequestID string          `json:"request_id,omitempty"`
	Request   *controlPayload `json:"request,omitempty"`
	Response  *responseWrap   `json:"response,omitempty"`
}

type controlPayload struct {
	Subtype     string          `json:"subtype,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	BlockedPath string          `json:"blocked_path,omitempty"`
}

type responseWrap struct {
	RequestID string         `json:"request_id,omitempty"`
	Response  *innerResponse `json:"response,omitempty"`
}

type innerResponse struct {
	Behavior string `json:"behavior,omitempty"`
}

type rawMessage struct {
	Type    string          `json:"type,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Text    string          `json:"text,omitempty"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// DecodeLine decodes one subprocess output line into a domain event.
// The second return is false when the line is recognized but carries
// nothing for subscribers (unknown types, non-permission control
// frames). Malformed JSON returns an error.
func DecodeLine(line []byte) (Event, bool, error) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{}, false, fmt.Errorf("malformed stream line: %w", err)
	}

	switch raw.Type {
	case "system":
		// Every system subtype flows through; subscribers dispatch on
		// the subtype field.
		return Event{Type: EventSystemInit, Data: SystemInit{
			Subtype:   raw.Subtype,
			SessionID: raw.SessionID,
			Model:     raw.Model,
			Tools:     raw.Tools,
		}}, true, nil

	case "assistant":
		msg, err := decodeAssistant(raw.Message)
		if err != nil {
			return Event{}, false, err
		}
		return Event{Type: EventAssistant, Data: msg}, true, nil

	case "result":
		return Event{Type: EventResult, Data: Result{
			Result:       raw.Result,
			TotalCostUSD: raw.TotalCostUSD,
		}}, true, nil

	case "user":
		msg, err := decodeUser(raw.Message)
		if err != nil {
			return Event{}, false, err
		}
		return Event{Type: EventUser, Data: msg}, true, nil

	case "control_request":
		if raw.Request == nil || raw.Request.Subtype != "can_use_tool" {
			return Event{}, false, nil
		}
		return Event{Type: EventControlRequest, Data: ControlRequest{
			RequestID:   raw.RequestID,
			ToolName:    raw.Request.ToolName,
			ToolInput:   raw.Request.Input,
			BlockedPath: raw.Request.BlockedPath,
		}}, true, nil

	case "control_response":
		if raw.Response == nil {
			return Event{}, false, nil
		}
		approved := raw.Response.Response != nil && raw.Response.Response.Behavior == "allow"
		return Event{Type: EventControlResponse, Data: ControlResponse{
			RequestID: raw.Response.RequestID,
			Approved:  approved,
		}}, true, nil

	case "ping":
		return Event{Type: EventPing, Data: struct{}{}}, true, nil

	default:
		return Event{}, false, nil
	}
}

func decodeAssistant(data []byte) (AssistantMessage, error) {
	if len(data) == 0 {
		return AssistantMessage{}, nil
	}
	var msg rawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return AssistantMessage{}, fmt.Errorf("malformed assistant message: %w", err)
	}

	// Some agent builds send a single content block directly as the
	// message instead of wrapping it in a content array.
	if msg.Type != "" && len(msg.Content) == 0 {
		return AssistantMessage{Content: []ContentBlock{{
			Type:  msg.Type,
			Text:  msg.Text,
			ID:    msg.ID,
			Name:  msg.Name,
			Input: msg.Input,
		}}}, nil
	}

	blocks, err := decodeBlocks(msg.Content)
	if err != nil {
		return AssistantMessage{}, err
	}
	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, ContentBlock{
			Type:  b.Type,
			Text:  b.Text,
			ID:    b.ID,
			Name:  b.Name,
			Input: b.Input,
		})
	}
	return AssistantMessage{Content: out}, nil
}

func decodeUser(data []byte) (UserMessage, error) {
	if len(data) == 0 {
		return UserMessage{}, nil
	}
	var msg rawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return UserMessage{}, fmt.Errorf("malformed user message: %w", err)
	}

	// Plain string content.
	var s string
	if err := json.Unmarshal(msg.Content, &s); err == nil {
		return UserMessage{Content: s}, nil
	}

	blocks, err := decodeBlocks(msg.Content)
	if err != nil {
		return UserMessage{}, err
	}

	// A tool_result as the first block flattens the whole message.
	if len(blocks) > 0 && blocks[0].Type == "tool_result" {
		b := blocks[0]
		return UserMessage{
			Content:      flattenContent(b.Content),
			ToolUseID:    b.ToolUseID,
			IsError:      b.IsError,
			IsToolResult: true,
		}, nil
	}

	var texts []string
	for _, b := range blocks {
		if b.Type == "text" {
			texts = append(texts, b.Text)
		}
	}
	return UserMessage{Content: strings.Join(texts, "\n")}, nil
}

func decodeBlocks(data []byte) ([]rawBlock, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var blocks []rawBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("malformed content blocks: %w", err)
	}
	return blocks, nil
}

// flattenContent reduces a tool_result's content to one string: the value
// itself when it is a string, joined text blocks when it is a block array,
// and the raw JSON otherwise.
func flattenContent(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var blocks []rawBlock
	if err := json.Unmarshal(data, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(data)
}
