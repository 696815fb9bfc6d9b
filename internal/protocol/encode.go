package protocol

import (
	"encoding/json"
	"fmt"
)

// EncodeUserMessage builds the stream-json line for a user text message
// bound for the subprocess's stdin. The returned line has no trailing
// newline.
func EncodeUserMessage(content string) ([]byte, error) {
	line := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	return json.Marshal(line)
}

// EncodeCommand re-tags a client command frame for the subprocess. The
// frame's payload is forwarded as-is with the given wire type; permission
// answers and tool results pass through the server untouched.
func EncodeCommand(wireType string, payload json.RawMessage) ([]byte, error) {
	var fields map[string]json.RawMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("malformed command payload: %w", err)
		}
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	typeTag, err := json.Marshal(wireType)
	if err != nil {
		return nil, err
	}
	fields["type"] = typeTag
	return json.Marshal(fields)
}
