package sse

import (
	"encoding/json"
	"fmt"
)

// Done is the chat-completions terminal sentinel payload.
const Done = "[DONE]"

// Format renders one event. eventType may be empty.
func Format(eventType string, data []byte) []byte {
	out := make([]byte, 0, len(data)+len(eventType)+16)

	if eventType != "" {
		out = append(out, "event: "...)
		out = append(out, eventType...)
		out = append(out, '\n')
	}

	out = append(out, "data: "...)
	out = append(out, data...)

	return append(out, '\n', '\n')
}

// FormatJSON marshals v and renders it as one event.
func FormatJSON(eventType string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal sse payload: %w", err)
	}

	return Format(eventType, data), nil
}
