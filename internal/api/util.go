package api

import "encoding/json"

// mustMarshalCompact renders a tool-use input map as a JSON string for the
// OpenAI tool_calls[].function.arguments field, which is always a string
// even though the upstream/Anthropic shape carries it as an object.
func mustMarshalCompact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
