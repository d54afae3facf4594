package sse

import "strings"

// ResolveAnthropicStopReason implements §4.E's mapping. Exception wins over
// any tool-use outcome (the resolved open question in the design notes),
// because client-visible truncation signalling must not be masked by a
// concurrently in-flight tool call.
func (s *State) ResolveAnthropicStopReason() string {
	if s.sawException {
		if strings.Contains(s.forcedFinishReason, "ContentLengthExceed") {
			return "max_tokens"
		}
		return "error"
	}
	if s.sawCompletedTools {
		return "tool_use"
	}
	if s.sawActiveTools {
		return "tool_use"
	}
	return "end_turn"
}

// ResolveOpenAIFinishReason projects the Anthropic stop reason onto
// OpenAI's finish_reason vocabulary.
func ResolveOpenAIFinishReason(anthropicStopReason string) string {
	switch anthropicStopReason {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "end_turn":
		return "stop"
	case "error":
		return "stop"
	default:
		return "stop"
	}
}
