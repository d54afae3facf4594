// Package upstreamevent classifies decoded EventStream payloads into a
// small tagged union. Classification is by field presence, not by a fixed
// schema, because the upstream's payload shapes are heterogeneous and
// loosely documented.
package upstreamevent

import (
	"encoding/json"
	"strings"
)

// Kind identifies which variant of Event is populated.
type Kind int

const (
	KindUnknown Kind = iota
	KindTextDelta
	KindToolUseStart
	KindToolUseDelta
	KindToolUseStop
	KindException
	KindMetadata
	// KindThinkingDelta is an extension beyond the base six upstream event
	// kinds: real upstream traffic carries reasoning content alongside
	// assistant text, nested under a "reasoningContent" field. Consumers
	// that don't care about thinking blocks may treat this as metadata.
	KindThinkingDelta
)

// Event is the tagged union produced by Interpret. Only the fields relevant
// to Kind are meaningful.
type Event struct {
	Kind Kind

	// text_delta
	Content string

	// tool_use_start / tool_use_delta / tool_use_stop
	ToolUseID string
	Name      string
	// InputFragment holds a streamed fragment. FragmentIsObject
	// distinguishes "replace accumulated fragments" (object) from
	// "append" (string) semantics.
	InputFragment    string
	FragmentIsObject bool

	// exception
	ExceptionType string

	// metadata
	ConversationID string

	// thinking delta (extension)
	ThinkingContent string
}

var droppedToolNames = map[string]bool{
	"web_search": true,
	"websearch":  true,
}

// Interpret parses a raw payload (already stripped of framing) into an
// Event. Non-JSON payloads are classified as KindUnknown rather than
// surfaced as an error — the caller should debug-log and continue.
func Interpret(payload []byte) Event {
	if len(payload) == 0 {
		return Event{Kind: KindUnknown}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{Kind: KindUnknown}
	}

	// Some frames nest the actual event under "assistantResponseEvent".
	if inner, ok := raw["assistantResponseEvent"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err == nil {
			raw = nested
		}
	}

	return classify(raw)
}

func classify(raw map[string]json.RawMessage) Event {
	exceptionType := firstString(raw, "exception_type", "__type")
	if exceptionType != "" {
		return Event{Kind: KindException, ExceptionType: exceptionType}
	}

	if content, ok := stringField(raw, "content"); ok {
		return Event{Kind: KindTextDelta, Content: content}
	}

	if reasoning, ok := raw["reasoningContent"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(reasoning, &nested); err == nil {
			if text, ok := stringField(nested, "content"); ok {
				return Event{Kind: KindThinkingDelta, ThinkingContent: text}
			}
		}
	}

	toolUseID, hasToolUseID := stringField(raw, "toolUseId")
	if hasToolUseID {
		if stop, ok := boolField(raw, "stop"); ok && stop {
			return Event{Kind: KindToolUseStop, ToolUseID: toolUseID}
		}
		name, hasName := stringField(raw, "name")
		fragment, fragIsObj, hasInput := inputField(raw)
		if hasName {
			if droppedToolNames[strings.ToLower(name)] {
				return Event{Kind: KindUnknown}
			}
			return Event{
				Kind:             KindToolUseStart,
				ToolUseID:        toolUseID,
				Name:             name,
				InputFragment:    fragment,
				FragmentIsObject: fragIsObj,
			}
		}
		if hasInput {
			return Event{
				Kind:             KindToolUseDelta,
				ToolUseID:        toolUseID,
				InputFragment:    fragment,
				FragmentIsObject: fragIsObj,
			}
		}
	}

	if convID, ok := stringField(raw, "conversationId"); ok {
		return Event{Kind: KindMetadata, ConversationID: convID}
	}

	return Event{Kind: KindUnknown}
}

func firstString(raw map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if v, ok := stringField(raw, k); ok {
			return v
		}
	}
	return ""
}

func stringField(raw map[string]json.RawMessage, key string) (string, bool) {
	rm, ok := raw[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(rm, &s); err != nil {
		return "", false
	}
	return s, true
}

func boolField(raw map[string]json.RawMessage, key string) (bool, bool) {
	rm, ok := raw[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(rm, &b); err != nil {
		return false, false
	}
	return b, true
}

// inputField reports the "input" field, if present, as a fragment string
// plus whether it arrived as a JSON object (true) or a string (false).
func inputField(raw map[string]json.RawMessage) (fragment string, isObject bool, present bool) {
	rm, ok := raw["input"]
	if !ok {
		return "", false, false
	}
	var s string
	if err := json.Unmarshal(rm, &s); err == nil {
		return s, false, true
	}
	// Not a JSON string: treat the raw JSON text as the object fragment.
	return string(rm), true, true
}
