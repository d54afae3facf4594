package sse

import (
	"encoding/json"

	"github.com/kiro-gateway/kiro-gateway/internal/upstreamevent"
)

// Frame is one Anthropic SSE record: "event: <Event>\n" + "data: <json of
// Data>\n\n".
type Frame struct {
	Event string
	Data  any
}

// Emitter drives State from decoded upstream events and produces the
// Anthropic SSE event sequence described in §4.F. One Emitter per request;
// never shared across goroutines.
type Emitter struct {
	State *State
}

// NewEmitter creates an emitter with fresh per-stream state.
func NewEmitter(model string, inputTokens int) *Emitter {
	return &Emitter{State: NewState(model, inputTokens)}
}

// Start emits message_start followed by ping, exactly once, as the first
// events of the stream.
func (e *Emitter) Start() []Frame {
	return []Frame{
		{Event: "message_start", Data: map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":      e.State.MessageID,
				"type":    "message",
				"role":    "assistant",
				"model":   e.State.Model,
				"content": []any{},
				"stop_reason": nil,
				"usage": map[string]any{
					"input_tokens":  e.State.InputTokens,
					"output_tokens": 0,
				},
			},
		}},
		{Event: "ping", Data: map[string]any{"type": "ping"}},
	}
}

// Feed translates one upstream event into zero or more SSE frames. The
// block-lifecycle invariants described in §4.C hold by construction: a
// block's content_block_start is emitted before its first delta, and a tool
// block's content_block_stop is emitted at most once.
func (e *Emitter) Feed(ev upstreamevent.Event) []Frame {
	s := e.State
	switch ev.Kind {
	case upstreamevent.KindTextDelta:
		var out []Frame
		if !s.textBlockOpen {
			out = append(out, e.openTextBlock())
		}
		out = append(out, e.textDelta(ev.Content))
		return out

	case upstreamevent.KindThinkingDelta:
		var out []Frame
		if s.thinkingBlockIndex < 0 {
			out = append(out, e.openThinkingBlock())
		}
		out = append(out, e.thinkingDelta(ev.ThinkingContent))
		return out

	case upstreamevent.KindToolUseStart:
		return e.toolUseStart(ev)

	case upstreamevent.KindToolUseDelta:
		return e.toolUseDelta(ev)

	case upstreamevent.KindToolUseStop:
		return e.toolUseStop(ev)

	case upstreamevent.KindException:
		s.RecordException(ev.ExceptionType)
		return nil

	case upstreamevent.KindMetadata, upstreamevent.KindUnknown:
		return nil
	}
	return nil
}

func (e *Emitter) openTextBlock() Frame {
	s := e.State
	s.markStarted(textBlockIndex)
	s.textBlockOpen = true
	s.anyContentOpened = true
	return Frame{Event: "content_block_start", Data: map[string]any{
		"type":  "content_block_start",
		"index": textBlockIndex,
		"content_block": map[string]any{
			"type": "text",
			"text": "",
		},
	}}
}

func (e *Emitter) textDelta(text string) Frame {
	e.State.addOutputTokens(TextTokens(text))
	return Frame{Event: "content_block_delta", Data: map[string]any{
		"type":  "content_block_delta",
		"index": textBlockIndex,
		"delta": map[string]any{
			"type": "text_delta",
			"text": text,
		},
	}}
}

func (e *Emitter) openThinkingBlock() Frame {
	s := e.State
	idx := s.allocateToolBlock("") // borrows the shared dense index counter
	s.thinkingBlockIndex = idx
	s.markStarted(idx)
	s.anyContentOpened = true
	return Frame{Event: "content_block_start", Data: map[string]any{
		"type":  "content_block_start",
		"index": idx,
		"content_block": map[string]any{
			"type":     "thinking",
			"thinking": "",
		},
	}}
}

func (e *Emitter) thinkingDelta(text string) Frame {
	e.State.addOutputTokens(TextTokens(text))
	return Frame{Event: "content_block_delta", Data: map[string]any{
		"type":  "content_block_delta",
		"index": e.State.thinkingBlockIndex,
		"delta": map[string]any{
			"type":     "thinking_delta",
			"thinking": text,
		},
	}}
}

func (e *Emitter) toolUseStart(ev upstreamevent.Event) []Frame {
	s := e.State
	var out []Frame
	if _, ok := s.blockIndexForToolUse(ev.ToolUseID); ok {
		// Already started (fused start+delta already handled); treat as a
		// delta instead.
		return e.toolUseDelta(ev)
	}
	idx := s.allocateToolBlock(ev.ToolUseID)
	s.markStarted(idx)
	s.anyContentOpened = true
	s.sawActiveTools = true
	s.addOutputTokens(ToolUseStartTokens(ev.Name))

	out = append(out, Frame{Event: "content_block_start", Data: map[string]any{
		"type":  "content_block_start",
		"index": idx,
		"content_block": map[string]any{
			"type":  "tool_use",
			"id":    ev.ToolUseID,
			"name":  ev.Name,
			"input": map[string]any{},
		},
	}})

	if ev.InputFragment != "" {
		out = append(out, e.toolInputDelta(idx, ev.InputFragment))
	}
	return out
}

func (e *Emitter) toolUseDelta(ev upstreamevent.Event) []Frame {
	s := e.State
	idx, ok := s.blockIndexForToolUse(ev.ToolUseID)
	var out []Frame
	if !ok {
		// Delta arrived before start: synthesise a start with empty input,
		// per the documented edge policy.
		idx = s.allocateToolBlock(ev.ToolUseID)
		s.markStarted(idx)
		s.anyContentOpened = true
		s.sawActiveTools = true
		out = append(out, Frame{Event: "content_block_start", Data: map[string]any{
			"type":  "content_block_start",
			"index": idx,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    ev.ToolUseID,
				"name":  "",
				"input": map[string]any{},
			},
		}})
	}
	if ev.InputFragment == "" {
		return out
	}
	out = append(out, e.toolInputDelta(idx, ev.InputFragment))
	return out
}

func (e *Emitter) toolInputDelta(idx int, fragment string) Frame {
	e.State.addOutputTokens(ToolInputFragmentTokens(fragment))
	return Frame{Event: "content_block_delta", Data: map[string]any{
		"type":  "content_block_delta",
		"index": idx,
		"delta": map[string]any{
			"type":         "input_json_delta",
			"partial_json": fragment,
		},
	}}
}

func (e *Emitter) toolUseStop(ev upstreamevent.Event) []Frame {
	s := e.State
	idx, ok := s.blockIndexForToolUse(ev.ToolUseID)
	if !ok {
		return nil
	}
	s.markStopped(idx)
	// Record-then-remove: completedToolUseIDs gains the id before the
	// active map entry is dropped.
	s.completedToolUseIDs[ev.ToolUseID] = true
	s.sawCompletedTools = true
	delete(s.toolUseIDByBlock, idx)
	return []Frame{{Event: "content_block_stop", Data: map[string]any{
		"type":  "content_block_stop",
		"index": idx,
	}}}
}

// Finish closes any still-open blocks in ascending index order, resolves
// the stop reason, and emits the terminal message_delta/message_stop pair.
func (e *Emitter) Finish() []Frame {
	s := e.State
	var out []Frame
	for _, idx := range s.openBlockIndexesAscending() {
		s.markStopped(idx)
		out = append(out, Frame{Event: "content_block_stop", Data: map[string]any{
			"type":  "content_block_stop",
			"index": idx,
		}})
	}

	stopReason := s.ResolveAnthropicStopReason()
	out = append(out, Frame{Event: "message_delta", Data: map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": map[string]any{
			"output_tokens": s.FinalOutputTokens(),
		},
	}})
	out = append(out, Frame{Event: "message_stop", Data: map[string]any{
		"type": "message_stop",
	}})
	return out
}

// UpstreamErrorFrame builds the single error record emitted when the
// upstream HTTP response is non-2xx; no message_start precedes it.
func UpstreamErrorFrame(status int, body string) Frame {
	return Frame{Event: "error", Data: map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "upstream_error",
			"message": body,
			"status":  status,
		},
	}}
}

// Encode renders a Frame as its wire bytes: "event: <t>\ndata: <json>\n\n".
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f.Data)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(f.Event)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, f.Event...)
	buf = append(buf, '\n')
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	return buf, nil
}
