// Package openaiproject re-projects the same decoded upstream events used
// by internal/sse into OpenAI chat.completion.chunk frames. It is a
// separate state machine, not a reuse of internal/sse.State, because the
// two wire shapes diverge structurally (dense 0..N tool_calls arrays vs
// Anthropic's sparse content-block indices).
package openaiproject

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kiro-gateway/kiro-gateway/internal/sse"
	"github.com/kiro-gateway/kiro-gateway/internal/upstreamevent"
)

// Chunk is one OpenAI SSE record.
type Chunk struct {
	Data     any
	Terminal bool // true for the literal "data: [DONE]" marker
	// ShouldTerminate signals the caller to stop reading further upstream
	// bytes (set on ContentLengthExceededException).
	ShouldTerminate bool
}

// Projector drives the OpenAI chunk sequence from upstream events.
type Projector struct {
	id           string
	model        string
	created      int64
	toolIndexes  map[string]int
	nextToolIdx  int
	sawTools     bool
	forcedReason string
	sawException bool
	outputTokens int
}

// NewProjector creates a projector for one streaming request. created is
// passed in (not time.Now()) only by tests that need determinism; callers
// in production code may pass time.Now().Unix().
func NewProjector(model string, created int64) *Projector {
	return &Projector{
		id:          "chatcmpl-" + uuid.NewString(),
		model:       model,
		created:     created,
		toolIndexes: make(map[string]int),
	}
}

// Start emits the initial role chunk.
func (p *Projector) Start() []Chunk {
	return []Chunk{{Data: p.chunk(map[string]any{
		"index":         0,
		"delta":         map[string]any{"role": "assistant"},
		"finish_reason": nil,
	})}}
}

func (p *Projector) chunk(choice map[string]any) map[string]any {
	return map[string]any{
		"id":      p.id,
		"object":  "chat.completion.chunk",
		"created": p.created,
		"model":   p.model,
		"choices": []any{choice},
	}
}

// Feed translates one upstream event into zero or more chunks.
func (p *Projector) Feed(ev upstreamevent.Event) []Chunk {
	switch ev.Kind {
	case upstreamevent.KindTextDelta:
		p.outputTokens += sse.TextTokens(ev.Content)
		return []Chunk{{Data: p.chunk(map[string]any{
			"index":         0,
			"delta":         map[string]any{"content": ev.Content},
			"finish_reason": nil,
		})}}

	case upstreamevent.KindToolUseStart:
		p.sawTools = true
		idx, ok := p.toolIndexes[ev.ToolUseID]
		if !ok {
			idx = p.nextToolIdx
			p.nextToolIdx++
			p.toolIndexes[ev.ToolUseID] = idx
		}
		p.outputTokens += sse.ToolUseStartTokens(ev.Name)
		toolCall := map[string]any{
			"index": idx,
			"id":    ev.ToolUseID,
			"type":  "function",
			"function": map[string]any{
				"name":      ev.Name,
				"arguments": "",
			},
		}
		var out []Chunk
		out = append(out, Chunk{Data: p.chunk(map[string]any{
			"index":         0,
			"delta":         map[string]any{"tool_calls": []any{toolCall}},
			"finish_reason": nil,
		})})
		if !ev.FragmentIsObject && ev.InputFragment != "" {
			out = append(out, p.toolArgumentsChunk(idx, ev.InputFragment))
		}
		return out

	case upstreamevent.KindToolUseDelta:
		idx, ok := p.toolIndexes[ev.ToolUseID]
		if !ok {
			// Delta with no prior start: OpenAI has no notion of a
			// standalone block-start, so allocate the dense index now.
			idx = p.nextToolIdx
			p.nextToolIdx++
			p.toolIndexes[ev.ToolUseID] = idx
			p.sawTools = true
		}
		if ev.FragmentIsObject {
			// Object fragments replace the buffer; OpenAI's wire format
			// has no equivalent of a whole-object delta, so re-serialise.
			encoded, err := json.Marshal(json.RawMessage(ev.InputFragment))
			if err != nil {
				return nil
			}
			return []Chunk{p.toolArgumentsChunk(idx, string(encoded))}
		}
		if ev.InputFragment == "" {
			return nil
		}
		p.outputTokens += sse.ToolInputFragmentTokens(ev.InputFragment)
		return []Chunk{p.toolArgumentsChunk(idx, ev.InputFragment)}

	case upstreamevent.KindToolUseStop:
		// content_block_stop has no OpenAI projection.
		return nil

	case upstreamevent.KindException:
		p.sawException = true
		p.forcedReason = ev.ExceptionType
		return nil

	default:
		return nil
	}
}

func (p *Projector) toolArgumentsChunk(idx int, arguments string) Chunk {
	return Chunk{Data: p.chunk(map[string]any{
		"index": 0,
		"delta": map[string]any{
			"tool_calls": []any{map[string]any{
				"index":    idx,
				"function": map[string]any{"arguments": arguments},
			}},
		},
		"finish_reason": nil,
	})}
}

// finishReason resolves the same way internal/sse does: exception beats
// tool activity beats plain completion.
func (p *Projector) finishReason() string {
	if p.sawException {
		anthropic := sse.NewState(p.model, 0)
		anthropic.RecordException(p.forcedReason)
		return sse.ResolveOpenAIFinishReason(anthropic.ResolveAnthropicStopReason())
	}
	if p.sawTools {
		return "tool_calls"
	}
	return "stop"
}

// Finish emits the terminal chunk and the literal [DONE] marker.
func (p *Projector) Finish() []Chunk {
	reason := p.finishReason()
	return []Chunk{
		{Data: p.chunk(map[string]any{
			"index":         0,
			"delta":         map[string]any{},
			"finish_reason": reason,
		})},
		{Terminal: true},
	}
}

// ErrorChunk renders a non-length upstream exception as a content delta
// carrying the error message, for callers that fall through to Finish
// instead of the content-length early-stop path.
func (p *Projector) ErrorChunk(exceptionType string) Chunk {
	return Chunk{Data: p.chunk(map[string]any{
		"index":         0,
		"delta":         map[string]any{"content": "[error: " + exceptionType + "]"},
		"finish_reason": nil,
	})}
}

// ContentLengthExceededImmediateFinish implements §4.G's early-stop rule:
// on ContentLengthExceededException the projector emits finish_reason
// "length" right away and signals the caller to stop reading upstream
// bytes, so downstream output is identical whether or not further bytes
// would have arrived.
func (p *Projector) ContentLengthExceededImmediateFinish() []Chunk {
	return []Chunk{
		{Data: p.chunk(map[string]any{
			"index":         0,
			"delta":         map[string]any{},
			"finish_reason": "length",
		}), ShouldTerminate: true},
		{Terminal: true},
	}
}

// Encode renders a Chunk as its wire bytes.
func Encode(c Chunk) ([]byte, error) {
	if c.Terminal {
		return []byte("data: [DONE]\n\n"), nil
	}
	data, err := json.Marshal(c.Data)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	return buf, nil
}
