// Package collector drains a complete upstream byte stream for
// non-streaming requests: text is concatenated, tool-use inputs are
// reassembled from string fragments (or replaced outright by object
// fragments), and parsed once at tool-stop or end of stream.
package collector

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/kiro-gateway/kiro-gateway/internal/eventstream"
	"github.com/kiro-gateway/kiro-gateway/internal/upstreamevent"
)

// ToolUse is one reassembled tool call.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// Result is the collector's output: callers derive stop_reason themselves
// ("tool_use" if len(ToolUses) > 0, else "end_turn").
type Result struct {
	Text     string
	ToolUses []ToolUse
}

type toolAccum struct {
	id       string
	name     string
	buffer   []byte
	object   map[string]any
	hasInput bool
}

// Collect decodes every EventStream frame in messages (already produced by
// eventstream.Decoder) and accumulates the non-streaming result.
func Collect(messages []eventstream.Message) Result {
	var text []byte
	order := make([]string, 0)
	accum := make(map[string]*toolAccum)

	get := func(id string) *toolAccum {
		a, ok := accum[id]
		if !ok {
			a = &toolAccum{id: id}
			accum[id] = a
			order = append(order, id)
		}
		return a
	}

	for _, msg := range messages {
		ev := upstreamevent.Interpret(msg.Payload)
		switch ev.Kind {
		case upstreamevent.KindTextDelta:
			text = append(text, ev.Content...)

		case upstreamevent.KindToolUseStart:
			a := get(ev.ToolUseID)
			a.name = ev.Name
			applyFragment(a, ev.InputFragment, ev.FragmentIsObject)

		case upstreamevent.KindToolUseDelta:
			a := get(ev.ToolUseID)
			applyFragment(a, ev.InputFragment, ev.FragmentIsObject)

		case upstreamevent.KindToolUseStop:
			a := get(ev.ToolUseID)
			finalizeToolInput(a)
		}
	}

	// Tools that never received an explicit stop are still finalised at
	// end of stream, per §4.J.
	toolUses := make([]ToolUse, 0, len(order))
	for _, id := range order {
		a := accum[id]
		if a.object == nil {
			finalizeToolInput(a)
		}
		toolUses = append(toolUses, ToolUse{ID: a.id, Name: a.name, Input: a.object})
	}

	return Result{Text: string(text), ToolUses: toolUses}
}

func applyFragment(a *toolAccum, fragment string, isObject bool) {
	if fragment == "" {
		return
	}
	a.hasInput = true
	if isObject {
		var obj map[string]any
		if err := json.Unmarshal([]byte(fragment), &obj); err == nil {
			a.object = obj
			a.buffer = nil
			return
		}
		log.WithField("tool_use_id", a.id).Warn("collector: object fragment was not valid JSON, ignoring")
		return
	}
	a.buffer = append(a.buffer, fragment...)
}

func finalizeToolInput(a *toolAccum) {
	if a.object != nil {
		return
	}
	if len(a.buffer) == 0 {
		if a.object == nil {
			a.object = map[string]any{}
		}
		return
	}
	var obj map[string]any
	if err := json.Unmarshal(a.buffer, &obj); err != nil {
		log.WithField("tool_use_id", a.id).WithError(err).Warn("collector: failed to parse accumulated tool input, using empty object")
		a.object = map[string]any{}
		return
	}
	a.object = obj
}
