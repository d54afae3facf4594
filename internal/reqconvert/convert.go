// Package reqconvert maps Anthropic Messages and OpenAI Chat Completions
// request bodies into the upstream's conversationState wire shape. Grounded
// on buildKiroPayload in the teacher's kiro_executor.go. Like it, this
// package reads the raw client JSON via gjson path queries rather than a
// fully-typed struct graph; the outgoing envelope is assembled as a plain
// map[string]any and marshalled with encoding/json.
package reqconvert

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// defaultOrigin matches buildKiroPayload's fallback when no origin is
// supplied; internal/upstreamclient overwrites this per retry attempt.
const defaultOrigin = "AI_EDITOR"

// FromAnthropic converts an Anthropic Messages request body into the
// upstream conversationState envelope.
func FromAnthropic(body []byte) ([]byte, error) {
	model := gjson.GetBytes(body, "model").String()
	current, history, err := anthropicHistory(body)
	if err != nil {
		return nil, err
	}
	return buildConversationState(model, current, history)
}

// FromOpenAI converts an OpenAI Chat Completions request body into the
// upstream conversationState envelope.
func FromOpenAI(body []byte) ([]byte, error) {
	model := gjson.GetBytes(body, "model").String()
	current, history, err := openAIHistory(body)
	if err != nil {
		return nil, err
	}
	return buildConversationState(model, current, history)
}

// buildConversationState assembles the final payload shape shared by both
// client protocols, mirroring buildKiroPayload's top-level map.
func buildConversationState(model string, current map[string]any, history []map[string]any) ([]byte, error) {
	payload := map[string]any{
		"conversationState": map[string]any{
			"currentMessage":  current,
			"chatTriggerType": "MANUAL",
			"history":         history,
		},
		"source": "FeatureDev",
		"origin": defaultOrigin,
	}
	if model != "" {
		if um, ok := current["userInputMessage"].(map[string]any); ok {
			um["modelId"] = model
		}
	}
	return json.Marshal(payload)
}

// anthropicHistory turns messages[]+system into (current turn, prior
// history) in the upstream's userInputMessage/assistantResponseMessage
// shape. The last message becomes "current"; everything before it becomes
// history pairs.
func anthropicHistory(body []byte) (map[string]any, []map[string]any, error) {
	messages := gjson.GetBytes(body, "messages").Array()
	if len(messages) == 0 {
		return nil, nil, fmt.Errorf("reqconvert: anthropic request has no messages")
	}
	system := gjson.GetBytes(body, "system").String()
	tools := anthropicTools(gjson.GetBytes(body, "tools"))

	history := make([]map[string]any, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		history = append(history, anthropicTurn(m, nil))
	}

	last := messages[len(messages)-1]
	current := anthropicTurn(last, tools)
	if system != "" {
		if um, ok := current["userInputMessage"].(map[string]any); ok {
			um["systemPrompt"] = system
		}
	}
	return current, history, nil
}

func anthropicTurn(m gjson.Result, tools []map[string]any) map[string]any {
	role := m.Get("role").String()
	text := anthropicFlattenText(m.Get("content"))
	if role == "assistant" {
		return map[string]any{
			"assistantResponseMessage": map[string]any{
				"content": text,
			},
		}
	}
	userMsg := map[string]any{
		"content": text,
		"origin":  defaultOrigin,
	}
	if len(tools) > 0 {
		userMsg["userInputMessageContext"] = map[string]any{"tools": tools}
	}
	return map[string]any{"userInputMessage": userMsg}
}

// anthropicFlattenText joins a content value (either a plain string or an
// array of typed blocks) into the single text field the upstream expects;
// tool_use/tool_result blocks contribute a compact textual summary since
// the upstream's userInputMessage carries plain text, not typed blocks.
func anthropicFlattenText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	var out string
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			out += block.Get("text").String()
		case "tool_result":
			out += flattenToolResultContent(block.Get("content"))
		case "tool_use":
			out += fmt.Sprintf("[tool_use %s: %s]", block.Get("name").String(), block.Get("input").Raw)
		}
	}
	return out
}

func flattenToolResultContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	var out string
	for _, block := range content.Array() {
		if block.Get("type").String() == "text" {
			out += block.Get("text").String()
		}
	}
	return out
}

func anthropicTools(tools gjson.Result) []map[string]any {
	if !tools.Exists() {
		return nil
	}
	var out []map[string]any
	for _, t := range tools.Array() {
		out = append(out, map[string]any{
			"toolSpecification": map[string]any{
				"name":        t.Get("name").String(),
				"description": t.Get("description").String(),
				"inputSchema": map[string]any{"json": t.Get("input_schema").Value()},
			},
		})
	}
	return out
}

// openAIHistory performs the equivalent mapping for OpenAI Chat Completions
// bodies: messages[] roles are system/user/assistant/tool instead of
// Anthropic's system+messages[role=user|assistant] split.
func openAIHistory(body []byte) (map[string]any, []map[string]any, error) {
	messages := gjson.GetBytes(body, "messages").Array()
	if len(messages) == 0 {
		return nil, nil, fmt.Errorf("reqconvert: openai request has no messages")
	}
	tools := openAITools(gjson.GetBytes(body, "tools"))

	var system string
	var turns []gjson.Result
	for _, m := range messages {
		if m.Get("role").String() == "system" {
			system = m.Get("content").String()
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 {
		return nil, nil, fmt.Errorf("reqconvert: openai request has no non-system messages")
	}

	history := make([]map[string]any, 0, len(turns)-1)
	for _, m := range turns[:len(turns)-1] {
		history = append(history, openAITurn(m, nil))
	}

	current := openAITurn(turns[len(turns)-1], tools)
	if system != "" {
		if um, ok := current["userInputMessage"].(map[string]any); ok {
			um["systemPrompt"] = system
		}
	}
	return current, history, nil
}

func openAITurn(m gjson.Result, tools []map[string]any) map[string]any {
	role := m.Get("role").String()
	if role == "assistant" {
		return map[string]any{
			"assistantResponseMessage": map[string]any{
				"content": m.Get("content").String(),
			},
		}
	}
	text := m.Get("content").String()
	if role == "tool" {
		text = fmt.Sprintf("[tool_result %s: %s]", m.Get("tool_call_id").String(), text)
	}
	userMsg := map[string]any{
		"content": text,
		"origin":  defaultOrigin,
	}
	if len(tools) > 0 {
		userMsg["userInputMessageContext"] = map[string]any{"tools": tools}
	}
	return map[string]any{"userInputMessage": userMsg}
}

func openAITools(tools gjson.Result) []map[string]any {
	if !tools.Exists() {
		return nil
	}
	var out []map[string]any
	for _, t := range tools.Array() {
		fn := t.Get("function")
		out = append(out, map[string]any{
			"toolSpecification": map[string]any{
				"name":        fn.Get("name").String(),
				"description": fn.Get("description").String(),
				"inputSchema": map[string]any{"json": fn.Get("parameters").Value()},
			},
		})
	}
	return out
}
