package sse

import "github.com/tidwall/gjson"

// EstimateAnthropicInputTokens walks an Anthropic Messages request body and
// applies §4.D's heuristic: 4 structural tokens per message (plus one for a
// top-level system string) plus recursive content tokens, plus tool
// definition surcharges.
func EstimateAnthropicInputTokens(body []byte) int {
	total := 0

	if system := gjson.GetBytes(body, "system"); system.Exists() {
		total += MessageStructuralTokens() + anthropicSystemTokens(system)
	}

	for _, m := range gjson.GetBytes(body, "messages").Array() {
		total += MessageStructuralTokens() + anthropicContentTokens(m.Get("content"))
	}

	for _, t := range gjson.GetBytes(body, "tools").Array() {
		total += ToolDefinitionTokens(
			t.Get("name").String(),
			t.Get("description").String(),
			t.Get("input_schema").Raw,
		)
	}

	return total
}

func anthropicSystemTokens(system gjson.Result) int {
	if system.Type == gjson.String {
		return TextTokens(system.String())
	}
	total := 0
	for _, block := range system.Array() {
		total += TextTokens(block.Get("text").String())
	}
	return total
}

func anthropicContentTokens(content gjson.Result) int {
	if content.Type == gjson.String {
		return TextTokens(content.String())
	}
	total := 0
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			total += TextTokens(block.Get("text").String())
		case "tool_use":
			total += ToolUseStartTokens(block.Get("name").String())
			total += ToolInputFragmentTokens(block.Get("input").Raw)
		case "tool_result":
			total += ToolResultTokens(toolResultInnerTexts(block.Get("content")))
		}
	}
	return total
}

func toolResultInnerTexts(content gjson.Result) []string {
	if content.Type == gjson.String {
		return []string{content.String()}
	}
	var texts []string
	for _, block := range content.Array() {
		if block.Get("type").String() == "text" {
			texts = append(texts, block.Get("text").String())
		}
	}
	return texts
}

// EstimateOpenAIInputTokens applies the same heuristic to an OpenAI Chat
// Completions request body, whose messages[] carries system/tool roles
// inline rather than a separate system field.
func EstimateOpenAIInputTokens(body []byte) int {
	total := 0

	for _, m := range gjson.GetBytes(body, "messages").Array() {
		total += MessageStructuralTokens() + TextTokens(m.Get("content").String())
	}

	for _, t := range gjson.GetBytes(body, "tools").Array() {
		fn := t.Get("function")
		total += ToolDefinitionTokens(fn.Get("name").String(), fn.Get("description").String(), fn.Get("parameters").Raw)
	}

	return total
}
