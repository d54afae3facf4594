package reqconvert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFromAnthropicPlainTextSingleTurn(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet",
		"system": "be terse",
		"messages": [{"role":"user","content":"hello"}]
	}`)
	out, err := FromAnthropic(body)
	require.NoError(t, err)

	r := gjson.ParseBytes(out)
	assert.Equal(t, "MANUAL", r.Get("conversationState.chatTriggerType").String())
	assert.Equal(t, "hello", r.Get("conversationState.currentMessage.userInputMessage.content").String())
	assert.Equal(t, "be terse", r.Get("conversationState.currentMessage.userInputMessage.systemPrompt").String())
	assert.Equal(t, "claude-sonnet", r.Get("conversationState.currentMessage.userInputMessage.modelId").String())
	assert.Empty(t, r.Get("conversationState.history").Array())
}

func TestFromAnthropicHistorySplitsPriorTurns(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet",
		"messages": [
			{"role":"user","content":"first"},
			{"role":"assistant","content":"reply"},
			{"role":"user","content":"second"}
		]
	}`)
	out, err := FromAnthropic(body)
	require.NoError(t, err)

	r := gjson.ParseBytes(out)
	history := r.Get("conversationState.history").Array()
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Get("userInputMessage.content").String())
	assert.Equal(t, "reply", history[1].Get("assistantResponseMessage.content").String())
	assert.Equal(t, "second", r.Get("conversationState.currentMessage.userInputMessage.content").String())
}

func TestFromAnthropicToolUseAndResultFlattened(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet",
		"messages": [{
			"role":"user",
			"content":[
				{"type":"text","text":"what's the weather"},
				{"type":"tool_result","content":[{"type":"text","text":"72F"}]}
			]
		}],
		"tools": [{"name":"get_weather","description":"fetch weather","input_schema":{"type":"object"}}]
	}`)
	out, err := FromAnthropic(body)
	require.NoError(t, err)

	r := gjson.ParseBytes(out)
	content := r.Get("conversationState.currentMessage.userInputMessage.content").String()
	assert.Contains(t, content, "what's the weather")
	assert.Contains(t, content, "72F")
	tools := r.Get("conversationState.currentMessage.userInputMessage.userInputMessageContext.tools").Array()
	require.Len(t, tools, 1)
	assert.Equal(t, "get_weather", tools[0].Get("toolSpecification.name").String())
}

func TestFromOpenAISystemAndToolMessage(t *testing.T) {
	body := []byte(`{
		"model": "gpt-test",
		"messages": [
			{"role":"system","content":"be terse"},
			{"role":"user","content":"call a tool"},
			{"role":"assistant","content":""},
			{"role":"tool","tool_call_id":"call_1","content":"result text"}
		]
	}`)
	out, err := FromOpenAI(body)
	require.NoError(t, err)

	r := gjson.ParseBytes(out)
	assert.Equal(t, "be terse", r.Get("conversationState.currentMessage.userInputMessage.systemPrompt").String())
	content := r.Get("conversationState.currentMessage.userInputMessage.content").String()
	assert.Contains(t, content, "call_1")
	assert.Contains(t, content, "result text")
	history := r.Get("conversationState.history").Array()
	require.Len(t, history, 2)
}

func TestFromAnthropicRejectsEmptyMessages(t *testing.T) {
	_, err := FromAnthropic([]byte(`{"model":"x","messages":[]}`))
	assert.Error(t, err)
}

func TestFromOpenAIRejectsOnlySystemMessages(t *testing.T) {
	_, err := FromOpenAI([]byte(`{"model":"x","messages":[{"role":"system","content":"hi"}]}`))
	assert.Error(t, err)
}
