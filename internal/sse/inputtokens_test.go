package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateAnthropicInputTokensPlainMessage(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hello world"}]}`)
	got := EstimateAnthropicInputTokens(body)
	want := MessageStructuralTokens() + TextTokens("hello world")
	assert.Equal(t, want, got)
}

func TestEstimateAnthropicInputTokensIncludesSystemAndTools(t *testing.T) {
	body := []byte(`{
		"system": "be terse",
		"messages": [{"role":"user","content":"hi"}],
		"tools": [{"name":"f","description":"d","input_schema":{"type":"object"}}]
	}`)
	got := EstimateAnthropicInputTokens(body)
	assert.True(t, got > TextTokens("hi"))
}

func TestEstimateOpenAIInputTokens(t *testing.T) {
	body := []byte(`{"messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hi"}]}`)
	got := EstimateOpenAIInputTokens(body)
	want := 2*MessageStructuralTokens() + TextTokens("be terse") + TextTokens("hi")
	assert.Equal(t, want, got)
}
