package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiro-gateway/kiro-gateway/internal/eventstream"
)

func msg(payload string) eventstream.Message {
	return eventstream.Message{Payload: []byte(payload)}
}

func TestS4NonStreamToolReassembly(t *testing.T) {
	messages := []eventstream.Message{
		msg(`{"toolUseId":"t1","name":"lookup"}`),
		msg(`{"toolUseId":"t1","input":"{\"q\""}`),
		msg(`{"toolUseId":"t1","input":":\"hi\"}"}`),
		msg(`{"toolUseId":"t1","stop":true}`),
	}

	result := Collect(messages)
	assert.Equal(t, "", result.Text)
	require.Len(t, result.ToolUses, 1)
	assert.Equal(t, "t1", result.ToolUses[0].ID)
	assert.Equal(t, "lookup", result.ToolUses[0].Name)
	assert.Equal(t, "hi", result.ToolUses[0].Input["q"])
}

func TestObjectFragmentOverridesStringBuffer(t *testing.T) {
	messages := []eventstream.Message{
		msg(`{"toolUseId":"t1","name":"f"}`),
		msg(`{"toolUseId":"t1","input":"garbage-prefix"}`),
		msg(`{"toolUseId":"t1","input":{"x":1}}`),
		msg(`{"toolUseId":"t1","stop":true}`),
	}
	result := Collect(messages)
	require.Len(t, result.ToolUses, 1)
	assert.Equal(t, float64(1), result.ToolUses[0].Input["x"])
}

func TestMalformedAccumulatedJSONYieldsEmptyObject(t *testing.T) {
	messages := []eventstream.Message{
		msg(`{"toolUseId":"t1","name":"f"}`),
		msg(`{"toolUseId":"t1","input":"not valid json"}`),
		msg(`{"toolUseId":"t1","stop":true}`),
	}
	result := Collect(messages)
	require.Len(t, result.ToolUses, 1)
	assert.Equal(t, map[string]any{}, result.ToolUses[0].Input)
}

func TestToolWithoutExplicitStopIsFinalizedAtStreamEnd(t *testing.T) {
	messages := []eventstream.Message{
		msg(`{"toolUseId":"t1","name":"f","input":"{\"a\":1}"}`),
	}
	result := Collect(messages)
	require.Len(t, result.ToolUses, 1)
	assert.Equal(t, float64(1), result.ToolUses[0].Input["a"])
}

func TestTextConcatenation(t *testing.T) {
	messages := []eventstream.Message{msg(`{"content":"hi"}`), msg(`{"content":" there"}`)}
	result := Collect(messages)
	assert.Equal(t, "hi there", result.Text)
	assert.Empty(t, result.ToolUses)
}
