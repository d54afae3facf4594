package eventstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textFrame(content string) []byte {
	headers := map[string]HeaderValue{
		":event-type": {Type: headerStrType, Str: "assistantResponseEvent"},
	}
	payload := []byte(`{"content":"` + content + `"}`)
	return EncodeMessage(headers, payload)
}

func TestFeedSingleChunkVsByteByByteAreEquivalent(t *testing.T) {
	f1 := textFrame("a")
	f2 := textFrame("b")
	whole := append(append([]byte{}, f1...), f2...)

	d1 := NewDecoder(0)
	oneShot, err := d1.Feed(whole)
	require.NoError(t, err)
	require.Len(t, oneShot, 2)

	d2 := NewDecoder(0)
	var chunked []Message
	for i := 0; i < len(whole); i++ {
		msgs, err := d2.Feed(whole[i : i+1])
		require.NoError(t, err)
		chunked = append(chunked, msgs...)
	}
	require.Len(t, chunked, 2)

	assert.Equal(t, string(oneShot[0].Payload), string(chunked[0].Payload))
	assert.Equal(t, string(oneShot[1].Payload), string(chunked[1].Payload))
}

func TestHeaderRoundTrip(t *testing.T) {
	headers := map[string]HeaderValue{
		":event-type":    {Type: headerStrType, Str: "assistantResponseEvent"},
		":message-type":  {Type: headerStrType, Str: "event"},
		"flag-true":      {Type: 0, Bool: true},
		"flag-false":     {Type: 1, Bool: false},
		"byte-val":       {Type: 2, Int: -5},
		"short-val":      {Type: 3, Int: 1000},
		"int-val":        {Type: 4, Int: -70000},
		"long-val":       {Type: 5, Int: 1 << 40},
		"bytes-val":      {Type: 6, Bytes: []byte{1, 2, 3}},
		"timestamp-val":  {Type: 8, Int: 1700000000000},
	}
	payload := []byte(`{"content":"hi"}`)
	frame := EncodeMessage(headers, payload)

	d := NewDecoder(0)
	msgs, err := d.Feed(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	got := msgs[0]

	assert.Equal(t, payload, got.Payload)
	for name, want := range headers {
		if name == "uuid-val" {
			continue
		}
		have, ok := got.Headers[name]
		require.True(t, ok, "missing header %s", name)
		assert.Equal(t, want.Type, have.Type)
		switch want.Type {
		case 0, 1:
			assert.Equal(t, want.Bool, have.Bool)
		case 6:
			assert.Equal(t, want.Bytes, have.Bytes)
		case 7:
			assert.Equal(t, want.Str, have.Str)
		default:
			assert.Equal(t, want.Int, have.Int)
		}
	}
}

func TestBoundaryTotalLength16Accepted15Resyncs(t *testing.T) {
	// total_length = 16: prelude(12) + 0 headers + 0 payload + 4 crc.
	frame16 := make([]byte, 16)
	frame16[3] = 16 // BE u32 total_length = 16

	d := NewDecoder(0)
	msgs, err := d.Feed(frame16)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Payload)

	// A full 16-byte prelude declaring total_length = 15 is below the
	// minimum: one byte is consumed and an error is counted, then decoding
	// stalls waiting for more data.
	frame15 := make([]byte, 16)
	frame15[3] = 15

	d2 := NewDecoder(0)
	msgs2, err := d2.Feed(frame15)
	require.NoError(t, err)
	assert.Empty(t, msgs2)
	assert.Equal(t, 1, d2.Errors())
}

func TestBoundaryMaxFrameSize(t *testing.T) {
	d := NewDecoder(0)

	okPrelude := make([]byte, minFrameSize)
	okPrelude[0] = 0x01 // 16*2^20 BE = 0x01000000
	msgs, err := d.Feed(okPrelude)
	require.NoError(t, err)
	assert.Empty(t, msgs) // frame is declared but body not yet supplied

	d2 := NewDecoder(0)
	tooBig := make([]byte, minFrameSize)
	tooBig[0] = 0x01
	tooBig[3] = 0x01 // 16*2^20 + 1
	_, err = d2.Feed(tooBig)
	require.NoError(t, err)
	assert.Equal(t, 1, d2.Errors())
}

func TestUUIDFallsBackToUTF8WhenShort(t *testing.T) {
	// Hand-build a frame with a uuid-tagged header whose value is only 3
	// bytes — fewer than the 16 a real uuid needs.
	name := "short-uuid"
	headerBytes := []byte{byte(len(name))}
	headerBytes = append(headerBytes, name...)
	headerBytes = append(headerBytes, 9) // uuid tag
	headerBytes = append(headerBytes, 'a', 'b', 'c')

	payload := []byte(`{}`)
	total := preludeSize + len(headerBytes) + len(payload) + 4
	frame := make([]byte, 0, total)
	prelude := make([]byte, preludeSize)
	prelude[3] = byte(total)
	prelude[7] = byte(len(headerBytes))
	frame = append(frame, prelude...)
	frame = append(frame, headerBytes...)
	frame = append(frame, payload...)
	frame = append(frame, 0, 0, 0, 0)

	d := NewDecoder(0)
	msgs, err := d.Feed(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	hv, ok := msgs[0].Headers["short-uuid"]
	require.True(t, ok)
	assert.Equal(t, "abc", hv.Str)
}

func TestResyncAfterGarbageByte(t *testing.T) {
	f1 := textFrame("a")
	f2 := textFrame("b")
	stream := append(append(append([]byte{}, f1...), 0xFF), f2...)

	d := NewDecoder(0)
	msgs, err := d.Feed(stream)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, d.Errors())
	assert.Contains(t, string(msgs[0].Payload), `"a"`)
	assert.Contains(t, string(msgs[1].Payload), `"b"`)
}

func TestEmptyHeadersDefaultToAssistantResponseEvent(t *testing.T) {
	m := Message{Headers: nil, Payload: []byte(`{"content":"x"}`)}
	assert.Equal(t, "assistantResponseEvent", m.EventType())
}

func TestErrorBudgetExhausted(t *testing.T) {
	d := NewDecoder(2)
	garbage := make([]byte, 32)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	_, err := d.Feed(garbage)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}
