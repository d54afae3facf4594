package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/kiro-gateway/kiro-gateway/internal/collector"
	"github.com/kiro-gateway/kiro-gateway/internal/eventstream"
	"github.com/kiro-gateway/kiro-gateway/internal/reqconvert"
	"github.com/kiro-gateway/kiro-gateway/internal/sse"
	"github.com/kiro-gateway/kiro-gateway/internal/upstreamevent"
)

// Messages handles POST /v1/messages per §6.
func (g *Gateway) Messages(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read request body"}})
		return
	}

	model := gjson.GetBytes(raw, "model").String()
	streaming := gjson.GetBytes(raw, "stream").Bool()
	inputTokens := sse.EstimateAnthropicInputTokens(raw)

	kiroBody, err := reqconvert.FromAnthropic(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	if streaming {
		g.streamAnthropic(c, model, inputTokens, kiroBody)
		return
	}
	g.collectAnthropic(c, model, inputTokens, kiroBody)
}

func (g *Gateway) collectAnthropic(c *gin.Context, model string, inputTokens int, kiroBody []byte) {
	messages, err := g.upstreamMessages(c.Request.Context(), kiroBody)
	if err != nil {
		writeUpstreamError(c, err)
		return
	}

	result := collector.Collect(messages)

	content := []map[string]any{}
	if result.Text != "" {
		content = append(content, map[string]any{"type": "text", "text": result.Text})
	}
	for _, tu := range result.ToolUses {
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    tu.ID,
			"name":  tu.Name,
			"input": tu.Input,
		})
	}

	outputTokens := sse.TextTokens(result.Text)
	if outputTokens < 1 && len(result.ToolUses) > 0 {
		outputTokens = 1
	}

	stopReason := "end_turn"
	if len(result.ToolUses) > 0 {
		stopReason = "tool_use"
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          "msg_" + uuid.NewString(),
		"type":        "message",
		"role":        "assistant",
		"model":       model,
		"content":     content,
		"stop_reason": stopReason,
		"usage": gin.H{
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
	})
}

func (g *Gateway) streamAnthropic(c *gin.Context, model string, inputTokens int, kiroBody []byte) {
	resp, err := g.upstreamStream(c.Request.Context(), kiroBody)
	if err != nil {
		writeUpstreamError(c, err)
		return
	}
	if resp.Body == nil {
		writeUpstreamError(c, &upstreamStatusError{status: resp.StatusCode, body: "upstream exhausted origin fallback"})
		return
	}
	defer resp.Body.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		writeFrame(c, sse.UpstreamErrorFrame(resp.StatusCode, string(body)))
		return
	}

	emitter := sse.NewEmitter(model, inputTokens)
	writeFrames(c, emitter.Start())

	dec := eventstream.NewDecoder(64)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			msgs, decErr := dec.Feed(buf[:n])
			if decErr != nil {
				log.WithError(decErr).Warn("gateway: eventstream decode error")
			}
			if g.feedAnthropicMessages(c, emitter, msgs) {
				return
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			log.WithError(readErr).Warn("gateway: upstream read error")
			break
		}
	}

	writeFrames(c, emitter.Finish())
}

// feedAnthropicMessages interprets and emits each message, returning true
// if the stream should stop reading further upstream bytes: any upstream
// exception event (ContentLengthExceededException or another type) ends the
// stream after the terminal frames are written.
func (g *Gateway) feedAnthropicMessages(c *gin.Context, emitter *sse.Emitter, msgs []eventstream.Message) bool {
	for _, m := range msgs {
		ev := upstreamevent.Interpret(m.Payload)
		frames := emitter.Feed(ev)
		writeFrames(c, frames)
		if ev.Kind == upstreamevent.KindException {
			writeFrames(c, emitter.Finish())
			return true
		}
	}
	return false
}

func writeFrame(c *gin.Context, f sse.Frame) {
	b, err := sse.Encode(f)
	if err != nil {
		log.WithError(err).Warn("gateway: frame encode error")
		return
	}
	c.Writer.Write(b)
	c.Writer.Flush()
}

func writeFrames(c *gin.Context, frames []sse.Frame) {
	for _, f := range frames {
		writeFrame(c, f)
	}
}

func writeUpstreamError(c *gin.Context, err error) {
	status := statusOf(err)
	if status < 400 || status >= 600 {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": gin.H{"message": bodyOf(err)}})
}
