package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/kiro-gateway/kiro-gateway/internal/collector"
	"github.com/kiro-gateway/kiro-gateway/internal/eventstream"
	"github.com/kiro-gateway/kiro-gateway/internal/openaiproject"
	"github.com/kiro-gateway/kiro-gateway/internal/reqconvert"
	"github.com/kiro-gateway/kiro-gateway/internal/upstreamevent"
)

// ChatCompletions handles POST /v1/chat/completions per §6, delegating to
// §4.G for streaming or §4.J-plus-projection for non-streaming.
func (g *Gateway) ChatCompletions(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read request body"}})
		return
	}

	model := gjson.GetBytes(raw, "model").String()
	streaming := gjson.GetBytes(raw, "stream").Bool()

	kiroBody, err := reqconvert.FromOpenAI(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	if streaming {
		g.streamOpenAI(c, model, kiroBody)
		return
	}
	g.collectOpenAI(c, model, kiroBody)
}

func (g *Gateway) collectOpenAI(c *gin.Context, model string, kiroBody []byte) {
	messages, err := g.upstreamMessages(c.Request.Context(), kiroBody)
	if err != nil {
		writeUpstreamError(c, err)
		return
	}

	result := collector.Collect(messages)

	var toolCalls []map[string]any
	for _, tu := range result.ToolUses {
		toolCalls = append(toolCalls, map[string]any{
			"id":   tu.ID,
			"type": "function",
			"function": map[string]any{
				"name":      tu.Name,
				"arguments": mustMarshalCompact(tu.Input),
			},
		})
	}

	finishReason := "stop"
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
	}

	message := gin.H{"role": "assistant", "content": result.Text}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []gin.H{{
			"index":         0,
			"message":       message,
			"finish_reason": finishReason,
		}},
	})
}

func (g *Gateway) streamOpenAI(c *gin.Context, model string, kiroBody []byte) {
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

	proj := openaiproject.NewProjector(model, time.Now().Unix())
	writeChunks(c, proj.Start())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		writeChunks(c, proj.Finish())
		return
	}

	dec := eventstream.NewDecoder(64)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			msgs, decErr := dec.Feed(buf[:n])
			if decErr != nil {
				log.WithError(decErr).Warn("gateway: eventstream decode error")
			}
			if g.feedOpenAIMessages(c, proj, msgs) {
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

	writeChunks(c, proj.Finish())
}

func (g *Gateway) feedOpenAIMessages(c *gin.Context, proj *openaiproject.Projector, msgs []eventstream.Message) bool {
	for _, m := range msgs {
		ev := upstreamevent.Interpret(m.Payload)
		if ev.Kind == upstreamevent.KindException {
			if strings.Contains(ev.ExceptionType, "ContentLengthExceed") {
				writeChunks(c, proj.ContentLengthExceededImmediateFinish())
				return true
			}
			proj.Feed(ev)
			writeChunks(c, []openaiproject.Chunk{proj.ErrorChunk(ev.ExceptionType)})
			writeChunks(c, proj.Finish())
			return true
		}
		writeChunks(c, proj.Feed(ev))
	}
	return false
}

func writeChunks(c *gin.Context, chunks []openaiproject.Chunk) {
	for _, ch := range chunks {
		b, err := openaiproject.Encode(ch)
		if err != nil {
			log.WithError(err).Warn("gateway: chunk encode error")
			continue
		}
		c.Writer.Write(b)
		c.Writer.Flush()
	}
}
