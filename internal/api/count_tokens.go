package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kiro-gateway/kiro-gateway/internal/sse"
)

// CountTokens handles POST /v1/messages/count_tokens per §6: returns
// {input_tokens} computed by §4.D from the body only, without calling the
// upstream.
func (g *Gateway) CountTokens(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read request body"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": sse.EstimateAnthropicInputTokens(raw)})
}
