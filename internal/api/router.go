package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kiro-gateway/kiro-gateway/internal/logging"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	ClientSecret string
	AllowOrigins []string
}

// NewRouter builds the gin engine with the ambient middleware stack and
// the three client-facing routes named in §6, grounded on the teacher's
// internal/api/server.go route grouping.
func NewRouter(gw *Gateway, cfg RouterConfig) *gin.Engine {
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(CORSMiddleware(cfg.AllowOrigins))

	engine.GET("/healthz", func(c *gin.Context) { c.Status(200) })

	v1 := engine.Group("/v1")
	v1.Use(AuthMiddleware(cfg.ClientSecret))
	v1.POST("/messages", gw.Messages)
	v1.POST("/messages/count_tokens", gw.CountTokens)
	v1.POST("/chat/completions", gw.ChatCompletions)

	return engine
}
