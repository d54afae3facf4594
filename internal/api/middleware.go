// Package api wires the gateway's gin router, middleware, and handlers
// together, grounded on the teacher's internal/api/server.go (route
// grouping, CORS, auth middleware).
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware requires the bearer token or x-api-key header to equal
// clientSecret, matching §6's "Bearer token or x-api-key must equal a
// configured client secret on /v1/*; else 401."
func AuthMiddleware(clientSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if clientSecret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "gateway has no client secret configured"}})
			return
		}

		provided := c.GetHeader("x-api-key")
		if provided == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if provided == "" || provided != clientSecret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "invalid or missing API key"}})
			return
		}
		c.Next()
	}
}

// CORSMiddleware mirrors the teacher's permissive default: if no explicit
// allow-list is configured, any origin is allowed via a wildcard "*";
// with an allow-list, a matching origin is echoed back.
func CORSMiddleware(allowOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		allowed := ""
		switch {
		case origin == "":
		case len(allowOrigins) == 0:
			allowed = "*"
		case originAllowed(allowOrigins, origin):
			allowed = origin
		}

		if allowed != "" {
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "*")
			if allowed != "*" {
				c.Header("Vary", "Origin")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(allowOrigins []string, origin string) bool {
	for _, allowed := range allowOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
