package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware enforces bearer token auth when tokens are configured.
// An empty token set disables auth entirely. WebSocket and SSE clients
// that cannot set headers may pass the token as a query parameter.
func AuthMiddleware(tokens []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			allowed[t] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}

		token := ""
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		} else if q := c.Query("token"); q != "" {
			token = q
		}

		if token == "" {
			sendError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
			c.Abort()
			return
		}
		if _, ok := allowed[token]; !ok {
			sendError(c, http.StatusForbidden, "FORBIDDEN", "Invalid token")
			c.Abort()
			return
		}
		c.Next()
	}
}
