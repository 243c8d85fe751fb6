package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tortoisewolfe/securemsg/ccc/logging"
)

// RequireAgentToken admits only requests carrying "Authorization: Bearer <token>".
// An empty token admits nothing.
func RequireAgentToken(logger logging.Logger, token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		presented, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			logger.Warn("Rejected request without a valid agent token", "path", c.FullPath(), "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_agent_token", "message": "a valid agent token is required"})
			return
		}
		c.Next()
	}
}

// RequireJSON rejects POST requests whose body is not declared as application/json.
// Plain form and text posts can be sent cross-origin without a preflight.
func RequireJSON(c *gin.Context) {
	if c.Request.Method == http.MethodPost && c.ContentType() != gin.MIMEJSON {
		c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported_media_type", "message": "request body must be application/json"})
		return
	}
	c.Next()
}
