package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
)

// ──────────────────────────────────────────────────────────────────
// Bearer Token Authentication Middleware
//
// The token comes from server.auth_token (SOLGUARD_SERVER_AUTH_TOKEN).
// If set, all protected routes require: Authorization: Bearer <token>
//
// Public endpoints (health, alert stream, metrics) are excluded.
// ──────────────────────────────────────────────────────────────────

// AuthMiddleware returns a Gin middleware that validates bearer tokens.
// An empty token allows every request (dev mode).
func AuthMiddleware(token, mode string, log *logger.Logger) gin.HandlerFunc {
	if token == "" && mode == gin.ReleaseMode {
		logger.OrNop(log).Warn("server.auth_token is not set in release mode; " +
			"all analysis endpoints are publicly accessible")
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing Authorization header",
				"hint":  "Use: Authorization: Bearer <token>",
			})
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid Authorization header format"})
			return
		}

		// Constant-time comparison against token enumeration.
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Next()
	}
}
