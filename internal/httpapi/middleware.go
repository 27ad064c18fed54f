// Package httpapi implements the bridge's HTTP and websocket surface,
// wiring the orchestrator to gin handlers.
package httpapi

import (
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arenabridge/chat-bridge/internal/orchestrator"
)

const requestIDKey = "request_id"

// requestID installs a per-call correlation ID generated with
// `google/uuid` and attaches it as both a gin context value and an
// X-Request-Id response header.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// bearerToken extracts the Authorization header's bearer value, if any.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// abortWithError writes the OpenAI-style error envelope and aborts,
// mapping orchestrator.Failure kinds to HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	status, code := statusAndCode(err)
	gmw.GetLogger(c).Warn("request aborted", zap.Int("status", status), zap.Error(err))

	c.JSON(status, errorResponse(err.Error(), code))
	c.Abort()
}

func statusAndCode(err error) (int, string) {
	f, ok := orchestrator.AsFailure(err)
	if !ok {
		return 500, "bridge_error"
	}
	switch f.Kind {
	case orchestrator.KindAuth:
		return 401, "unauthorized"
	case orchestrator.KindUnresolvedCredentials:
		return 400, "unresolved_credentials"
	case orchestrator.KindBrowserDisconnected:
		return 503, "browser_disconnected"
	case orchestrator.KindAttachmentTooLarge:
		return 413, "attachment_too_large"
	case orchestrator.KindCloudflareChallenge:
		return 500, "cloudflare_challenge"
	case orchestrator.KindTimeout:
		return 500, "stream_timeout"
	default:
		return 500, "bridge_error"
	}
}

func errorResponse(message, code string) gin.H {
	return gin.H{
		"error": gin.H{
			"message": message,
			"type":    "arena_bridge_error",
			"code":    code,
		},
	}
}
