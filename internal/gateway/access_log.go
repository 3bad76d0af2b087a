package gateway

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
)

// AccessLog emits one structured record per request
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	logger = logging.OrDefault(logger)

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}
		if userID := auth.UserID(c); userID != "" {
			attrs = append(attrs, "user_id", userID)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request", attrs...)
	}
}
