package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
)

var middlewareTracer = otel.Tracer("auth-middleware")

// Gin context keys set by RequireAuth
const (
	UserIDKey    = "user_id"
	UsernameKey  = "username"
	UserRolesKey = "user_roles"
	ClaimsKey    = "claims"
)

// RequireAuth is a Gin middleware that validates bearer tokens, read from
// the Authorization header or the token query parameter.
func RequireAuth(jwtManager *JWTManager, logger *slog.Logger) gin.HandlerFunc {
	logger = logging.OrDefault(logger)

	return func(c *gin.Context) {
		ctx, span := middlewareTracer.Start(c.Request.Context(), "auth.require_auth")
		defer span.End()

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			// Browsers cannot set headers on websocket handshakes
			token = c.Query("token")
		}
		if token == "" {
			span.SetAttributes(attribute.Bool("auth.token_present", false))
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Missing or invalid authorization header")
			return
		}
		span.SetAttributes(attribute.Bool("auth.token_present", true))

		claims, err := jwtManager.ValidateToken(ctx, token)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.Bool("auth.token_valid", false))
			logger.Warn("invalid token", "error", err, "path", c.Request.URL.Path)
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Invalid or expired token")
			return
		}

		span.SetAttributes(
			attribute.Bool("auth.token_valid", true),
			attribute.String("user.id", claims.UserID),
			attribute.String("user.username", claims.Username),
		)

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Set(UserRolesKey, claims.Roles)
		c.Set(ClaimsKey, claims)

		logger.Debug("user authenticated",
			"user_id", claims.UserID,
			"username", claims.Username,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.Next()
	}
}

// RequireRole is a Gin middleware that checks the authenticated user's roles.
// It must run after RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := middlewareTracer.Start(c.Request.Context(), "auth.require_role")
		defer span.End()
		span.SetAttributes(attribute.String("required.role", role))

		value, exists := c.Get(ClaimsKey)
		claims, ok := value.(*Claims)
		if !exists || !ok {
			span.SetAttributes(attribute.Bool("auth.role_authorized", false))
			abort(c, http.StatusForbidden, models.ErrCodeForbidden, "User roles not found")
			return
		}
		if !claims.HasRole(role) {
			span.SetAttributes(attribute.Bool("auth.role_authorized", false))
			abort(c, http.StatusForbidden, models.ErrCodeForbidden, "Insufficient permissions")
			return
		}

		span.SetAttributes(attribute.Bool("auth.role_authorized", true))
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" for anonymous requests
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
