package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/models"
)

// RouterOptions wires the gateway components into a gin engine
type RouterOptions struct {
	Handler *Handler
	Stream  *SessionStream
	// JWTManager protects /api; nil leaves the API unauthenticated
	JWTManager *auth.JWTManager
	Logger     *slog.Logger
}

// NewRouter builds the HTTP routes
func NewRouter(opts RouterOptions) *gin.Engine {
	logger := logging.OrDefault(opts.Logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(AccessLog(logger))

	// Health checks MUST be at the root for the WebService standard
	router.GET("/health", opts.Handler.Health)
	router.GET("/ready", opts.Handler.Ready)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, models.ErrCodeNotFound, "Route not found")
	})

	api := router.Group("/api")
	api.GET("/health", opts.Handler.Health)

	protected := api.Group("")
	startSession := []gin.HandlerFunc{opts.Handler.CreateSession}
	if opts.JWTManager != nil {
		protected.Use(auth.RequireAuth(opts.JWTManager, logger))
		startSession = append([]gin.HandlerFunc{auth.RequireRole(auth.RoleDeveloper)}, startSession...)
	} else {
		logger.Warn("no jwt secret configured, API is unauthenticated")
	}

	protected.POST("/sessions", startSession...)
	protected.GET("/sessions/:id", opts.Handler.GetSession)
	protected.POST("/search", opts.Handler.Search)
	if opts.Stream != nil {
		protected.GET("/ws/sessions/:id", opts.Stream.StreamSession)
	}

	return router
}
