// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"unchained/internal/infrastructure/http/v1/handlers"
	"unchained/internal/infrastructure/http/v1/middleware"
	"unchained/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Applications handlers.ApplicationService
	DB           handlers.Pinger
	Logger       *logger.Logger
	// JWTValidator authenticates bearer tokens; nil serves public viewers only.
	JWTValidator middleware.JWTValidator
	Version      string
	Debug        bool
}

// NewRouter creates and configures the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// order matters: trace ids must exist before anything logs
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Recovery())

	if cfg.DB != nil {
		health := handlers.NewHealthHandler(cfg.DB, cfg.Version)
		router.GET("/health/live", health.Live)
		router.GET("/health/ready", health.Ready)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.OptionalAuth(cfg.JWTValidator))

	apps := handlers.NewApplicationHandler(handlers.NewBaseHandler(), cfg.Applications)
	apps.RegisterRoutes(api.Group("/apps"), middleware.RequireAuth())

	return router
}
