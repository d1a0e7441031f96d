package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ZanzyTHEbar/loan-decision/internal/account"
	"github.com/ZanzyTHEbar/loan-decision/internal/chat"
	_ "github.com/ZanzyTHEbar/loan-decision/internal/docs"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
	"github.com/ZanzyTHEbar/loan-decision/internal/middleware"
	"github.com/ZanzyTHEbar/loan-decision/internal/monitoring"
	"github.com/ZanzyTHEbar/loan-decision/internal/prediction"
	"github.com/ZanzyTHEbar/loan-decision/internal/ratelimit"
	"github.com/ZanzyTHEbar/loan-decision/internal/resilience"
	"github.com/ZanzyTHEbar/loan-decision/internal/security"
)

// server holds the dependencies shared by the HTTP handlers
type server struct {
	service     *prediction.Service
	accounts    *account.Service
	chat        *chat.Service
	tokens      *security.TokenManager
	security    *security.SecurityMiddleware
	limiter     *ratelimit.RateLimiter
	metrics     *monitoring.Metrics
	logger      *monitoring.Logger
	health      *resilience.DegradationManager
	compression *middleware.CompressionMiddleware
	db          poolStatser
	serveMetric bool
}

type poolStatser interface {
	GetPoolStats() map[string]interface{}
}

func setupRouter(s *server) *gin.Engine {
	r := gin.New()

	// Request IDs first so every later log line carries one
	r.Use(monitoring.RequestIDMiddleware())
	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(s.logger, s.security.Config().MaxBodyBytes))

	r.Use(apperrors.ErrorHandler())
	r.Use(apperrors.RecoveryHandler())

	r.Use(s.security.SecurityHeaders)
	r.Use(s.security.CORS())
	r.Use(s.compression.Handler())
	r.Use(s.security.RequestTimeout)
	r.Use(s.security.ValidateContentType)
	r.Use(s.security.LimitBody)

	r.GET("/health", s.handleHealth)
	if s.serveMetric {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	api.Use(s.tokens.OptionalAuth())
	api.Use(s.limiter.Middleware("api"))
	{
		api.POST("/signup", s.handleSignup)
		api.POST("/login", s.handleLogin)
		api.POST("/refresh", s.handleRefresh)

		api.POST("/predict", s.handlePredict)
		api.POST("/chat", s.handleChat)
		api.GET("/model", s.handleModel)

		authed := api.Group("", s.tokens.RequiredAuth())
		authed.POST("/update_profile", s.handleUpdateProfile)
		authed.GET("/predictions", s.handleHistory)

		admin := authed.Group("/admin", security.RequireRole(security.RoleAdmin))
		admin.POST("/reload", s.handleReload)
		admin.GET("/users", s.handleListUsers)
	}

	return r
}
