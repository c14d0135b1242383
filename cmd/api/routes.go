package main

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/therealutkarshpriyadarshi/vision/internal/logging"
	"github.com/therealutkarshpriyadarshi/vision/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vision/internal/middleware"
	"github.com/therealutkarshpriyadarshi/vision/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/vision/internal/storage"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
)

// API serves the stream registry over HTTP
type API struct {
	streams  *stream.Service
	archiver *storage.Archiver // optional
	log      *logging.Logger
	checks   map[string]metrics.HealthCheck
	monitor  *monitoring.Monitor // optional

	auth    *middleware.Authenticator // nil disables authentication
	limiter *middleware.RateLimiter   // nil disables rate limiting
	tracer  opentracing.Tracer        // nil disables request spans
}

func setupRouter(api *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(api.log))
	if api.tracer != nil {
		router.Use(middleware.Tracing(api.tracer))
	}

	// Health check
	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	if api.auth != nil {
		v1.Use(middleware.JWTAuth(api.auth))
	} else {
		v1.Use(middleware.Anonymous())
	}
	if api.limiter != nil {
		v1.Use(middleware.RateLimit(api.limiter))
	}

	// Registry and lifecycle, addressed by record id
	streams := v1.Group("/streams")
	{
		streams.POST("", api.createStream)
		streams.GET("", api.listStreams)
		streams.GET("/statistics", api.getStatistics)
		streams.POST("/cleanup", api.cleanupInactive)
		streams.POST("/reconcile", api.reconcileTransient)
		streams.POST("/batch/status", api.batchUpdateStatus)
		streams.POST("/batch/delete", api.batchDelete)

		streams.GET("/:id", api.getStream)
		streams.PUT("/:id", api.updateStream)
		streams.DELETE("/:id", api.deleteStream)
		streams.POST("/:id/start", api.startStream)
		streams.POST("/:id/stop", api.stopStream)
		streams.POST("/:id/restart", api.restartStream)
	}

	// Telemetry, status and errors, addressed by stream id
	byStreamID := v1.Group("/stream-ids")
	{
		byStreamID.GET("/:streamId", api.getStreamByStreamID)
		byStreamID.PUT("/:streamId/status", api.updateStatus)
		byStreamID.POST("/:streamId/viewers/increment", api.incrementViewers)
		byStreamID.POST("/:streamId/viewers/decrement", api.decrementViewers)
		byStreamID.PUT("/:streamId/metrics", api.updateMetrics)
		byStreamID.POST("/:streamId/errors", api.recordError)
		byStreamID.DELETE("/:streamId/errors", api.clearError)
		byStreamID.GET("/:streamId/archives", api.listArchives)
	}

	v1.GET("/system/health", api.systemHealth)

	return router
}
