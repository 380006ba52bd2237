// Package api wires together all HTTP routes for the veeduría backend.
//
// Route grouping:
//   - /health, /ready and /version are public.
//   - /api/v1/auth/login is public and rate limited per IP.
//   - Everything else under /api/v1 requires a session token. Generic
//     resource routes (/:resource, /:resource/:id, /:resource/:id/:action)
//     serve every registered schema; the schema decides who may read, write
//     or run each action. Administrative routes add RequireAdmin on top.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/consejo-social/veeduria/internal/api/admin"
	"github.com/consejo-social/veeduria/internal/api/records"
	"github.com/consejo-social/veeduria/internal/api/response"
	"github.com/consejo-social/veeduria/internal/audit"
	"github.com/consejo-social/veeduria/internal/auth"
	"github.com/consejo-social/veeduria/internal/cache"
	"github.com/consejo-social/veeduria/internal/config"
	"github.com/consejo-social/veeduria/internal/middleware"
	"github.com/consejo-social/veeduria/internal/query"
	"github.com/consejo-social/veeduria/internal/resource"
	"github.com/consejo-social/veeduria/internal/services"
	"github.com/consejo-social/veeduria/internal/storage"
	"github.com/consejo-social/veeduria/internal/validation"
)

// Version is reported by /version and the version subcommand.
const Version = "1.0.0"

// Dependencies are the long-lived collaborators the router's services share.
// cmd/server builds them; tests substitute mocks.
type Dependencies struct {
	DB       *sqlx.DB
	Registry *resource.Registry
	Storage  storage.Storage
	Cache    cache.Cache
	Audit    *audit.Writer
	Tokens   *auth.TokenIssuer
}

// BackgroundServices holds references to background goroutines that must be
// stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	response.ShowErrorDetail(!cfg.Server.IsProduction())

	maxUpload := int64(cfg.Storage.MaxUploadMB) << 20
	v := validation.New()
	lists := query.NewEngine(deps.DB, query.Limits{
		DefaultPageSize: cfg.List.DefaultPageSize,
		MaxPageSize:     cfg.List.MaxPageSize,
	})

	recordSvc := services.NewRecordService(deps.DB, deps.Registry, lists, v, deps.Audit, deps.Cache, deps.Storage)
	filesSvc := services.NewFilesService(deps.DB, deps.Registry, v, deps.Audit, deps.Cache, deps.Storage, maxUpload)
	authSvc := services.NewAuthService(deps.DB, deps.Tokens, deps.Audit)
	dashboardSvc := services.NewDashboardService(deps.DB, deps.Registry, services.NewSettings(deps.DB, deps.Cache), deps.Cache)

	recordHandlers := records.NewRecordHandlers(recordSvc, deps.Audit)
	fileHandlers := records.NewFileHandlers(filesSvc, maxUpload)
	authHandlers := admin.NewAuthHandlers(authSvc)
	statsHandler := admin.NewStatsHandler(dashboardSvc, deps.Audit)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware(deps.Registry.Has))
	router.Use(LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APIHeaderPolicy(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(deps.DB.DB))
	router.GET("/ready", readinessHandler(deps.DB.DB, deps.Storage, deps.Cache))
	router.GET("/version", versionHandler())

	// Rate limiters
	generalConfig := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		generalConfig.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		generalConfig.BurstSize = cfg.Security.RateLimiting.Burst
	}
	authRateLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	generalRateLimiter := middleware.NewRateLimiter(generalConfig)
	uploadRateLimiter := middleware.NewRateLimiter(middleware.UploadRateLimitConfig())

	limit := func(rl *middleware.RateLimiter) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(rl)
	}

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.TimeoutMiddleware(cfg.Server.RequestTimeout))
	{
		apiV1.POST("/auth/login", limit(authRateLimiter), authHandlers.Login)

		authenticated := apiV1.Group("")
		authenticated.Use(middleware.ActorMiddleware(authSvc))
		authenticated.Use(limit(generalRateLimiter))
		{
			authenticated.POST("/auth/logout", authHandlers.Logout)
			authenticated.GET("/auth/me", authHandlers.Me)

			authenticated.GET("/dashboard", middleware.RequireStaff(), statsHandler.GetDashboardStats)
			authenticated.POST("/logs/limpiar", middleware.RequireAdmin(), statsHandler.PurgeAuditLogs)
			authenticated.GET("/usuarios/:id", forResource("usuarios", recordHandlers.Get))
			authenticated.GET("/usuarios/:id/actividad", middleware.RequireAdmin(), recordHandlers.Activity)

			// Files
			authenticated.POST("/archivos/upload", limit(uploadRateLimiter), fileHandlers.Upload)
			authenticated.GET("/archivos/:id", forResource("archivos", recordHandlers.Get))
			authenticated.GET("/archivos/:id/descargar", fileHandlers.Download)
			authenticated.GET("/archivos/:id/enlace", fileHandlers.Link)
			authenticated.POST("/donaciones/:id/comprobante", limit(uploadRateLimiter), fileHandlers.AttachReceipt)

			// Generic resources
			authenticated.GET("/:resource", recordHandlers.List)
			authenticated.POST("/:resource", recordHandlers.Create)
			authenticated.GET("/:resource/:id", recordHandlers.Get)
			authenticated.PUT("/:resource/:id", recordHandlers.Update)
			authenticated.PATCH("/:resource/:id", recordHandlers.Update)
			authenticated.DELETE("/:resource/:id", recordHandlers.Delete)
			authenticated.GET("/:resource/:id/historial", recordHandlers.History)
			authenticated.POST("/:resource/:id/forzar_estado", middleware.RequireAdmin(), recordHandlers.ForceState)
			authenticated.POST("/:resource/:id/:action", recordHandlers.Action)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, response.Envelope{Success: false, Message: "Ruta no encontrada"})
	})

	bg := &BackgroundServices{
		rateLimiters: []*middleware.RateLimiter{authRateLimiter, generalRateLimiter, uploadRateLimiter},
	}

	return router, bg
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// pinger is implemented by cache backends that hold a connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// readinessHandler returns the readiness status of the service. Unlike the
// liveness check (/health), it also checks storage and, for networked
// backends, the cache, so the readiness gate fails when uploads would error.
func readinessHandler(db *sql.DB, storageBackend storage.Storage, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checks := gin.H{}
		notReady := func(check, msg string) {
			checks[check] = "unhealthy"
			ctx.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  msg,
			})
		}

		if err := db.PingContext(ctx.Request.Context()); err != nil {
			notReady("database", "database not ready")
			return
		}
		checks["database"] = "healthy"

		// Probe with a known-absent path: this exercises credentials and
		// connectivity without creating any state.
		if _, err := storageBackend.Exists(ctx.Request.Context(), ".readiness-check"); err != nil {
			notReady("storage", "storage backend not ready")
			return
		}
		checks["storage"] = "healthy"

		if p, ok := c.(pinger); ok {
			if err := p.Ping(ctx.Request.Context()); err != nil {
				notReady("cache", "cache backend not ready")
				return
			}
			checks["cache"] = "healthy"
		}

		ctx.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// forResource serves a generic record handler from a route whose resource
// segment is static. gin does not fall back from a static segment to the
// :resource wildcard when the path ends on a param, so resources with their
// own sub-routes need the show route registered explicitly.
func forResource(name string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Params = append(c.Params, gin.Param{Key: "resource", Value: name})
		h(c)
	}
}

// LoggerMiddleware logs one structured record per request. The level follows
// the response status; request_id comes from the request context.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		rawQuery := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", rawQuery),
			slog.Int("status", status),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("user_id", c.GetString("user_id")),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
