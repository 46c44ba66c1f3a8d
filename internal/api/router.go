// Package api exposes the operational HTTP surface: health, metrics, and
// an admin group for poking the outbox.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/api/middleware"
	"github.com/doorstephq/doorstep-cloud/internal/config"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/internal/providerhealth"
)

type Router struct {
	engine     *gin.Engine
	server     *http.Server
	cfg        *config.Config
	dispatcher *outbox.Dispatcher
	store      outbox.Store
	healthRepo providerhealth.Repository
	logger     *zap.Logger
}

func NewRouter(
	cfg *config.Config,
	dispatcher *outbox.Dispatcher,
	store outbox.Store,
	healthRepo providerhealth.Repository,
	logger *zap.Logger,
) *Router {
	// Disable GIN default logger
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger))

	api := &Router{
		engine:     r,
		cfg:        cfg,
		dispatcher: dispatcher,
		store:      store,
		healthRepo: healthRepo,
		logger:     logger,
	}

	api.RegisterRoutes()
	return api
}

func (r *Router) RegisterRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Prometheus metrics endpoint
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Admin Routes (Protected by ADMIN_API_TOKEN)
	admin := r.engine.Group("/admin")
	admin.Use(r.adminAuth())
	{
		admin.POST("/outbox/dispatch", r.DispatchBatch)
		admin.GET("/outbox/stats", r.OutboxStats)
		admin.GET("/providers/health", r.ProviderHealth)
	}
}

// DispatchBatch runs one dispatch pass immediately, outside the ticker.
func (r *Router) DispatchBatch(c *gin.Context) {
	stats, err := r.dispatcher.ProcessBatch(c.Request.Context(), r.cfg.DispatchBatchSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     stats.Total,
		"processed": stats.Processed,
		"skipped":   stats.Skipped,
		"errors":    stats.Errors,
	})
}

// OutboxStats reports queue depth.
func (r *Router) OutboxStats(c *gin.Context) {
	pending, err := r.store.PendingCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

// ProviderHealth lists the per-channel success/failure counters.
func (r *Router) ProviderHealth(c *gin.Context) {
	records, err := r.healthRepo.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"providers": records})
}

func (r *Router) Run() error {
	r.server = &http.Server{
		Addr:         ":" + r.cfg.Port,
		Handler:      r.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return r.server.ListenAndServe()
}

func (r *Router) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(r.cfg.AdminAPIToken)
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_token_not_configured"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				provided = strings.TrimSpace(authHeader[7:])
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Shutdown gracefully shuts down the HTTP server
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
