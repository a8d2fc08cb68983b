package main

import (
	"database/sql"
	"net/http"
	"time"

	"voice-gateway/internal/auth"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/config"
	"voice-gateway/internal/httpapi"
	"voice-gateway/internal/metrics"
	"voice-gateway/internal/permission"
	"voice-gateway/internal/signature"
	"voice-gateway/internal/webhook"
	"voice-gateway/pkg/logger"
	"voice-gateway/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const webhookPath = "/webhooks/calls"

type routeDeps struct {
	cfg         config.Config
	db          *sql.DB
	rdb         *redis.Client
	registry    *prometheus.Registry
	verifier    *signature.Verifier
	auth        *auth.Manager
	limiter     *httpapi.RateLimiter
	controller  *calls.Controller
	permissions *permission.Manager
	counters    *metrics.Counters
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, d.db, 2*time.Second); err != nil {
			logger.FromGin(c).Error("health check failed", "dep", "postgres", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": "down"})
			return
		}
		if err := utils.RedisHealthCheck(ctx, d.rdb, 2*time.Second); err != nil {
			logger.FromGin(c).Error("health check failed", "dep", "redis", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{Registry: d.registry})))

	// Provider webhooks: signed POST deliveries plus the GET subscription handshake.
	webhook.NewHandler(d.controller, d.permissions, d.cfg.Webhook.VerifyToken, d.counters).
		Register(r, webhookPath, d.verifier)

	// /v1 API
	httpapi.Handlers{
		Auth:        d.auth,
		Permissions: d.permissions,
		Status:      d.controller,
		Metrics:     d.counters,
		DevLogin:    d.cfg.App.Env == "local",
	}.Register(r, auth.RequireAccessToken(d.auth), d.limiter)
}

func newLimiter(cfg config.RateLimitConfig) *httpapi.RateLimiter {
	return httpapi.NewRateLimiter(cfg.RPS, cfg.Burst)
}
