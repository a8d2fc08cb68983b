package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"voice-gateway/internal/auth"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/metrics"
	"voice-gateway/internal/permission"
	"voice-gateway/internal/rbac"
	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Permissions is the admission policy surface exposed over HTTP.
type Permissions interface {
	CanRequestPermission(identity string) permission.RequestEligibility
	RequestPermission(ctx context.Context, in permission.RequestInput) (permission.RequestResult, error)
	ApprovePermission(id string) (permission.Approval, error)
	DenyPermission(id string) error
	CanMakeCall(identity string) permission.CallEligibility
}

type StatusProvider interface {
	Status() calls.Status
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth        *auth.Manager
	Permissions Permissions
	Status      StatusProvider
	Metrics     *metrics.Counters

	// DevLogin enables the unauthenticated token endpoint. Never set in production.
	DevLogin bool
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair without checking credentials. Local use only.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || !h.DevLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a known role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Permissions ---

func (h Handlers) PermissionEligibility(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Permissions.CanRequestPermission(uid))
}

type permissionRequest struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

func (h Handlers) RequestPermission(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Permissions.RequestPermission(c.Request.Context(), permission.RequestInput{
		Identity: uid,
		Phone:    req.Phone,
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.Metrics.PermissionRequest(outcomeOf(err))
		writeError(c, err)
		return
	}
	h.Metrics.PermissionRequest("sent")
	c.JSON(http.StatusCreated, res)
}

func (h Handlers) CallEligibility(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Permissions.CanMakeCall(uid))
}

// --- Admin ---

func (h Handlers) ApprovePermission(c *gin.Context) {
	id := c.Param("id")
	out, err := h.Permissions.ApprovePermission(id)
	if err != nil {
		writeError(c, err)
		return
	}
	h.Metrics.PermissionRequest("approved")
	c.JSON(http.StatusOK, out)
}

func (h Handlers) DenyPermission(c *gin.Context) {
	id := c.Param("id")
	if err := h.Permissions.DenyPermission(id); err != nil {
		writeError(c, err)
		return
	}
	h.Metrics.PermissionRequest("denied")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h Handlers) GatewayStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Status.Status())
}

func identity(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, permission.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, permission.ErrInvalidArgument):
		return "invalid"
	default:
		return "failed"
	}
}

func writeError(c *gin.Context, err error) {
	var rl *permission.RateLimitedError
	switch {
	case errors.As(err, &rl):
		body := gin.H{
			"error":           "rate_limited",
			"reason":          rl.Eligibility.Reason,
			"requests_in_24h": rl.Eligibility.RequestsIn24h,
			"requests_in_7d":  rl.Eligibility.RequestsIn7d,
		}
		if rl.Eligibility.NextAllowedAt != nil {
			body["next_allowed_at"] = rl.Eligibility.NextAllowedAt.UTC()
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
	case errors.Is(err, permission.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_argument"})
	case errors.Is(err, permission.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, permission.ErrAlreadyResolved):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already_resolved"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "upstream_failure"})
	}
}

// Register mounts the API under /v1. authMW must run before the role checks.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc, limiter *RateLimiter) {
	v1 := r.Group("/v1")
	if limiter != nil {
		v1.POST("/auth/login", limiter.Middleware(), h.Login)
	} else {
		v1.POST("/auth/login", h.Login)
	}

	api := v1.Group("")
	api.Use(authMW, rbac.RequireIdentity())
	if limiter != nil {
		api.Use(limiter.Middleware())
	}

	agent := api.Group("")
	agent.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleAdmin))
	{
		agent.GET("/permissions/eligibility", h.PermissionEligibility)
		agent.POST("/permissions", h.RequestPermission)
		agent.GET("/calls/eligibility", h.CallEligibility)
	}

	admin := api.Group("/admin")
	admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		admin.POST("/permissions/:id/approve", h.ApprovePermission)
		admin.POST("/permissions/:id/deny", h.DenyPermission)
		admin.GET("/status", h.GatewayStatus)
	}
}
