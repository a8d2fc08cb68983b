package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voice-gateway/internal/auth"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/config"
	"voice-gateway/internal/permission"
	"voice-gateway/internal/signaling"
	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct{}

func (fakeStatus) Status() calls.Status {
	return calls.Status{Capacity: signaling.Capacity{Total: 10, InUse: 1, Available: 9}}
}

type harness struct {
	router *gin.Engine
	auth   *auth.Manager
	perms  *permission.Manager
}

func newHarness(t *testing.T, limiter *RateLimiter, devLogin bool) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	am, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	require.NoError(t, err)
	pm := permission.NewManager(permission.DefaultPolicy(), nil, logger.Nop())

	r := gin.New()
	r.Use(logger.Middleware(logger.Nop()))
	Handlers{Auth: am, Permissions: pm, Status: fakeStatus{}, DevLogin: devLogin}.
		Register(r, auth.RequireAccessToken(am), limiter)

	return &harness{router: r, auth: am, perms: pm}
}

func (h *harness) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		p, err := h.auth.IssuePair(time.Now(), userID, role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+p.AccessToken)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestAPI_RequiresToken(t *testing.T) {
	h := newHarness(t, nil, false)
	w := h.do(t, http.MethodGet, "/v1/permissions/eligibility", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_PermissionFlow(t *testing.T) {
	h := newHarness(t, nil, false)

	w := h.do(t, http.MethodGet, "/v1/permissions/eligibility", "alice", "agent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var el permission.RequestEligibility
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &el))
	assert.True(t, el.Allowed)

	w = h.do(t, http.MethodPost, "/v1/permissions", "alice", "agent", gin.H{"phone": "+15550001", "reason": "follow up"})
	require.Equal(t, http.StatusCreated, w.Code)
	var res permission.RequestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.NotEmpty(t, res.PermissionID)

	w = h.do(t, http.MethodPost, "/v1/permissions", "alice", "agent", gin.H{"phone": "+15550001"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var limited map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &limited))
	assert.Equal(t, "rate_limited", limited["error"])
	assert.Equal(t, string(permission.ReasonDailyLimit), limited["reason"])
	assert.NotEmpty(t, limited["next_allowed_at"])

	w = h.do(t, http.MethodGet, "/v1/calls/eligibility", "alice", "agent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ce permission.CallEligibility
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ce))
	assert.False(t, ce.Allowed)
	assert.Equal(t, permission.ReasonNoApproval, ce.Reason)

	w = h.do(t, http.MethodPost, "/v1/admin/permissions/"+res.PermissionID+"/approve", "alice", "agent", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPost, "/v1/admin/permissions/"+res.PermissionID+"/approve", "ops", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodPost, "/v1/admin/permissions/"+res.PermissionID+"/deny", "ops", "admin", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, http.MethodPost, "/v1/admin/permissions/perm_missing/approve", "ops", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodGet, "/v1/calls/eligibility", "alice", "agent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ce = permission.CallEligibility{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ce))
	assert.True(t, ce.Allowed)
	assert.NotNil(t, ce.ExpiresAt)
}

func TestAPI_InvalidPermissionRequest(t *testing.T) {
	h := newHarness(t, nil, false)
	w := h.do(t, http.MethodPost, "/v1/permissions", "bob", "agent", gin.H{"phone": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_AdminStatus(t *testing.T) {
	h := newHarness(t, nil, false)
	w := h.do(t, http.MethodGet, "/v1/admin/status", "ops", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Capacity signaling.Capacity `json:"capacity"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 9, out.Capacity.Available)
}

func TestAPI_DevLogin(t *testing.T) {
	h := newHarness(t, nil, false)
	w := h.do(t, http.MethodPost, "/v1/auth/login", "", "", gin.H{"user_id": "u", "role": "agent"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	h = newHarness(t, nil, true)
	w = h.do(t, http.MethodPost, "/v1/auth/login", "", "", gin.H{"user_id": "u", "role": "owner"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/v1/auth/login", "", "", gin.H{"user_id": "u", "role": "agent"})
	require.Equal(t, http.StatusOK, w.Code)
	var pair map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	assert.NotEmpty(t, pair["access_token"])
}

func TestAPI_RateLimited(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	limiter.Now = func() time.Time { return now }
	h := newHarness(t, limiter, false)

	for i := 0; i < 2; i++ {
		w := h.do(t, http.MethodGet, "/v1/permissions/eligibility", "carol", "agent", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := h.do(t, http.MethodGet, "/v1/permissions/eligibility", "carol", "agent", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Other users have their own bucket.
	w = h.do(t, http.MethodGet, "/v1/permissions/eligibility", "dave", "agent", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
