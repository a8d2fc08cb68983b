package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"voice-gateway/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, userID, role string, allowed ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireIdentity(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serve(t, "u", RoleAdmin, RoleAgent); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AgentOnAdminRoute(t *testing.T) {
	if code := serve(t, "u", RoleAgent, RoleAdmin); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_UnknownRoleDenied(t *testing.T) {
	if code := serve(t, "u", "owner", "owner"); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireIdentity_UserRequired(t *testing.T) {
	if code := serve(t, "", RoleAgent, RoleAgent); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequireAnyRole_Allowed(t *testing.T) {
	if code := serve(t, "u", RoleAgent, RoleAgent, RoleAdmin); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}
