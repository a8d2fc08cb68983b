package signature

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var body = []byte(`{"entry":[{"changes":[{"field":"calls","value":{"call_id":"c1","event_type":"ringing"}}]}]}`)

func newVerifier(secret string, allowUnsigned bool) *Verifier {
	return NewVerifier(Options{Secret: secret, AllowUnsigned: allowUnsigned, Logger: logger.Nop()})
}

func TestVerify_AcceptsValidSignature(t *testing.T) {
	v := newVerifier("s3cret", false)
	assert.True(t, v.Verify(body, Sign("s3cret", body)))
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	v := newVerifier("s3cret", false)
	sig := Sign("s3cret", body)

	// One byte differs and the payload is still valid JSON.
	tampered := bytes.Replace(body, []byte(`"c1"`), []byte(`"c2"`), 1)
	require.True(t, json.Valid(tampered))

	assert.False(t, v.Verify(tampered, sig))
}

func TestVerify_RejectsMissingAndMalformedHeaders(t *testing.T) {
	v := newVerifier("s3cret", false)
	sig := Sign("s3cret", body)

	assert.False(t, v.Verify(body, ""))
	assert.False(t, v.Verify(body, sig[len("sha256="):]))
	assert.False(t, v.Verify(body, "sha1="+sig[len("sha256="):]))
	assert.False(t, v.Verify(body, "sha256=zz"))
	assert.False(t, v.Verify(body, Sign("other", body)))
}

func TestVerify_UnconfiguredSecret(t *testing.T) {
	assert.False(t, newVerifier("", false).Verify(body, ""))
	assert.True(t, newVerifier("", true).Verify(body, ""))
}

func TestNewVerifier_NilLoggerUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	v := NewVerifier(Options{})
	assert.False(t, v.Verify(body, ""))
	assert.Contains(t, buf.String(), "component=signature")
	assert.Contains(t, buf.String(), "rejecting delivery")
}

func TestRequireSignature_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reached := false
	r := gin.New()
	r.POST("/hook", RequireSignature(newVerifier("s3cret", false)), func(c *gin.Context) {
		reached = true
		raw, ok := RawBody(c)
		require.True(t, ok)
		assert.Equal(t, body, raw)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set(HeaderName, Sign("wrong", body))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, reached)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set(HeaderName, Sign("s3cret", body))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, reached)
}
