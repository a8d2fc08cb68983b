package signature

import (
	"bytes"
	"io"
	"net/http"

	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

const rawBodyKey = "raw_body"

// maxBodyBytes bounds a single delivery.
const maxBodyBytes = 1 << 20

// RequireSignature authenticates the raw request body before any parsing happens.
// On failure the whole delivery is rejected with 401 and nothing downstream runs.
func RequireSignature(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if len(body) > maxBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}

		if !v.Verify(body, c.GetHeader(HeaderName)) {
			logger.FromGin(c).Warn("webhook delivery rejected", "err", ErrAuthentication)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		c.Set(rawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// RawBody returns the authenticated body stored by RequireSignature.
func RawBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(rawBodyKey)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}
