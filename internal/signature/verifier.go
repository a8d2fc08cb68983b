package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"voice-gateway/pkg/logger"
)

// HeaderName carries "sha256=<hex-hmac>" over the raw request body.
const HeaderName = "X-Hub-Signature-256"

const prefix = "sha256="

// ErrAuthentication is returned when a delivery cannot be authenticated.
var ErrAuthentication = errors.New("signature: authentication failed")

// Verifier checks that an event delivery was signed with the shared secret.
//
// When no secret is configured the verifier fails closed unless AllowUnsigned
// is set. Config validation refuses AllowUnsigned in production.
type Verifier struct {
	secret        []byte
	allowUnsigned bool
	log           *slog.Logger
}

type Options struct {
	Secret        string
	AllowUnsigned bool
	Logger        *slog.Logger
}

func NewVerifier(opts Options) *Verifier {
	return &Verifier{
		secret:        []byte(opts.Secret),
		allowUnsigned: opts.AllowUnsigned,
		log:           logger.OrDefault(opts.Logger).With("component", "signature"),
	}
}

// Verify reports whether header is a valid signature of rawBody.
// rawBody must be the exact bytes received on the wire.
func (v *Verifier) Verify(rawBody []byte, header string) bool {
	if len(v.secret) == 0 {
		if v.allowUnsigned {
			v.log.Warn("webhook secret not configured; accepting unsigned delivery (non-production bypass)")
			return true
		}
		v.log.Error("webhook secret not configured; rejecting delivery")
		return false
	}

	header = strings.TrimSpace(header)
	if header == "" {
		v.log.Warn("signature header missing")
		return false
	}
	if !strings.HasPrefix(header, prefix) {
		v.log.Warn("signature header malformed")
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil || len(got) != sha256.Size {
		v.log.Warn("signature digest malformed")
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	// hmac.Equal runs in constant time for equal-length inputs.
	if !hmac.Equal(got, mac.Sum(nil)) {
		v.log.Warn("signature mismatch")
		return false
	}
	return true
}

// Sign returns the header value for body under secret. Used by tests and tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}
