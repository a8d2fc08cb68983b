package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"voice-gateway/internal/calls"
	"voice-gateway/internal/metrics"
	"voice-gateway/internal/permission"
	"voice-gateway/internal/signature"
	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallEvents is the slice of the call controller the webhook drives.
type CallEvents interface {
	HandleEvent(ctx context.Context, ev calls.Event) error
	ApplySettings(ctx context.Context, raw json.RawMessage) error
}

// PermissionResolver resolves pending permission requests from callee replies.
type PermissionResolver interface {
	ApprovePermission(id string) (permission.Approval, error)
	DenyPermission(id string) error
}

type Handler struct {
	calls       CallEvents
	permissions PermissionResolver
	verifyToken string
	metrics     *metrics.Counters
}

func NewHandler(events CallEvents, permissions PermissionResolver, verifyToken string, m *metrics.Counters) *Handler {
	return &Handler{calls: events, permissions: permissions, verifyToken: verifyToken, metrics: m}
}

// Register mounts GET (subscription handshake) and POST (signed events) on path.
func (h *Handler) Register(r gin.IRoutes, path string, v *signature.Verifier) {
	r.GET(path, h.Verify)
	r.POST(path, signature.RequireSignature(v), h.Receive)
}

// Verify answers the hub.challenge subscription handshake.
func (h *Handler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		logger.FromGin(c).Warn("webhook verification failed", "mode", mode)
		c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
		return
	}
	c.String(http.StatusOK, challenge)
}

type receiveResponse struct {
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
}

// Receive processes a verified batch. Each change is handled on its own; a
// failure is logged and counted as skipped.
func (h *Handler) Receive(c *gin.Context) {
	log := logger.FromGin(c)

	body, ok := signature.RawBody(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	changes, err := Parse(body)
	if err != nil {
		log.Warn("malformed webhook body", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}

	ctx := c.Request.Context()
	resp := receiveResponse{Status: "ok"}
	for _, ch := range changes {
		if err := h.apply(ctx, ch); err != nil {
			resp.Skipped++
			h.metrics.WebhookChange(ch.Field, "skipped")
			switch {
			case errors.Is(err, calls.ErrUnknownCall):
				log.Info("change for unknown call skipped", "field", ch.Field, "call_id", ch.Call.CallID)
			case errors.Is(err, errUnhandled):
				log.Info("unhandled webhook field", "field", ch.Field)
			default:
				log.Warn("webhook change skipped", "field", ch.Field, "call_id", ch.Call.CallID, "err", err)
			}
			continue
		}
		resp.Processed++
		h.metrics.WebhookChange(ch.Field, "processed")
	}
	c.JSON(http.StatusOK, resp)
}

var errUnhandled = errors.New("webhook: unhandled field")

func (h *Handler) apply(ctx context.Context, ch Change) error {
	if ch.Err != nil {
		return ch.Err
	}
	switch ch.Kind {
	case KindCall:
		return h.calls.HandleEvent(ctx, ch.Call)
	case KindSettings:
		return h.calls.ApplySettings(ctx, ch.Settings)
	case KindPermissionReply:
		if h.permissions == nil {
			return errUnhandled
		}
		if ch.Reply.Accepted() {
			_, err := h.permissions.ApprovePermission(ch.Reply.PermissionID)
			return err
		}
		return h.permissions.DenyPermission(ch.Reply.PermissionID)
	default:
		return errUnhandled
	}
}
