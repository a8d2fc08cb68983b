package callcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voice-gateway/pkg/logger"
)

var ErrUpstream = errors.New("callcontrol: upstream failure")

// UpstreamError is returned when the remote API answers with a non-2xx status
// or cannot be reached. It matches ErrUpstream with errors.Is.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("callcontrol: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("callcontrol: %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) Unwrap() error { return e.Err }

type Options struct {
	BaseURL          string
	AccessToken      string
	PhoneNumberID    string
	Timeout          time.Duration
	TemplateName     string
	TemplateLanguage string
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Client talks to the remote call-control and messaging API.
type Client struct {
	baseURL  string
	token    string
	phoneID  string
	template string
	lang     string
	http     *http.Client
	log      *slog.Logger
}

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.AccessToken,
		phoneID:  opts.PhoneNumberID,
		template: opts.TemplateName,
		lang:     opts.TemplateLanguage,
		http:     hc,
		log:      logger.OrDefault(opts.Logger).With("component", "callcontrol"),
	}
}

type sessionPayload struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

type callActionRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	CallID           string          `json:"call_id"`
	Action           string          `json:"action"`
	Session          *sessionPayload `json:"session,omitempty"`
	CallbackData     string          `json:"biz_opaque_callback_data,omitempty"`
}

// SendAnswer accepts the call with our SDP answer.
func (c *Client) SendAnswer(ctx context.Context, callID, sdpAnswer string) error {
	return c.post(ctx, "send answer", c.phoneID+"/calls", callActionRequest{
		MessagingProduct: "whatsapp",
		CallID:           callID,
		Action:           "accept",
		Session:          &sessionPayload{SDPType: "answer", SDP: sdpAnswer},
	}, "call_id", callID)
}

// RejectCall declines the call. reason travels as opaque callback data.
func (c *Client) RejectCall(ctx context.Context, callID, reason string) error {
	return c.post(ctx, "reject call", c.phoneID+"/calls", callActionRequest{
		MessagingProduct: "whatsapp",
		CallID:           callID,
		Action:           "reject",
		CallbackData:     reason,
	}, "call_id", callID, "reason", reason)
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
	CallbackData     string       `json:"biz_opaque_callback_data"`
}

// SendPermissionPrompt sends the approval template to phone. The permission id
// comes back as callback data on the reply.
func (c *Client) SendPermissionPrompt(ctx context.Context, phone, permissionID, reason string) error {
	msg := templateMessage{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "template",
		Template: templateBody{
			Name:     c.template,
			Language: templateLanguage{Code: c.lang},
		},
		CallbackData: permissionID,
	}
	if reason != "" {
		msg.Template.Components = []templateComponent{{
			Type:       "body",
			Parameters: []templateParameter{{Type: "text", Text: reason}},
		}}
	}
	return c.post(ctx, "send permission prompt", c.phoneID+"/messages", msg, "permission_id", permissionID)
}

func (c *Client) post(ctx context.Context, op, path string, payload any, attrs ...any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("callcontrol: %s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("callcontrol: %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	c.log.Debug(op+" ok", append(attrs, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())...)
	return nil
}
