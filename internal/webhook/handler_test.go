package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"voice-gateway/internal/calls"
	"voice-gateway/internal/permission"
	"voice-gateway/internal/signature"
	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "shh"

type fakeCalls struct {
	mu       sync.Mutex
	events   []calls.Event
	settings []json.RawMessage
	fail     map[string]error
}

func (f *fakeCalls) HandleEvent(_ context.Context, ev calls.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[ev.CallID]; err != nil {
		return err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeCalls) ApplySettings(_ context.Context, raw json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, raw)
	return nil
}

type fakePermissions struct {
	approved []string
	denied   []string
}

func (f *fakePermissions) ApprovePermission(id string) (permission.Approval, error) {
	if id == "missing" {
		return permission.Approval{}, permission.ErrNotFound
	}
	f.approved = append(f.approved, id)
	return permission.Approval{Success: true}, nil
}

func (f *fakePermissions) DenyPermission(id string) error {
	f.denied = append(f.denied, id)
	return nil
}

func newRouter(ev CallEvents, perms PermissionResolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(logger.Middleware(logger.Nop()))
	v := signature.NewVerifier(signature.Options{Secret: testSecret, Logger: logger.Nop()})
	NewHandler(ev, perms, "verify-me", nil).Register(r, "/webhook", v)
	return r
}

func post(t *testing.T, r http.Handler, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set(signature.HeaderName, signature.Sign(testSecret, []byte(body)))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) receiveResponse {
	t.Helper()
	var out receiveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestVerify_Handshake(t *testing.T) {
	r := newRouter(&fakeCalls{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReceive_RejectsBadSignature(t *testing.T) {
	fc := &fakeCalls{}
	r := newRouter(fc, nil)

	body := `{"entry":[{"changes":[{"field":"calls","value":{"call_id":"c1","event_type":"terminated"}}]}]}`
	w := post(t, r, body, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, fc.events)
}

func TestReceive_DispatchesEveryVariant(t *testing.T) {
	fc := &fakeCalls{}
	fp := &fakePermissions{}
	r := newRouter(fc, fp)

	body := `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[
		{"field":"calls","value":{"call_id":"c1","event_type":"RINGING","from":"+1","to":"+2","sdp_offer":"v=0"}},
		{"field":"account_settings_update","value":{"calling":"enabled"}},
		{"field":"call_permission_reply","value":{"permission_id":"p1","response":"accept","from":"+1"}},
		{"field":"call_permission_reply","value":{"permission_id":"p2","response":"reject","from":"+1"}},
		{"field":"messages","value":{}}
	]}]}`
	w := post(t, r, body, true)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, 4, out.Processed)
	assert.Equal(t, 1, out.Skipped)

	require.Len(t, fc.events, 1)
	assert.Equal(t, calls.EventRinging, fc.events[0].Type)
	assert.Equal(t, "v=0", fc.events[0].SDPOffer)
	require.Len(t, fc.settings, 1)
	assert.JSONEq(t, `{"calling":"enabled"}`, string(fc.settings[0]))
	assert.Equal(t, []string{"p1"}, fp.approved)
	assert.Equal(t, []string{"p2"}, fp.denied)
}

func TestReceive_IsolatesFailures(t *testing.T) {
	fc := &fakeCalls{fail: map[string]error{
		"bad":  errors.New("boom"),
		"gone": calls.ErrUnknownCall,
	}}
	fp := &fakePermissions{}
	r := newRouter(fc, fp)

	body := `{"entry":[
		{"changes":[{"field":"calls","value":{"call_id":"bad","event_type":"terminated"}}]},
		{"changes":[
			{"field":"calls","value":{"call_id":"gone","event_type":"terminated"}},
			{"field":"calls","value":"not-an-object"},
			{"field":"calls","value":{"call_id":"","event_type":"terminated"}},
			{"field":"calls","value":{"call_id":"c9","event_type":"ringing"}},
			{"field":"call_permission_reply","value":{"permission_id":"missing","response":"accept"}},
			{"field":"call_permission_reply","value":{"permission_id":"p3","response":"maybe"}},
			{"field":"calls","value":{"call_id":"ok","event_type":"terminated"}}
		]}
	]}`
	w := post(t, r, body, true)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, 1, out.Processed)
	assert.Equal(t, 7, out.Skipped)
	require.Len(t, fc.events, 1)
	assert.Equal(t, "ok", fc.events[0].CallID)
	assert.Empty(t, fp.approved)
}

func TestReceive_MalformedBody(t *testing.T) {
	r := newRouter(&fakeCalls{}, nil)
	w := post(t, r, `{"entry":`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReceive_EmptyBatch(t *testing.T) {
	r := newRouter(&fakeCalls{}, nil)
	w := post(t, r, `{"entry":[]}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Zero(t, out.Processed)
	assert.Zero(t, out.Skipped)
}

func TestParse_TypedVariants(t *testing.T) {
	changes, err := Parse([]byte(`{"entry":[{"changes":[
		{"field":"calls","value":{"call_id":" c1 ","event_type":"Terminated"}},
		{"field":"account_settings_update","value":null},
		{"field":"statuses","value":{}}
	]}]}`))
	require.NoError(t, err)
	require.Len(t, changes, 3)

	assert.Equal(t, KindCall, changes[0].Kind)
	assert.NoError(t, changes[0].Err)
	assert.Equal(t, "c1", changes[0].Call.CallID)
	assert.Equal(t, calls.EventTerminated, changes[0].Call.Type)

	assert.Equal(t, KindSettings, changes[1].Kind)
	assert.ErrorIs(t, changes[1].Err, calls.ErrInvalidEvent)

	assert.Equal(t, KindUnhandled, changes[2].Kind)
	assert.Equal(t, "statuses", changes[2].Field)

	_, err = Parse([]byte(`[]`))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}
