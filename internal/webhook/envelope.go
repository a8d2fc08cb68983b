package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"voice-gateway/internal/calls"
)

// Envelope is the inbound webhook body: entry[].changes[].
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string      `json:"id"`
	Changes []rawChange `json:"changes"`
}

type rawChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

const (
	FieldCalls           = "calls"
	FieldAccountSettings = "account_settings_update"
	FieldPermissionReply = "call_permission_reply"
)

type Kind int

const (
	KindUnhandled Kind = iota
	KindCall
	KindSettings
	KindPermissionReply
)

// PermissionReply is the callee's answer to an approval prompt.
type PermissionReply struct {
	PermissionID string `json:"permission_id"`
	Response     string `json:"response"`
	From         string `json:"from"`
}

func (r PermissionReply) Accepted() bool { return r.Response == "accept" }

// Change is one typed change item. Exactly one payload is set, matching Kind.
type Change struct {
	Kind  Kind
	Field string

	Call     calls.Event
	Settings json.RawMessage
	Reply    PermissionReply

	// Err is set when the item could not be parsed; siblings are unaffected.
	Err error
}

var ErrMalformedEnvelope = errors.New("webhook: malformed envelope")

type callValue struct {
	CallID    string `json:"call_id"`
	EventType string `json:"event_type"`
	From      string `json:"from"`
	To        string `json:"to"`
	SDPOffer  string `json:"sdp_offer"`
}

// Parse decodes the envelope and every change in it. Only a body that is not
// an envelope at all is an error; bad items come back with Err set.
func Parse(body []byte) ([]Change, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var out []Change
	for _, e := range env.Entry {
		for _, rc := range e.Changes {
			out = append(out, parseChange(rc))
		}
	}
	return out, nil
}

func parseChange(rc rawChange) Change {
	ch := Change{Field: rc.Field}
	switch rc.Field {
	case FieldCalls:
		ch.Kind = KindCall
		var v callValue
		if err := json.Unmarshal(rc.Value, &v); err != nil {
			ch.Err = fmt.Errorf("%w: calls value: %v", calls.ErrInvalidEvent, err)
			return ch
		}
		ch.Call = calls.Event{
			CallID:   strings.TrimSpace(v.CallID),
			Type:     calls.EventType(strings.ToLower(strings.TrimSpace(v.EventType))),
			From:     v.From,
			To:       v.To,
			SDPOffer: v.SDPOffer,
		}
		switch {
		case ch.Call.CallID == "":
			ch.Err = fmt.Errorf("%w: missing call_id", calls.ErrInvalidEvent)
		case ch.Call.Type == calls.EventRinging && ch.Call.SDPOffer == "":
			ch.Err = fmt.Errorf("%w: ringing without sdp_offer", calls.ErrInvalidEvent)
		}
	case FieldAccountSettings:
		ch.Kind = KindSettings
		if len(rc.Value) == 0 || string(rc.Value) == "null" {
			ch.Err = fmt.Errorf("%w: empty settings", calls.ErrInvalidEvent)
			return ch
		}
		ch.Settings = rc.Value
	case FieldPermissionReply:
		ch.Kind = KindPermissionReply
		if err := json.Unmarshal(rc.Value, &ch.Reply); err != nil {
			ch.Err = fmt.Errorf("webhook: permission reply: %w", err)
			return ch
		}
		if ch.Reply.PermissionID == "" {
			ch.Err = errors.New("webhook: permission reply without permission_id")
		} else if ch.Reply.Response != "accept" && ch.Reply.Response != "reject" {
			ch.Err = fmt.Errorf("webhook: permission reply response %q", ch.Reply.Response)
		}
	default:
		ch.Kind = KindUnhandled
	}
	return ch
}
