package calls

import (
	"errors"
	"time"

	"voice-gateway/internal/signaling"

	"github.com/looplab/fsm"
)

// CallStatus is the lifecycle state of a live call.
//
// ringing is the only initial state; rejected, terminated and missed are terminal.
type CallStatus string

const (
	CallStatusRinging    CallStatus = "ringing"
	CallStatusAccepted   CallStatus = "accepted"
	CallStatusRejected   CallStatus = "rejected"
	CallStatusTerminated CallStatus = "terminated"
	CallStatusMissed     CallStatus = "missed"
)

func (s CallStatus) Terminal() bool {
	return s == CallStatusRejected || s == CallStatusTerminated || s == CallStatusMissed
}

// EventType is the inbound call event discriminator.
type EventType string

const (
	EventRinging    EventType = "ringing"
	EventAccepted   EventType = "accepted"
	EventRejected   EventType = "rejected"
	EventTerminated EventType = "terminated"
	EventMissed     EventType = "missed"
)

// Event is one parsed call event from the webhook.
type Event struct {
	CallID   string
	Type     EventType
	From     string
	To       string
	SDPOffer string
}

// Reject reasons sent to the remote call-control API.
const (
	ReasonOutsideBusinessHours = "outside_business_hours"
	ReasonSDPProcessingFailed  = "sdp_processing_failed"
	ReasonCapacityExhausted    = "capacity_exhausted"
	ReasonCallEnded            = "call_already_ended"
)

var (
	ErrInvalidEvent = errors.New("calls: invalid event")
	ErrUnknownCall  = errors.New("calls: unknown call")
)

// CallState is one in-flight call. It is only read or written while the
// store's per-call lock is held.
type CallState struct {
	CallID string
	From   string
	To     string
	Status CallStatus

	StartedAt  time.Time
	AnsweredAt *time.Time
	EndedAt    *time.Time

	SDPOffer  string
	SDPAnswer string
	Setup     signaling.CallSetup

	machine *fsm.FSM
}

// DurationSeconds is set only once the call was answered and has ended.
func (c *CallState) DurationSeconds() (int64, bool) {
	if c.AnsweredAt == nil || c.EndedAt == nil {
		return 0, false
	}
	return int64(c.EndedAt.Sub(*c.AnsweredAt) / time.Second), true
}

// Snapshot is the read-only view served by the status API.
type Snapshot struct {
	CallID          string     `json:"call_id"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Status          CallStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	RTPPort         int        `json:"rtp_port"`
}

func (c *CallState) snapshot(now time.Time) Snapshot {
	s := Snapshot{
		CallID:     c.CallID,
		From:       c.From,
		To:         c.To,
		Status:     c.Status,
		StartedAt:  c.StartedAt,
		AnsweredAt: c.AnsweredAt,
		RTPPort:    c.Setup.RTPPort,
	}
	if c.AnsweredAt != nil {
		end := now
		if c.EndedAt != nil {
			end = *c.EndedAt
		}
		s.DurationSeconds = int64(end.Sub(*c.AnsweredAt) / time.Second)
	}
	return s
}
