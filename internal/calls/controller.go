package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voice-gateway/internal/hours"
	"voice-gateway/internal/identity"
	"voice-gateway/internal/metrics"
	"voice-gateway/internal/notify"
	"voice-gateway/internal/records"
	"voice-gateway/internal/signaling"
	"voice-gateway/pkg/logger"
)

// CallControl is the remote call-control API.
type CallControl interface {
	SendAnswer(ctx context.Context, callID, sdpAnswer string) error
	RejectCall(ctx context.Context, callID, reason string) error
}

// Signaling negotiates media and owns RTP capacity.
type Signaling interface {
	ProcessOffer(ctx context.Context, in signaling.Offer) (signaling.Answer, error)
	ReleaseRTPPort(port int)
	AvailableCapacity() signaling.Capacity
}

// HoursGate decides whether calls are taken right now.
type HoursGate interface {
	IsWithinCallHours(ctx context.Context) (hours.Availability, error)
	HandleOutOfHours(ctx context.Context, call hours.OutOfHoursCall) error
}

// LimitResetter clears admission history after a connected call.
type LimitResetter interface {
	ResetLimitsAfterCall(identity string)
}

// Recorder persists completed calls.
type Recorder interface {
	Record(ctx context.Context, r records.Record) error
}

type Deps struct {
	Store       Store
	Signaling   Signaling
	Gate        HoursGate
	CallControl CallControl
	Identities  identity.Resolver
	Permissions LimitResetter
	Records     Recorder
	Notifier    notify.Notifier
	Settings    *Settings
	Metrics     *metrics.Counters
	Logger      *slog.Logger
}

// Controller drives the per-call state machine from inbound events.
//
// Outbound I/O (answer, reject, identity lookup, records, notifications) never
// runs while a call lock is held.
type Controller struct {
	store       Store
	signaling   Signaling
	gate        HoursGate
	callControl CallControl
	identities  identity.Resolver
	permissions LimitResetter
	records     Recorder
	notifier    notify.Notifier
	settings    *Settings
	metrics     *metrics.Counters
	log         *slog.Logger

	Now func() time.Time
}

func NewController(d Deps) *Controller {
	c := &Controller{
		store:       d.Store,
		signaling:   d.Signaling,
		gate:        d.Gate,
		callControl: d.CallControl,
		identities:  d.Identities,
		permissions: d.Permissions,
		records:     d.Records,
		notifier:    d.Notifier,
		settings:    d.Settings,
		metrics:     d.Metrics,
		log:         logger.OrDefault(d.Logger).With("component", "calls"),
		Now:         time.Now,
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.settings == nil {
		c.settings = NewSettings()
	}
	return c
}

// HandleEvent applies one call event. Unknown calls yield ErrUnknownCall and
// leave no state behind; callers log and move on.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) error {
	if ev.CallID == "" {
		return fmt.Errorf("%w: missing call_id", ErrInvalidEvent)
	}
	c.metrics.CallEvent(string(ev.Type))

	switch ev.Type {
	case EventRinging:
		return c.onRinging(ctx, ev)
	case EventAccepted:
		return c.onAccepted(ctx, ev)
	case EventRejected, EventTerminated, EventMissed:
		return c.onTerminal(ctx, ev)
	default:
		return fmt.Errorf("%w: unsupported event_type %q", ErrInvalidEvent, ev.Type)
	}
}

func (c *Controller) onRinging(ctx context.Context, ev Event) error {
	log := c.log.With("call_id", ev.CallID)

	unlock := c.store.Lock(ev.CallID)
	_, dup := c.store.Get(ev.CallID)
	ended := c.store.Buried(ev.CallID, c.Now())
	unlock()
	if dup {
		log.Warn("duplicate ringing ignored")
		return nil
	}
	if ended {
		log.Warn("ringing for an ended call ignored")
		return nil
	}

	avail, err := c.gate.IsWithinCallHours(ctx)
	if err != nil {
		log.Error("business hours check failed; taking the call", "err", err)
		avail.Available = true
	}
	if !avail.Available {
		if err := c.gate.HandleOutOfHours(ctx, hours.OutOfHoursCall{CallID: ev.CallID, From: ev.From}); err != nil {
			log.Error("out-of-hours handling failed", "err", err)
		}
		c.notify(ctx, notify.KindOutOfHoursCall, ev)
		c.reject(ctx, ev, ReasonOutsideBusinessHours)
		return nil
	}

	ans, err := c.signaling.ProcessOffer(ctx, signaling.Offer{CallID: ev.CallID, From: ev.From, SDP: ev.SDPOffer})
	if err != nil {
		reason := ReasonSDPProcessingFailed
		if errors.Is(err, signaling.ErrCapacityExhausted) {
			reason = ReasonCapacityExhausted
		}
		log.Warn("offer processing failed", "err", err, "reason", reason)
		c.reject(ctx, ev, reason)
		return nil
	}

	st := &CallState{
		CallID:    ev.CallID,
		From:      ev.From,
		To:        ev.To,
		Status:    CallStatusRinging,
		StartedAt: c.Now(),
		SDPOffer:  ev.SDPOffer,
		SDPAnswer: ans.SDP,
		Setup:     ans.Setup,
		machine:   newCallMachine(),
	}
	unlock = c.store.Lock(ev.CallID)
	ended = c.store.Buried(ev.CallID, c.Now())
	stored := !ended && c.store.Put(st)
	unlock()
	if !stored {
		c.signaling.ReleaseRTPPort(ans.Setup.RTPPort)
		if ended {
			log.Warn("call ended while ringing was in flight", "rtp_port", ans.Setup.RTPPort)
			c.reject(ctx, ev, ReasonCallEnded)
			return nil
		}
		log.Warn("duplicate ringing ignored", "rtp_port", ans.Setup.RTPPort)
		return nil
	}

	if err := c.callControl.SendAnswer(ctx, ev.CallID, ans.SDP); err != nil {
		log.Error("sending sdp answer failed", "err", err)
		unlock = c.store.Lock(ev.CallID)
		if cur, ok := c.store.Get(ev.CallID); ok && cur == st {
			c.signaling.ReleaseRTPPort(cur.Setup.RTPPort)
			c.store.Delete(ev.CallID)
		}
		unlock()
		c.reject(ctx, ev, ReasonSDPProcessingFailed)
		return nil
	}

	log.Info("call ringing", "from", ev.From, "to", ev.To, "rtp_port", ans.Setup.RTPPort)
	return nil
}

func (c *Controller) onAccepted(ctx context.Context, ev Event) error {
	log := c.log.With("call_id", ev.CallID)

	unlock := c.store.Lock(ev.CallID)
	st, ok := c.store.Get(ev.CallID)
	if !ok {
		unlock()
		log.Info("accepted event for unknown call")
		return ErrUnknownCall
	}
	if err := st.transition(ctx, fsmAccept); err != nil {
		status := st.Status
		unlock()
		log.Warn("illegal transition ignored", "event", ev.Type, "status", status, "err", err)
		return nil
	}
	now := c.Now()
	st.AnsweredAt = &now
	from := st.From
	unlock()

	log.Info("call accepted")
	c.resetLimits(ctx, log, from)
	return nil
}

func (c *Controller) resetLimits(ctx context.Context, log *slog.Logger, phone string) {
	if c.identities == nil || c.permissions == nil {
		return
	}
	id, err := c.identities.IdentityForPhone(ctx, phone)
	if err != nil {
		log.Warn("no identity for caller; permission history kept", "err", err)
		return
	}
	c.permissions.ResetLimitsAfterCall(id)
}

func (c *Controller) onTerminal(ctx context.Context, ev Event) error {
	log := c.log.With("call_id", ev.CallID)

	unlock := c.store.Lock(ev.CallID)
	st, ok := c.store.Get(ev.CallID)
	now := c.Now()
	c.store.Bury(ev.CallID, now)
	if !ok {
		c.store.Delete(ev.CallID)
		unlock()
		log.Warn("unknown call", "event", ev.Type)
		return ErrUnknownCall
	}

	if err := st.transition(ctx, terminalEvents[ev.Type]); err != nil {
		// Cleanup still runs; the event's own status is what gets recorded.
		log.Warn("illegal transition on terminal event", "event", ev.Type, "status", st.Status, "err", err)
		st.Status = CallStatus(ev.Type)
	}
	st.EndedAt = &now
	rec := c.recordOf(st)

	c.signaling.ReleaseRTPPort(st.Setup.RTPPort)
	c.store.Delete(ev.CallID)
	unlock()

	if rec.DurationSeconds != nil {
		c.metrics.CallDuration(*rec.DurationSeconds)
		log.Info("call ended", "status", rec.Status, "duration_seconds", *rec.DurationSeconds)
	} else {
		log.Info("call ended", "status", rec.Status)
	}

	c.record(ctx, rec)
	if ev.Type == EventMissed {
		c.notify(ctx, notify.KindMissedCall, ev)
	}
	return nil
}

// ApplySettings merges an account settings update. No call state is touched.
func (c *Controller) ApplySettings(ctx context.Context, raw json.RawMessage) error {
	keys, err := c.settings.Apply(raw, c.Now())
	if err != nil {
		return err
	}
	c.log.Info("account settings updated", "keys", keys)
	return nil
}

func (c *Controller) reject(ctx context.Context, ev Event, reason string) {
	c.metrics.CallRejected(reason)
	if err := c.callControl.RejectCall(ctx, ev.CallID, reason); err != nil {
		c.log.Error("reject call failed", "call_id", ev.CallID, "reason", reason, "err", err)
	} else {
		c.log.Info("call rejected", "call_id", ev.CallID, "reason", reason)
	}

	now := c.Now()
	c.record(ctx, records.Record{
		CallID:    ev.CallID,
		From:      ev.From,
		To:        ev.To,
		Status:    string(CallStatusRejected),
		Reason:    reason,
		StartedAt: now,
		EndedAt:   now,
	})
}

func (c *Controller) recordOf(st *CallState) records.Record {
	r := records.Record{
		CallID:     st.CallID,
		From:       st.From,
		To:         st.To,
		Status:     string(st.Status),
		StartedAt:  st.StartedAt,
		AnsweredAt: st.AnsweredAt,
	}
	if st.EndedAt != nil {
		r.EndedAt = *st.EndedAt
	}
	if d, ok := st.DurationSeconds(); ok {
		r.DurationSeconds = &d
	}
	return r
}

func (c *Controller) record(ctx context.Context, r records.Record) {
	if c.records == nil {
		return
	}
	if err := c.records.Record(ctx, r); err != nil {
		c.log.Error("writing call record failed", "call_id", r.CallID, "err", err)
	}
}

func (c *Controller) notify(ctx context.Context, kind notify.Kind, ev Event) {
	err := c.notifier.Notify(ctx, notify.Event{Kind: kind, CallID: ev.CallID, From: ev.From, At: c.Now()})
	if err != nil {
		c.log.Warn("ops notification failed", "call_id", ev.CallID, "kind", kind, "err", err)
	}
}

// Status is the read-only operational view.
type Status struct {
	Capacity signaling.Capacity `json:"capacity"`
	Calls    []Snapshot         `json:"calls"`
	Settings SettingsSnapshot   `json:"settings"`
}

func (c *Controller) Status() Status {
	return Status{
		Capacity: c.signaling.AvailableCapacity(),
		Calls:    c.store.Snapshots(c.Now()),
		Settings: c.settings.Snapshot(),
	}
}

// LiveCallCounts groups live calls by status for the metrics collector.
func (c *Controller) LiveCallCounts() map[string]int {
	out := map[string]int{}
	for _, s := range c.store.Snapshots(c.Now()) {
		out[string(s.Status)]++
	}
	return out
}

// Get returns a snapshot of one live call.
func (c *Controller) Get(callID string) (Snapshot, bool) {
	unlock := c.store.Lock(callID)
	defer unlock()
	st, ok := c.store.Get(callID)
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(c.Now()), true
}
