package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voice-gateway/internal/identity"
	"voice-gateway/pkg/logger"
)

// Policy holds the window lengths. Zero values fall back to the defaults.
type Policy struct {
	DailyWindow  time.Duration
	WeeklyWindow time.Duration
	WeeklyMax    int
	ApprovalTTL  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		DailyWindow:  24 * time.Hour,
		WeeklyWindow: 7 * 24 * time.Hour,
		WeeklyMax:    2,
		ApprovalTTL:  72 * time.Hour,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.DailyWindow <= 0 {
		p.DailyWindow = d.DailyWindow
	}
	if p.WeeklyWindow <= 0 {
		p.WeeklyWindow = d.WeeklyWindow
	}
	if p.WeeklyMax <= 0 {
		p.WeeklyMax = d.WeeklyMax
	}
	if p.ApprovalTTL <= 0 {
		p.ApprovalTTL = d.ApprovalTTL
	}
	return p
}

// Prompter delivers the approval prompt to the target phone.
type Prompter interface {
	SendPermissionPrompt(ctx context.Context, phone, permissionID, reason string) error
}

// Manager gates requesting permission and placing calls once permission exists.
//
// History is kept per identity, each behind its own lock, so unrelated
// identities never contend. A secondary id index gives O(1) approve/deny lookups.
type Manager struct {
	policy   Policy
	prompter Prompter
	log      *slog.Logger

	Now func() time.Time

	// OnRequest, when set, runs after a prompt was sent successfully.
	OnRequest func(ctx context.Context, r Request)

	mu      sync.Mutex
	ledgers map[string]*ledger
	byID    map[string]string // permission id -> identity

	seq atomic.Uint64
}

// A ledger exists only while its identity has requests. Once emptied it is
// marked dead and dropped from the map; holders of a dead ledger must retry.
type ledger struct {
	identity string

	mu       sync.Mutex
	requests []*Request
	dead     bool
}

func NewManager(policy Policy, prompter Prompter, log *slog.Logger) *Manager {
	return &Manager{
		policy:   policy.withDefaults(),
		prompter: prompter,
		log:      logger.OrDefault(log).With("component", "permission"),
		Now:      time.Now,
		ledgers:  make(map[string]*ledger),
		byID:     make(map[string]string),
	}
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// lookup returns the identity's ledger, or nil. It never creates one.
func (m *Manager) lookup(identity string) *ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledgers[identity]
}

// lockLedger returns the identity's live ledger with l.mu held, creating it
// if needed. Only writers call it.
func (m *Manager) lockLedger(identity string) *ledger {
	for {
		m.mu.Lock()
		l, ok := m.ledgers[identity]
		if !ok {
			l = &ledger{identity: identity}
			m.ledgers[identity] = l
		}
		m.mu.Unlock()

		l.mu.Lock()
		if !l.dead {
			return l
		}
		l.mu.Unlock()
	}
}

// retireIfEmpty drops an empty ledger from the map. Must be called with l.mu held.
func (m *Manager) retireIfEmpty(l *ledger) {
	if l.dead || len(l.requests) > 0 {
		return
	}
	l.dead = true
	m.mu.Lock()
	if m.ledgers[l.identity] == l {
		delete(m.ledgers, l.identity)
	}
	m.mu.Unlock()
}

// CanRequestPermission evaluates the rolling windows for identity.
// The 24h rule is checked first and wins the reported reason.
func (m *Manager) CanRequestPermission(identity string) RequestEligibility {
	now := m.now()
	l := m.lookup(identity)
	if l == nil {
		return RequestEligibility{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return RequestEligibility{Allowed: true}
	}
	m.prune(l, now)
	el := m.eligibility(l, now)
	m.retireIfEmpty(l)
	return el
}

// eligibility must be called with l.mu held.
func (m *Manager) eligibility(l *ledger, now time.Time) RequestEligibility {
	var daily, weekly []time.Time
	for _, r := range l.requests {
		age := now.Sub(r.RequestedAt)
		if age < m.policy.DailyWindow {
			daily = append(daily, r.RequestedAt)
		}
		if age < m.policy.WeeklyWindow {
			weekly = append(weekly, r.RequestedAt)
		}
	}

	out := RequestEligibility{RequestsIn24h: len(daily), RequestsIn7d: len(weekly)}
	switch {
	case len(daily) >= 1:
		next := earliest(daily).Add(m.policy.DailyWindow)
		out.Reason = ReasonDailyLimit
		out.NextAllowedAt = &next
	case len(weekly) >= m.policy.WeeklyMax:
		next := earliest(weekly).Add(m.policy.WeeklyWindow)
		out.Reason = ReasonWeeklyLimit
		out.NextAllowedAt = &next
	default:
		out.Allowed = true
	}
	return out
}

// RequestPermission records a pending request and sends the approval prompt.
//
// The pending entry is reserved under the identity lock before the prompt goes
// out, so two concurrent requests cannot both pass the window check. If the
// prompt fails the reservation is rolled back.
func (m *Manager) RequestPermission(ctx context.Context, in RequestInput) (RequestResult, error) {
	in.Identity = strings.TrimSpace(in.Identity)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Identity == "" || in.Phone == "" {
		return RequestResult{}, ErrInvalidArgument
	}

	now := m.now()
	l := m.lockLedger(in.Identity)
	m.prune(l, now)
	if el := m.eligibility(l, now); !el.Allowed {
		l.mu.Unlock()
		m.log.Info("permission request rate limited", "identity", in.Identity, "reason", el.Reason)
		return RequestResult{}, &RateLimitedError{Eligibility: el}
	}
	req := &Request{
		ID:          m.newID(in.Identity, now),
		Identity:    in.Identity,
		Phone:       in.Phone,
		Reason:      in.Reason,
		RequestedAt: now,
		Status:      StatusPending,
	}
	l.requests = append(l.requests, req)
	m.mu.Lock()
	m.byID[req.ID] = in.Identity
	m.mu.Unlock()
	l.mu.Unlock()

	if m.prompter != nil {
		if err := m.prompter.SendPermissionPrompt(ctx, in.Phone, req.ID, in.Reason); err != nil {
			m.rollback(l, req.ID)
			m.log.Error("permission prompt failed", "identity", in.Identity, "permission_id", req.ID, "err", err)
			return RequestResult{}, fmt.Errorf("permission: send prompt: %w", err)
		}
	}

	m.log.Info("permission requested", "identity", in.Identity, "permission_id", req.ID)
	if m.OnRequest != nil {
		m.OnRequest(ctx, *req)
	}
	return RequestResult{Success: true, PermissionID: req.ID}, nil
}

func (m *Manager) rollback(l *ledger, id string) {
	l.mu.Lock()
	for i, r := range l.requests {
		if r.ID == id {
			l.requests = append(l.requests[:i], l.requests[i+1:]...)
			break
		}
	}
	m.retireIfEmpty(l)
	l.mu.Unlock()

	m.mu.Lock()
	delete(m.byID, id)
	m.mu.Unlock()
}

// ApprovePermission moves a pending request to approved and stamps its expiry.
func (m *Manager) ApprovePermission(id string) (Approval, error) {
	var out Approval
	err := m.resolve(id, func(r *Request, now time.Time) {
		exp := now.Add(m.policy.ApprovalTTL)
		approvedAt := now
		r.Status = StatusApproved
		r.ApprovedAt = &approvedAt
		r.ExpiresAt = &exp
		out = Approval{Success: true, ExpiresAt: exp}
	})
	if err != nil {
		return Approval{}, err
	}
	m.log.Info("permission approved", "permission_id", id, "expires_at", out.ExpiresAt)
	return out, nil
}

// DenyPermission moves a pending request to denied.
func (m *Manager) DenyPermission(id string) error {
	err := m.resolve(id, func(r *Request, _ time.Time) {
		r.Status = StatusDenied
	})
	if err != nil {
		return err
	}
	m.log.Info("permission denied", "permission_id", id)
	return nil
}

func (m *Manager) resolve(id string, apply func(r *Request, now time.Time)) error {
	m.mu.Lock()
	identity, ok := m.byID[id]
	l := m.ledgers[identity]
	m.mu.Unlock()
	if !ok || l == nil {
		return ErrNotFound
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.requests {
		if r.ID != id {
			continue
		}
		if r.Status != StatusPending {
			return ErrAlreadyResolved
		}
		apply(r, m.now())
		return nil
	}
	// Indexed but pruned or reset in the meantime.
	return ErrNotFound
}

// CanMakeCall checks the most recent approval for identity.
func (m *Manager) CanMakeCall(identity string) CallEligibility {
	now := m.now()
	l := m.lookup(identity)
	if l == nil {
		return CallEligibility{Reason: ReasonNoApproval}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var latest *Request
	for _, r := range l.requests {
		if r.ApprovedAt == nil {
			continue
		}
		if latest == nil || r.ApprovedAt.After(*latest.ApprovedAt) {
			latest = r
		}
	}
	if latest == nil {
		return CallEligibility{Reason: ReasonNoApproval}
	}
	if latest.Status != StatusApproved {
		return CallEligibility{Reason: DenyReason(latest.Status)}
	}
	if expireIfDue(latest, now) {
		m.log.Info("permission expired", "identity", identity, "permission_id", latest.ID)
		return CallEligibility{Reason: ReasonExpired}
	}
	exp := *latest.ExpiresAt
	return CallEligibility{Allowed: true, ExpiresAt: &exp}
}

// ResetLimitsAfterCall clears the identity's history after a connected call.
func (m *Manager) ResetLimitsAfterCall(identity string) {
	var ids []string
	if l := m.lookup(identity); l != nil {
		l.mu.Lock()
		for _, r := range l.requests {
			ids = append(ids, r.ID)
		}
		l.requests = nil
		m.retireIfEmpty(l)
		l.mu.Unlock()
	}

	m.mu.Lock()
	for _, id := range ids {
		delete(m.byID, id)
	}
	m.mu.Unlock()

	m.log.Info("permission limits reset after connected call", "identity", identity, "cleared", len(ids))
}

// History returns a copy of the identity's requests, oldest first.
func (m *Manager) History(identity string) []Request {
	l := m.lookup(identity)
	if l == nil {
		return []Request{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Request, 0, len(l.requests))
	for _, r := range l.requests {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// IdentityForPhone returns the identity whose most recent request prompted
// phone. It serves as the phone lookup of last resort for inbound calls.
func (m *Manager) IdentityForPhone(ctx context.Context, phone string) (string, error) {
	p := identity.NormalizePhone(phone)
	if p == "" {
		return "", identity.ErrNotFound
	}

	m.mu.Lock()
	ls := make([]*ledger, 0, len(m.ledgers))
	for _, l := range m.ledgers {
		ls = append(ls, l)
	}
	m.mu.Unlock()

	var (
		found  string
		latest time.Time
	)
	for _, l := range ls {
		l.mu.Lock()
		for _, r := range l.requests {
			if identity.NormalizePhone(r.Phone) == p && (found == "" || r.RequestedAt.After(latest)) {
				found, latest = r.Identity, r.RequestedAt
			}
		}
		l.mu.Unlock()
	}
	if found == "" {
		return "", identity.ErrNotFound
	}
	return found, nil
}

// expireIfDue is the single place approval expiry is evaluated.
// It flips an approved request to expired once now >= ExpiresAt.
func expireIfDue(r *Request, now time.Time) bool {
	if r.Status != StatusApproved || r.ExpiresAt == nil {
		return false
	}
	if now.Before(*r.ExpiresAt) {
		return false
	}
	r.Status = StatusExpired
	return true
}

// prune drops entries outside the weekly window, keeping live approvals.
// Must be called with l.mu held.
func (m *Manager) prune(l *ledger, now time.Time) {
	kept := l.requests[:0]
	var dropped []string
	for _, r := range l.requests {
		if now.Sub(r.RequestedAt) < m.policy.WeeklyWindow {
			kept = append(kept, r)
			continue
		}
		if r.Status == StatusApproved && !expireIfDue(r, now) {
			kept = append(kept, r)
			continue
		}
		dropped = append(dropped, r.ID)
	}
	for i := len(kept); i < len(l.requests); i++ {
		l.requests[i] = nil
	}
	l.requests = kept

	if len(dropped) == 0 {
		return
	}
	// Lock order is always ledger then manager.
	m.mu.Lock()
	for _, id := range dropped {
		delete(m.byID, id)
	}
	m.mu.Unlock()
}

func (m *Manager) newID(identity string, now time.Time) string {
	return fmt.Sprintf("perm_%d_%d_%s", now.UnixMilli(), m.seq.Add(1), fragment(identity))
}

func fragment(identity string) string {
	var b strings.Builder
	for _, r := range identity {
		if b.Len() >= 8 {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "anon"
	}
	return b.String()
}

func earliest(ts []time.Time) time.Time {
	min := ts[0]
	for _, t := range ts[1:] {
		if t.Before(min) {
			min = t
		}
	}
	return min
}

// IsClientError reports whether err is caused by the caller rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyResolved)
}
