package permission

import (
	"errors"
	"fmt"
	"time"
)

// Status of a permission request.
//
// Allowed transitions: pending->approved, pending->denied, approved->expired.
// denied and expired are final.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Request is one admission request for a caller identity.
type Request struct {
	ID          string     `json:"id"`
	Identity    string     `json:"identity"`
	Phone       string     `json:"phone"`
	Reason      string     `json:"reason,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	Status      Status     `json:"status"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// DenyReason is the machine-readable cause of a denial.
type DenyReason string

const (
	ReasonDailyLimit  DenyReason = "daily_limit"
	ReasonWeeklyLimit DenyReason = "weekly_limit"
	ReasonNoApproval  DenyReason = "no_approval"
	ReasonExpired     DenyReason = "expired"
)

// RequestEligibility is the result of CanRequestPermission.
type RequestEligibility struct {
	Allowed       bool       `json:"allowed"`
	Reason        DenyReason `json:"reason,omitempty"`
	NextAllowedAt *time.Time `json:"next_allowed_at,omitempty"`
	RequestsIn24h int        `json:"requests_in_24h"`
	RequestsIn7d  int        `json:"requests_in_7d"`
}

// CallEligibility is the result of CanMakeCall.
type CallEligibility struct {
	Allowed   bool       `json:"allowed"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    DenyReason `json:"reason,omitempty"`
}

// RequestInput is the payload of RequestPermission.
type RequestInput struct {
	Identity string `json:"identity"`
	Phone    string `json:"phone"`
	Reason   string `json:"reason"`
}

// RequestResult is returned by a successful RequestPermission.
type RequestResult struct {
	Success      bool   `json:"success"`
	PermissionID string `json:"permission_id"`
}

// Approval is returned by a successful ApprovePermission.
type Approval struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrInvalidArgument = errors.New("permission: invalid argument")
	ErrRateLimited     = errors.New("permission: rate limited")
	ErrNotFound        = errors.New("permission: not found")
	ErrAlreadyResolved = errors.New("permission: already resolved")
)

// RateLimitedError carries the eligibility snapshot that caused a denial.
// It matches ErrRateLimited with errors.Is.
type RateLimitedError struct {
	Eligibility RequestEligibility
}

func (e *RateLimitedError) Error() string {
	if e.Eligibility.NextAllowedAt != nil {
		return fmt.Sprintf("permission: rate limited (%s) until %s", e.Eligibility.Reason, e.Eligibility.NextAllowedAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("permission: rate limited (%s)", e.Eligibility.Reason)
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
