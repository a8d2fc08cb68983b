package records

import "time"

// Record is an immutable summary of a call that left the live table.
//
// Invariants:
// - Records are append-only.
// - DurationSeconds is set only when the call was answered.
type Record struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`
	From   string `json:"from" db:"from_number"`
	To     string `json:"to" db:"to_number"`

	// Status is the terminal status: rejected, terminated or missed.
	Status string `json:"status" db:"status"`
	// Reason is set when the gateway itself rejected the call.
	Reason string `json:"reason,omitempty" db:"reason"`

	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt         time.Time  `json:"ended_at" db:"ended_at"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
