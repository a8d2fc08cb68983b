package records

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call records. It is append-only.
type Repository interface {
	Append(ctx context.Context, r Record) error
}

// Service writes completed-call records. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidRecord = errors.New("records: invalid record")

func (s *Service) Record(ctx context.Context, r Record) error {
	if s == nil || s.repo == nil {
		return errors.New("records: repository not configured")
	}
	if r.CallID == "" || r.Status == "" {
		return ErrInvalidRecord
	}
	if r.EndedAt.IsZero() {
		return ErrInvalidRecord
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, r)
}
