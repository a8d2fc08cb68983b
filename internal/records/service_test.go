package records

import (
	"context"
	"testing"
	"time"
)

func TestService_RecordRequiresCallIDStatusAndEnd(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	end := time.Now()

	if err := svc.Record(context.Background(), Record{Status: "missed", EndedAt: end}); err != ErrInvalidRecord {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if err := svc.Record(context.Background(), Record{CallID: "c1", EndedAt: end}); err != ErrInvalidRecord {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if err := svc.Record(context.Background(), Record{CallID: "c1", Status: "missed"}); err != ErrInvalidRecord {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestService_AssignsIDAndCreatedAt(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	fixed := time.Date(2025, 3, 3, 10, 0, 0, 0, time.FixedZone("X", 3600))
	svc.clock = func() time.Time { return fixed }

	d := int64(60)
	err := svc.Record(context.Background(), Record{
		CallID:          "c1",
		From:            "+1",
		To:              "+2",
		Status:          "terminated",
		EndedAt:         fixed,
		DurationSeconds: &d,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	recs := repo.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record")
	}
	if recs[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if !recs[0].CreatedAt.Equal(fixed) || recs[0].CreatedAt.Location() != time.UTC {
		t.Fatalf("expected created_at in UTC, got %v", recs[0].CreatedAt)
	}
	if *recs[0].DurationSeconds != 60 {
		t.Fatalf("expected duration kept")
	}
}

func TestService_Unconfigured(t *testing.T) {
	var svc *Service
	if err := svc.Record(context.Background(), Record{CallID: "c1"}); err == nil {
		t.Fatalf("expected error")
	}
}
