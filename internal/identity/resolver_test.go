package identity

import (
	"context"
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	if got := NormalizePhone("+1 (555) 000-1"); got != "15550001" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizePhone("abc"); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver(map[string]string{"+1 555 0001": "user-1"}, false)

	id, err := r.IdentityForPhone(context.Background(), "15550001")
	if err != nil || id != "user-1" {
		t.Fatalf("expected user-1, got %q %v", id, err)
	}

	if _, err := r.IdentityForPhone(context.Background(), "+4420"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	r.Set("+4420", "user-2")
	if id, _ := r.IdentityForPhone(context.Background(), "4420"); id != "user-2" {
		t.Fatalf("expected user-2, got %q", id)
	}
}

func TestStaticResolver_FallbackToPhone(t *testing.T) {
	r := NewStaticResolver(nil, true)
	id, err := r.IdentityForPhone(context.Background(), "+1 555 0009")
	if err != nil || id != "15550009" {
		t.Fatalf("expected phone fallback, got %q %v", id, err)
	}
	if _, err := r.IdentityForPhone(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty phone, got %v", err)
	}
}

type failingResolver struct{ err error }

func (f failingResolver) IdentityForPhone(context.Context, string) (string, error) {
	return "", f.err
}

func TestChain_FallsThroughMisses(t *testing.T) {
	first := NewStaticResolver(map[string]string{"+15550001": "from-table"}, false)
	second := NewStaticResolver(map[string]string{"+15550002": "from-ledger"}, false)
	c := Chain{first, second}

	if id, err := c.IdentityForPhone(context.Background(), "+15550001"); err != nil || id != "from-table" {
		t.Fatalf("expected first resolver to win, got %q %v", id, err)
	}
	if id, err := c.IdentityForPhone(context.Background(), "+15550002"); err != nil || id != "from-ledger" {
		t.Fatalf("expected fallback, got %q %v", id, err)
	}
	if _, err := c.IdentityForPhone(context.Background(), "+15550003"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChain_ErrorDoesNotHideLaterResolvers(t *testing.T) {
	down := errors.New("db down")
	c := Chain{failingResolver{down}, NewStaticResolver(map[string]string{"+15550002": "u2"}, false)}

	if id, err := c.IdentityForPhone(context.Background(), "+15550002"); err != nil || id != "u2" {
		t.Fatalf("expected fallback past failing resolver, got %q %v", id, err)
	}
	if _, err := c.IdentityForPhone(context.Background(), "+15550009"); !errors.Is(err, down) {
		t.Fatalf("expected the upstream error when nobody knows the phone, got %v", err)
	}
	if _, err := (Chain{}).IdentityForPhone(context.Background(), "+1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from empty chain, got %v", err)
	}
}
