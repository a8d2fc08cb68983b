package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"voice-gateway/pkg/utils"
)

var ErrNotFound = errors.New("identity: no identity for phone")

// Resolver maps a caller phone number to the opaque identity used for admission control.
type Resolver interface {
	IdentityForPhone(ctx context.Context, phone string) (string, error)
}

// NormalizePhone strips formatting so "+1 (555) 000-1" and "15550001" compare equal.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const schema = `
CREATE TABLE IF NOT EXISTS caller_identities (
	phone      TEXT PRIMARY KEY,
	identity   TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresResolver looks identities up in the caller_identities table, keyed
// by normalized phone.
type PostgresResolver struct {
	db *sql.DB
}

func NewPostgresResolver(db *sql.DB) *PostgresResolver { return &PostgresResolver{db: db} }

func (r *PostgresResolver) EnsureSchema(ctx context.Context) error {
	return utils.ApplySchema(ctx, r.db, "identity", schema)
}

// Remember upserts the phone->identity mapping.
func (r *PostgresResolver) Remember(ctx context.Context, phone, identity string) error {
	p := NormalizePhone(phone)
	if p == "" || strings.TrimSpace(identity) == "" {
		return errors.New("identity: remember: empty phone or identity")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO caller_identities (phone, identity, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (phone) DO UPDATE SET identity = EXCLUDED.identity, updated_at = EXCLUDED.updated_at`,
		p, identity,
	)
	if err != nil {
		return fmt.Errorf("identity: remember: %w", err)
	}
	return nil
}

func (r *PostgresResolver) IdentityForPhone(ctx context.Context, phone string) (string, error) {
	p := NormalizePhone(phone)
	if p == "" {
		return "", ErrNotFound
	}

	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT identity FROM caller_identities WHERE phone = $1`, p,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("identity: lookup: %w", err)
	}
	return id, nil
}

// StaticResolver serves a fixed phone->identity map. Unknown phones fall back
// to the normalized number itself when FallbackToPhone is set.
type StaticResolver struct {
	FallbackToPhone bool

	mu sync.RWMutex
	m  map[string]string
}

func NewStaticResolver(entries map[string]string, fallbackToPhone bool) *StaticResolver {
	m := make(map[string]string, len(entries))
	for phone, id := range entries {
		m[NormalizePhone(phone)] = id
	}
	return &StaticResolver{FallbackToPhone: fallbackToPhone, m: m}
}

func (r *StaticResolver) Set(phone, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[NormalizePhone(phone)] = identity
}

func (r *StaticResolver) IdentityForPhone(ctx context.Context, phone string) (string, error) {
	p := NormalizePhone(phone)
	r.mu.RLock()
	id, ok := r.m[p]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}
	if r.FallbackToPhone && p != "" {
		return p, nil
	}
	return "", ErrNotFound
}

// Chain asks each resolver in order and returns the first identity found.
// A failing resolver does not stop the walk; its error is returned only when
// no later resolver knows the phone.
type Chain []Resolver

func (c Chain) IdentityForPhone(ctx context.Context, phone string) (string, error) {
	var firstErr error
	for _, r := range c {
		id, err := r.IdentityForPhone(ctx, phone)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return "", firstErr
	}
	return "", ErrNotFound
}
