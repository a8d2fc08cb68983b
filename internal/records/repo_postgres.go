package records

import (
	"context"
	"database/sql"
	"fmt"

	"voice-gateway/pkg/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_records (
	id               UUID PRIMARY KEY,
	call_id          TEXT NOT NULL,
	from_number      TEXT NOT NULL,
	to_number        TEXT NOT NULL,
	status           TEXT NOT NULL,
	reason           TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ NOT NULL,
	answered_at      TIMESTAMPTZ,
	ended_at         TIMESTAMPTZ NOT NULL,
	duration_seconds BIGINT,
	created_at       TIMESTAMPTZ NOT NULL
)`

const indexes = `CREATE INDEX IF NOT EXISTS call_records_call_id_idx ON call_records (call_id)`

// PostgresRepo stores records in the call_records table through database/sql (pgx driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureSchema creates the table and its index in one transaction.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.ApplySchema(ctx, r.db, "records", schema, indexes)
}

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_records
			(id, call_id, from_number, to_number, status, reason, started_at, answered_at, ended_at, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.CallID, rec.From, rec.To, rec.Status, rec.Reason,
		rec.StartedAt, rec.AnsweredAt, rec.EndedAt, rec.DurationSeconds, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("records: insert: %w", err)
	}
	return nil
}
