package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexus/cmd/internal/pgutil"
)

// PostgresRecorder writes revocations to <schema>.revoked_tokens.
// The pool is owned by the caller.
type PostgresRecorder struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the recorder.
type PostgresOption func(*PostgresRecorder) error

// WithSchema sets the schema (default "nexus").
func WithSchema(schema string) PostgresOption {
	return func(r *PostgresRecorder) error {
		v, err := pgutil.CheckSchema("revocation", schema)
		if err != nil {
			return err
		}
		r.schema = v
		return nil
	}
}

// NewPostgresRecorder constructs a PostgresRecorder.
func NewPostgresRecorder(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresRecorder, error) {
	r := &PostgresRecorder{pool: pool, schema: pgutil.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.pool == nil {
		return nil, errors.New("revocation: nil pool")
	}
	return r, nil
}

// EnsureSchema creates the revoked_tokens table if needed.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	tbl := pgutil.Ident(r.schema, "revoked_tokens")
	ddl := `
CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{r.schema}.Sanitize() + `;

CREATE TABLE IF NOT EXISTS ` + tbl + ` (
  id TEXT PRIMARY KEY,
  user_id TEXT NULL,
  reason TEXT NOT NULL,
  cutoff TIMESTAMPTZ NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires_at ON ` + tbl + ` (expires_at);`

	_, err := r.pool.Exec(ctx, ddl)
	return err
}

// Record upserts e, keeping the later expiry and cutoff.
func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	var (
		userID *string
		cutoff *time.Time
	)
	if e.UserID != "" {
		userID = &e.UserID
	}
	if !e.Cutoff.IsZero() {
		c := e.Cutoff.UTC()
		cutoff = &c
	}

	tbl := pgutil.Ident(r.schema, "revoked_tokens")
	_, err := r.pool.Exec(ctx,
		`INSERT INTO `+tbl+` AS t (id, user_id, reason, cutoff, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		    SET reason = EXCLUDED.reason,
		        cutoff = GREATEST(t.cutoff, EXCLUDED.cutoff),
		        expires_at = GREATEST(t.expires_at, EXCLUDED.expires_at)`,
		e.ID, userID, e.Reason, cutoff, e.ExpiresAt.UTC(),
	)
	return err
}

// LoadActive streams unexpired rows to fn.
func (r *PostgresRecorder) LoadActive(ctx context.Context, now time.Time, fn func(Entry)) error {
	tbl := pgutil.Ident(r.schema, "revoked_tokens")
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, reason, cutoff, expires_at
		   FROM `+tbl+`
		  WHERE expires_at > $1`,
		now.UTC(),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e      Entry
			userID *string
			cutoff *time.Time
		)
		if err := rows.Scan(&e.ID, &userID, &e.Reason, &cutoff, &e.ExpiresAt); err != nil {
			return err
		}
		if userID != nil {
			e.UserID = *userID
		}
		if cutoff != nil {
			e.Cutoff = *cutoff
		}
		fn(e)
	}
	return rows.Err()
}

// Purge deletes rows that expired at or before now.
func (r *PostgresRecorder) Purge(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM `+pgutil.Ident(r.schema, "revoked_tokens")+` WHERE expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var (
	_ Recorder = (*PostgresRecorder)(nil)
	_ Purger   = (*PostgresRecorder)(nil)
)
