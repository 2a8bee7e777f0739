package notification

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexus/cmd/internal/pgutil"
)

// PostgresStore implements Store over PostgreSQL. The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default "nexus").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgutil.CheckSchema("notification", schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgutil.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("notification: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the notifications table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	table := pgutil.Ident(s.schema, "notifications")
	ddl := `
CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize() + `;

CREATE TABLE IF NOT EXISTS ` + table + ` (
  id         TEXT PRIMARY KEY,
  user_id    TEXT NOT NULL,
  kind       TEXT NOT NULL,
  body       TEXT NOT NULL,
  data       JSONB NULL,
  read_at    TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_notifications_id_ulid_len CHECK (char_length(id) = 26)
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_created
  ON ` + table + ` (user_id, created_at DESC, id DESC);

CREATE INDEX IF NOT EXISTS idx_notifications_user_unread
  ON ` + table + ` (user_id) WHERE read_at IS NULL;`

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Create inserts n.
func (s *PostgresStore) Create(ctx context.Context, n Notification) error {
	if n.ID == "" || n.UserID == "" {
		return ErrInvalidInput
	}
	var data any
	if len(n.Data) > 0 {
		data = string(n.Data)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgutil.Ident(s.schema, "notifications")+` (id, user_id, kind, body, data, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		n.ID, n.UserID, n.Kind, n.Body, data, n.CreatedAt,
	)
	if _, ok := pgutil.UniqueViolation(err); ok {
		return ErrInvalidInput
	}
	return err
}

// List returns the newest notifications first.
func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, kind, body, COALESCE(data::text, ''), read_at IS NOT NULL, created_at
		   FROM `+pgutil.Ident(s.schema, "notifications")+`
		  WHERE user_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		userID, clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n    Notification
			data string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Body, &data, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if data != "" {
			n.Data = []byte(data)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Unread counts unread notifications of userID.
func (s *PostgresStore) Unread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+pgutil.Ident(s.schema, "notifications")+` WHERE user_id = $1 AND read_at IS NULL`,
		userID,
	).Scan(&n)
	return n, err
}

// MarkRead marks ids as read in one transaction.
func (s *PostgresStore) MarkRead(ctx context.Context, userID string, ids []string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidInput
	}
	if len(ids) == 0 {
		return 0, nil
	}
	table := pgutil.Ident(s.schema, "notifications")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var foreign int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE id = ANY($1) AND user_id <> $2`,
		ids, userID,
	).Scan(&foreign); err != nil {
		return 0, err
	}
	if foreign > 0 {
		return 0, ErrUnauthorized
	}

	tag, err := tx.Exec(ctx,
		`UPDATE `+table+` SET read_at = now()
		  WHERE id = ANY($1) AND user_id = $2 AND read_at IS NULL`,
		ids, userID,
	)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
