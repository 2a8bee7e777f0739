package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexus/cmd/internal/pgutil"
	"nexus/cmd/identity/ids"
	"nexus/cmd/security/password"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store never closes it.
// Schema and table identifiers are quoted through pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	pw     password.Config
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default "nexus").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgutil.CheckSchema("identity", schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// WithPasswordConfig sets the hashing configuration used by CreateUser.
func WithPasswordConfig(cfg password.Config) PostgresOption {
	return func(s *PostgresStore) error {
		s.pw = cfg
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: pgutil.DefaultSchema,
		pw:     password.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the identity tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	users := pgutil.Ident(s.schema, "users")
	creds := pgutil.Ident(s.schema, "user_credentials")

	ddl := `
CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize() + `;

CREATE TABLE IF NOT EXISTS ` + users + ` (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL,
  username_norm TEXT NOT NULL,
  email TEXT NULL,
  email_norm TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_username_norm UNIQUE (username_norm),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);

CREATE TABLE IF NOT EXISTS ` + creds + ` (
  user_id TEXT PRIMARY KEY REFERENCES ` + users + `(id) ON DELETE CASCADE,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// CreateUser creates a user and its credentials transactionally.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" {
		return User{}, invalid(op, "username is required")
	}
	if IsEmailIdentifier(username) {
		return User{}, invalid(op, "username must not contain @")
	}

	if err := s.pw.ValidateFor(in.Password, username, email); err != nil {
		return User{}, invalid(op, err.Error())
	}
	pwHash, err := s.pw.Hash(in.Password)
	if err != nil {
		return User{}, invalid(op, err.Error())
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	userID, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	var emailVal, emailNorm *string
	if email != "" {
		n := NormalizeEmail(email)
		emailVal, emailNorm = &email, &n
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO `+pgutil.Ident(s.schema, "users")+` (
		     id, username, username_norm, email, email_norm, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, username, NormalizeUsername(username), emailVal, emailNorm, now,
	)
	if err != nil {
		if field, ok := classifyUniqueViolation(err); ok {
			return User{}, conflict(op, field)
		}
		return User{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+pgutil.Ident(s.schema, "user_credentials")+` (user_id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)`,
		userID, pwHash, now,
	)
	if err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}

	return User{ID: userID, Username: username, Email: email, CreatedAt: now}, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, invalid(op, "missing id")
	}

	var (
		u     User
		email *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, created_at
		   FROM `+pgutil.Ident(s.schema, "users")+`
		  WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, err
	}
	if email != nil {
		u.Email = *email
	}
	return u, nil
}

func (s *PostgresStore) LookupLogin(ctx context.Context, usernameOrEmail string) (UserAuth, error) {
	const op = "identity.LookupLogin"

	field, key := LoginKey(usernameOrEmail)
	if key == "" {
		return UserAuth{}, notFound(op)
	}

	col := "u.username_norm"
	if field == "email" {
		col = "u.email_norm"
	}

	var (
		out   UserAuth
		email *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.username, u.email, u.created_at, c.password_hash
		   FROM `+pgutil.Ident(s.schema, "users")+` u
		   JOIN `+pgutil.Ident(s.schema, "user_credentials")+` c ON c.user_id = u.id
		  WHERE `+col+` = $1`,
		key,
	).Scan(&out.User.ID, &out.User.Username, &email, &out.User.CreatedAt, &out.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, notFound(op)
		}
		return UserAuth{}, err
	}
	if email != nil {
		out.User.Email = *email
	}
	return out, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if strings.TrimSpace(hash) == "" {
		return invalid(op, "empty hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgutil.Ident(s.schema, "user_credentials")+`
		    SET password_hash = $2, updated_at = $3
		  WHERE user_id = $1`,
		userID, hash, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

// classifyUniqueViolation maps constraint names to logical fields.
// Stable schema names come first, then substring heuristics.
func classifyUniqueViolation(err error) (field string, ok bool) {
	c, ok := pgutil.UniqueViolation(err)
	if !ok {
		return "", false
	}
	switch {
	case c == "uq_users_username_norm", strings.Contains(c, "username"):
		return "username", true
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}

var _ Store = (*PostgresStore)(nil)
