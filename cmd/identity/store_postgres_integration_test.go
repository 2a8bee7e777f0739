package identity

import (
	"testing"
	"time"

	"nexus/cmd/identity/ids"
	"nexus/cmd/internal/pgutil/pgtest"
)

// Integration tests are opt-in and require NEXUS_DATABASE_URL.

func mustNewIdentityStore(t *testing.T) *PostgresStore {
	t.Helper()

	pool := pgtest.OpenPool(t)
	schema := pgtest.Schema(t, pool)

	s, err := NewPostgresStore(pool, WithSchema(schema), WithPasswordConfig(testPasswordConfig()))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.EnsureSchema(pgtest.Context(t)); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestPostgresStore_CreateUser_ConflictUsername_CaseInsensitive(t *testing.T) {
	t.Parallel()

	s := mustNewIdentityStore(t)
	ctx := pgtest.Context(t)

	if _, err := s.CreateUser(ctx, CreateUserInput{Username: "Ingrid", Password: "very-strong-password-1"}); err != nil {
		t.Fatalf("create user 1: %v", err)
	}

	_, err := s.CreateUser(ctx, CreateUserInput{Username: "iNgRiD", Password: "very-strong-password-2"})
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got: %v", err)
	}
}

func TestPostgresStore_CreateUser_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()

	s := mustNewIdentityStore(t)
	ctx := pgtest.Context(t)

	if _, err := s.CreateUser(ctx, CreateUserInput{Username: "u1", Email: "User@Example.com", Password: "very-strong-password-11"}); err != nil {
		t.Fatalf("create user 1: %v", err)
	}

	_, err := s.CreateUser(ctx, CreateUserInput{Username: "u2", Email: "user@example.COM", Password: "very-strong-password-12"})
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got: %v", err)
	}
}

func TestPostgresStore_LookupLogin_UsernameAndEmail(t *testing.T) {
	t.Parallel()

	s := mustNewIdentityStore(t)
	ctx := pgtest.Context(t)

	u, err := s.CreateUser(ctx, CreateUserInput{
		Username: "Lookup",
		Email:    "lookup@example.com",
		Password: "very-strong-password-3",
		Now:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	for _, ident := range []string{"lookup", "LOOKUP@example.com"} {
		got, err := s.LookupLogin(ctx, ident)
		if err != nil {
			t.Fatalf("LookupLogin(%q): %v", ident, err)
		}
		if got.User.ID != u.ID || got.PasswordHash == "" {
			t.Fatalf("LookupLogin(%q) unexpected: %+v", ident, got)
		}
	}

	if _, err := s.LookupLogin(ctx, "nobody"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	byID, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID.Username != "Lookup" || byID.Email != "lookup@example.com" {
		t.Fatalf("GetUserByID unexpected: %+v", byID)
	}
}

func TestPostgresStore_UpdatePasswordHash(t *testing.T) {
	t.Parallel()

	s := mustNewIdentityStore(t)
	ctx := pgtest.Context(t)

	u, err := s.CreateUser(ctx, CreateUserInput{Username: "rehash", Password: "very-strong-password-4"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.UpdatePasswordHash(ctx, u.ID, "new-hash", time.Now().UTC()); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	got, err := s.LookupLogin(ctx, "rehash")
	if err != nil || got.PasswordHash != "new-hash" {
		t.Fatalf("hash not updated: %+v err=%v", got, err)
	}

	missing, _ := ids.NewULID(time.Now())
	if err := s.UpdatePasswordHash(ctx, missing, "x", time.Now()); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
