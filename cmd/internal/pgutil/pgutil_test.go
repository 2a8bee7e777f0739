package pgutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestCheckSchema(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: " nexus ", want: "nexus", ok: true},
		{in: "it_01abc", want: "it_01abc", ok: true},
		{in: "", ok: false},
		{in: "1bad", ok: false},
		{in: `x"; drop`, ok: false},
	}
	for _, tc := range cases {
		got, err := CheckSchema("test", tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("CheckSchema(%q) = %q, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("CheckSchema(%q) expected error", tc.in)
		}
	}
}

func TestIdent(t *testing.T) {
	t.Parallel()

	if got := Ident("nexus", "users"); got != `"nexus"."users"` {
		t.Fatalf("Ident=%s", got)
	}
}

func TestViolationClassification(t *testing.T) {
	t.Parallel()

	uniq := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "UQ_Users_Username_Norm"})
	c, ok := UniqueViolation(uniq)
	if !ok || c != "uq_users_username_norm" {
		t.Fatalf("UniqueViolation=%q,%v", c, ok)
	}
	if _, ok := UniqueViolation(errors.New("plain")); ok {
		t.Fatalf("plain error classified as unique violation")
	}

	fk := &pgconn.PgError{Code: "23503"}
	if !IsForeignKeyViolation(fk) || IsForeignKeyViolation(uniq) {
		t.Fatalf("foreign key classification mismatch")
	}
}
