// Package pgutil holds the small pgx helpers shared by the Postgres-backed stores.
package pgutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSchema is the schema used when a store is not given one.
const DefaultSchema = "nexus"

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdent reports whether s is a plain PostgreSQL identifier.
func ValidIdent(s string) bool {
	return identRe.MatchString(s)
}

// CheckSchema trims and validates a schema name for use in WithSchema options.
func CheckSchema(pkg, schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", fmt.Errorf("%s: empty schema", pkg)
	}
	if !ValidIdent(schema) {
		return "", fmt.Errorf("%s: invalid schema identifier", pkg)
	}
	return schema, nil
}

// Ident quotes a schema-qualified identifier: "schema"."name".
func Ident(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// UniqueViolation returns the violated constraint name, if err is a unique violation.
func UniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)), true
}

// IsForeignKeyViolation reports whether err is a foreign_key_violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeForeignKeyViolation
}
