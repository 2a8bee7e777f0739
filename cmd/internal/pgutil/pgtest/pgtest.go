// Package pgtest holds opt-in Postgres fixtures for integration tests.
//
// Tests are skipped unless NEXUS_DATABASE_URL is set. Outside CI a server that
// cannot be reached also skips.
package pgtest

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// EnvURL names the variable holding the integration database URL.
const EnvURL = "NEXUS_DATABASE_URL"

const (
	connectTimeout = 5 * time.Second
	ddlTimeout     = 10 * time.Second
	testTimeout    = 20 * time.Second
)

// OpenPool connects to the integration database, or skips. The pool is
// closed on cleanup.
func OpenPool(t testing.TB) *pgxpool.Pool {
	t.Helper()

	url := strings.TrimSpace(os.Getenv(EnvURL))
	if url == "" {
		t.Skipf("skipping: %s not set", EnvURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("pgtest: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if unreachable(err) && os.Getenv("CI") == "" {
			t.Skipf("skipping: postgres unreachable: %v", err)
		}
		t.Fatalf("pgtest ping: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// Schema creates a uniquely named schema, dropped with CASCADE on cleanup.
func Schema(t testing.TB, pool *pgxpool.Pool) string {
	t.Helper()

	name := "nexus_it_" + strings.ToLower(ulid.Make().String())
	ident := pgx.Identifier{name}.Sanitize()

	exec(t, pool, "CREATE SCHEMA "+ident)
	t.Cleanup(func() { exec(t, pool, "DROP SCHEMA IF EXISTS "+ident+" CASCADE") })
	return name
}

// Context is bounded per test and cancelled on cleanup.
func Context(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func exec(t testing.TB, pool *pgxpool.Pool, sql string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), ddlTimeout)
	defer cancel()
	if _, err := pool.Exec(ctx, sql); err != nil {
		t.Errorf("pgtest %q: %v", sql, err)
	}
}

func unreachable(err error) bool {
	var ce *pgconn.ConnectError
	return errors.As(err, &ce) || errors.Is(err, context.DeadlineExceeded)
}
