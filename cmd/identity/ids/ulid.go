// Package ids mints the ULIDs used for users, tokens, messages and events.
//
// IDs minted within the same millisecond are strictly increasing, so sorting
// by ID sorts by creation.
package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns the 26-char ULID for now (time.Now when zero).
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now()
	}
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// New is NewULID for the current time. It panics if entropy fails.
func New() string { return ulid.Make().String() }

// Valid reports whether s is a canonical ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
