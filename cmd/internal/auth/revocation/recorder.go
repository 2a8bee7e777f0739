package revocation

import (
	"context"
	"time"
)

const recordTimeout = 3 * time.Second

// Entry is one row of the durable revocation log.
// Token entries leave UserID and Cutoff empty.
type Entry struct {
	ID        string
	UserID    string
	Reason    string
	ExpiresAt time.Time
	Cutoff    time.Time
}

// Recorder persists revocations so a restart does not resurrect revoked tokens.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	// LoadActive calls fn for every entry whose ExpiresAt is after now.
	LoadActive(ctx context.Context, now time.Time, fn func(Entry)) error
}

// Purger is implemented by recorders that can delete expired rows.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}
