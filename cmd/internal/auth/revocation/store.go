// Package revocation keeps the set of tokens that must never validate again.
//
// Entries are keyed by a token identifier (a hash of the encoded token, see
// cmd/security/token) and live until the token's own expiry. Past that point
// the codec rejects the token anyway, so expired entries are dropped by Sweep.
//
// A second keyspace holds per-user cutoffs: every token of the user minted
// before the cutoff is treated as revoked. It backs "log out everywhere".
package revocation

import (
	"context"
	"log/slog"
	"time"

	"nexus/cmd/internal/cmap"
	"nexus/cmd/internal/telemetry"
)

// Revocation reasons.
const (
	ReasonLogout    = "logout"
	ReasonRotated   = "rotated"
	ReasonLogoutAll = "logout_all"
	ReasonReuse     = "refresh_reuse"
)

const defaultRecordQueue = 1024

// Record is a revoked token entry.
type Record struct {
	Reason    string
	ExpiresAt time.Time
}

// Cutoff rejects a user's tokens minted before At, until ExpiresAt.
type Cutoff struct {
	At        time.Time
	ExpiresAt time.Time
	Reason    string
}

// Store is a sharded, concurrency-safe revocation set.
// Share one instance per process; the zero value is not usable, call New.
type Store struct {
	tokens *cmap.Map[Record]
	users  *cmap.Map[Cutoff]

	rec     Recorder
	queue   chan Entry
	log     *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithShards sets the shard count (power of two; other values fall back to the default).
func WithShards(n int) Option {
	return func(s *Store) {
		s.tokens = cmap.NewWithShards[Record](n)
		s.users = cmap.NewWithShards[Cutoff](n)
	}
}

// WithRecorder mirrors every revocation to r. Writes are queued and drained by Run;
// when the queue is full the write is dropped and counted.
func WithRecorder(r Recorder, queue int) Option {
	return func(s *Store) {
		if queue <= 0 {
			queue = defaultRecordQueue
		}
		s.rec = r
		s.queue = make(chan Entry, queue)
	}
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		tokens: cmap.New[Record](),
		users:  cmap.New[Cutoff](),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Revoke adds id until expiresAt. An existing entry keeps the later expiry.
func (s *Store) Revoke(id string, expiresAt time.Time, reason string) {
	changed := false
	s.tokens.Update(id, func(cur Record, exists bool) (Record, bool) {
		if exists && !expiresAt.After(cur.ExpiresAt) {
			return cur, true
		}
		changed = true
		return Record{Reason: reason, ExpiresAt: expiresAt}, true
	})
	if changed {
		s.enqueue(Entry{ID: id, Reason: reason, ExpiresAt: expiresAt})
	}
}

// TryRevoke revokes id only if it is not already present.
// It returns false when another caller revoked it first.
func (s *Store) TryRevoke(id string, expiresAt time.Time, reason string) bool {
	won := false
	s.tokens.Update(id, func(cur Record, exists bool) (Record, bool) {
		if exists {
			return cur, true
		}
		won = true
		return Record{Reason: reason, ExpiresAt: expiresAt}, true
	})
	if won {
		s.enqueue(Entry{ID: id, Reason: reason, ExpiresAt: expiresAt})
	}
	return won
}

// Lookup returns the live entry for id. Expired entries are reported as absent.
func (s *Store) Lookup(id string, now time.Time) (Record, bool) {
	var (
		out Record
		ok  bool
	)
	s.tokens.View(id, func(r Record, exists bool) {
		if exists && now.Before(r.ExpiresAt) {
			out, ok = r, true
		}
	})
	return out, ok
}

// IsRevoked reports whether id has a live entry.
func (s *Store) IsRevoked(id string, now time.Time) bool {
	_, ok := s.Lookup(id, now)
	return ok
}

// RevokeUser rejects every token of userID minted before cutoff, until the
// given time. A later cutoff replaces an earlier one.
func (s *Store) RevokeUser(userID string, cutoff, until time.Time) {
	s.revokeUser(userID, cutoff, until, ReasonLogoutAll)
}

// RevokeUserReason is RevokeUser with an explicit reason for the durable log.
func (s *Store) RevokeUserReason(userID string, cutoff, until time.Time, reason string) {
	s.revokeUser(userID, cutoff, until, reason)
}

func (s *Store) revokeUser(userID string, cutoff, until time.Time, reason string) {
	var next Cutoff
	s.users.Update(userID, func(cur Cutoff, exists bool) (Cutoff, bool) {
		next = Cutoff{At: cutoff, ExpiresAt: until, Reason: reason}
		if exists {
			if cur.At.After(next.At) {
				next.At = cur.At
			}
			if cur.ExpiresAt.After(next.ExpiresAt) {
				next.ExpiresAt = cur.ExpiresAt
			}
		}
		return next, true
	})
	s.enqueue(Entry{ID: userKey(userID), UserID: userID, Reason: reason, ExpiresAt: next.ExpiresAt, Cutoff: next.At})
}

// RevokedBefore reports whether a token of userID minted at mintedAt falls
// under a live per-user cutoff.
func (s *Store) RevokedBefore(userID string, mintedAt, now time.Time) bool {
	revoked := false
	s.users.View(userID, func(c Cutoff, exists bool) {
		revoked = exists && now.Before(c.ExpiresAt) && mintedAt.Before(c.At)
	})
	return revoked
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	n := s.tokens.RemoveIf(func(_ string, r Record) bool { return !now.Before(r.ExpiresAt) })
	n += s.users.RemoveIf(func(_ string, c Cutoff) bool { return !now.Before(c.ExpiresAt) })
	return n
}

// Len returns the number of stored entries, cutoffs included.
func (s *Store) Len() int {
	return s.tokens.Count() + s.users.Count()
}

// Run sweeps every interval and drains the recorder queue until ctx is done.
func (s *Store) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()

	var queue <-chan Entry
	if s.queue != nil {
		queue = s.queue
	}

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case e := <-queue:
			s.record(ctx, e)
		case now := <-t.C:
			s.sweep(ctx, now)
		}
	}
}

func (s *Store) sweep(ctx context.Context, now time.Time) {
	removed := s.Sweep(now)
	remaining := s.Len()
	s.metrics.RevocationSwept(removed, remaining)
	if removed > 0 {
		s.log.Debug("revocation.sweep", "removed", removed, "remaining", remaining)
	}

	p, ok := s.rec.(Purger)
	if !ok {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if n, err := p.Purge(pctx, now); err != nil {
		s.log.Warn("revocation.purge.fail", "err", err)
	} else if n > 0 {
		s.log.Debug("revocation.purge", "removed", n)
	}
}

// Restore loads live entries from the recorder, typically once at startup.
func (s *Store) Restore(ctx context.Context, now time.Time) (int, error) {
	if s.rec == nil {
		return 0, nil
	}
	n := 0
	err := s.rec.LoadActive(ctx, now, func(e Entry) {
		n++
		if e.UserID != "" && !e.Cutoff.IsZero() {
			s.users.Update(e.UserID, func(cur Cutoff, exists bool) (Cutoff, bool) {
				if exists && !e.Cutoff.After(cur.At) {
					return cur, true
				}
				return Cutoff{At: e.Cutoff, ExpiresAt: e.ExpiresAt, Reason: e.Reason}, true
			})
			return
		}
		s.tokens.Update(e.ID, func(cur Record, exists bool) (Record, bool) {
			if exists && !e.ExpiresAt.After(cur.ExpiresAt) {
				return cur, true
			}
			return Record{Reason: e.Reason, ExpiresAt: e.ExpiresAt}, true
		})
	})
	return n, err
}

func (s *Store) enqueue(e Entry) {
	if s.queue == nil {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.metrics.RevocationRecordFailed("queue_full")
		s.log.Warn("revocation.record.drop", "reason", e.Reason)
	}
}

func (s *Store) record(ctx context.Context, e Entry) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.rec.Record(rctx, e); err != nil {
		s.metrics.RevocationRecordFailed("error")
		s.log.Warn("revocation.record.fail", "reason", e.Reason, "err", err)
	}
}

// flush writes whatever is still queued at shutdown.
func (s *Store) flush() {
	if s.queue == nil {
		return
	}
	for {
		select {
		case e := <-s.queue:
			s.record(context.Background(), e)
		default:
			return
		}
	}
}

func userKey(userID string) string { return "user:" + userID }
