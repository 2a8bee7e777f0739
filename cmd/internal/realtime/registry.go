package realtime

import (
	"sync/atomic"

	"nexus/cmd/internal/cmap"
)

// Registry tracks live sessions per user.
//
// Each user's session set lives in one shard of a cmap.Map and is only
// mutated inside Map.Update, so register and unregister of the same user
// are serialized while different users rarely contend.
type Registry struct {
	users    *cmap.Map[map[string]*Session]
	sessions atomic.Int64
}

// NewRegistry creates a Registry with shards partitions (0 uses the default).
func NewRegistry(shards int) *Registry {
	return &Registry{users: cmap.NewWithShards[map[string]*Session](shards)}
}

// Register adds sess to its user's set. first reports whether the user had
// no live sessions before this call.
func (r *Registry) Register(sess *Session) (first bool) {
	if sess == nil || sess.UserID == "" {
		return false
	}
	added := false
	r.users.Update(sess.UserID, func(cur map[string]*Session, exists bool) (map[string]*Session, bool) {
		if !exists || cur == nil {
			cur = make(map[string]*Session, 1)
		}
		first = len(cur) == 0
		if _, dup := cur[sess.ID]; !dup {
			cur[sess.ID] = sess
			added = true
		}
		return cur, true
	})
	if added {
		r.sessions.Add(1)
	}
	return first
}

// Unregister removes sess. It is idempotent: removed is false when the
// session was not registered. last reports whether the user is now offline.
func (r *Registry) Unregister(sess *Session) (last bool, removed bool) {
	if sess == nil || sess.UserID == "" {
		return false, false
	}
	r.users.Update(sess.UserID, func(cur map[string]*Session, exists bool) (map[string]*Session, bool) {
		if !exists {
			return nil, false
		}
		if got, ok := cur[sess.ID]; ok && got == sess {
			delete(cur, sess.ID)
			removed = true
		}
		if len(cur) == 0 {
			last = removed
			return nil, false
		}
		return cur, true
	})
	if removed {
		r.sessions.Add(-1)
	}
	return last, removed
}

// HandlesFor returns a snapshot of userID's sessions.
// The slice is owned by the caller and safe to use while the registry changes.
func (r *Registry) HandlesFor(userID string) []*Session {
	var out []*Session
	r.users.View(userID, func(set map[string]*Session, exists bool) {
		if !exists || len(set) == 0 {
			return
		}
		out = make([]*Session, 0, len(set))
		for _, s := range set {
			out = append(out, s)
		}
	})
	return out
}

// Online reports whether userID has at least one live session.
func (r *Registry) Online(userID string) bool {
	online := false
	r.users.View(userID, func(set map[string]*Session, exists bool) {
		online = exists && len(set) > 0
	})
	return online
}

// Users returns the number of users with live sessions.
func (r *Registry) Users() int { return r.users.Count() }

// Sessions returns the number of live sessions.
func (r *Registry) Sessions() int { return int(r.sessions.Load()) }

// All returns a snapshot of every live session.
func (r *Registry) All() []*Session {
	out := make([]*Session, 0, r.Sessions())
	r.users.Range(func(_ string, set map[string]*Session) bool {
		for _, s := range set {
			out = append(out, s)
		}
		return true
	})
	return out
}
