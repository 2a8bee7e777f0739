package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	v1 "nexus/shared/contracts/realtime/v1"
)

const (
	defaultSendQueueSize = 256
	minSendQueueSize     = 32
)

// Session is one live WebSocket connection of an authenticated user.
//
// Send is never closed by the server so concurrent publishers cannot panic;
// a closed session is observed through Done. UserID and Username come from
// validated token claims and are the only identity used for dispatch.
type Session struct {
	ID          string
	UserID      string
	Username    string
	Device      string
	ConnectedAt time.Time

	Send chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewSession constructs a Session with a bounded send queue.
func NewSession(id, userID, username, device string, queueSize int, now time.Time) *Session {
	if queueSize < minSendQueueSize {
		queueSize = minSendQueueSize
	}
	if device == "" {
		device = "web"
	}
	return &Session{
		ID:          id,
		UserID:      userID,
		Username:    username,
		Device:      device,
		ConnectedAt: now,
		Send:        make(chan v1.Envelope, queueSize),
		done:        make(chan struct{}),
	}
}

// Done returns a channel that is closed when the session is shutting down.
func (s *Session) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals the session goroutines to stop. It is idempotent.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

// Dropped returns how many envelopes were discarded for this session.
func (s *Session) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// offer enqueues env without blocking. It returns false and counts a drop
// when the session is closed or its queue is full.
func (s *Session) offer(env v1.Envelope) bool {
	select {
	case <-s.done:
		s.dropped.Add(1)
		return false
	default:
	}
	select {
	case s.Send <- env:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Reply sends a direct response of typ to this session only.
func (s *Session) Reply(typ string, payload any) bool {
	env, err := NewEnvelope(typ, "", payload, time.Now().UTC())
	if err != nil {
		return false
	}
	return s.offer(env)
}
