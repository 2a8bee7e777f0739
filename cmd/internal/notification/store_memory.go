package notification

import (
	"context"
	"sync"
)

// MemoryStore is the dev fallback when no database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Notification
	byUser map[string][]*Notification // oldest first
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Notification),
		byUser: make(map[string][]*Notification),
	}
}

// Create stores n. The id must be unique.
func (s *MemoryStore) Create(ctx context.Context, n Notification) error {
	if n.ID == "" || n.UserID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byID[n.ID]; dup {
		return ErrInvalidInput
	}
	cp := n
	s.byID[n.ID] = &cp
	s.byUser[n.UserID] = append(s.byUser[n.UserID], &cp)
	return nil
}

// List returns the newest notifications first.
func (s *MemoryStore) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.byUser[userID]
	out := make([]Notification, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *all[i])
	}
	return out, nil
}

// Unread counts unread notifications of userID.
func (s *MemoryStore) Unread(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, x := range s.byUser[userID] {
		if !x.Read {
			n++
		}
	}
	return n, nil
}

// MarkRead marks the given ids as read.
func (s *MemoryStore) MarkRead(ctx context.Context, userID string, ids []string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if x, ok := s.byID[id]; ok && x.UserID != userID {
			return 0, ErrUnauthorized
		}
	}
	changed := 0
	for _, id := range ids {
		if x, ok := s.byID[id]; ok && !x.Read {
			x.Read = true
			changed++
		}
	}
	return changed, nil
}
