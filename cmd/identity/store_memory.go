package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"nexus/cmd/identity/ids"
	"nexus/cmd/security/password"
)

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	pw password.Config

	mu         sync.RWMutex
	byID       map[string]*memUser
	byUsername map[string]string
	byEmail    map[string]string
}

type memUser struct {
	user User
	hash string
}

// NewMemoryStore returns an empty store hashing passwords with pw.
func NewMemoryStore(pw password.Config) *MemoryStore {
	return &MemoryStore{
		pw:         pw,
		byID:       make(map[string]*memUser),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

// CreateUser validates and hashes the password, then inserts the user.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" {
		return User{}, invalid(op, "username is required")
	}
	if IsEmailIdentifier(username) {
		return User{}, invalid(op, "username must not contain @")
	}

	if err := s.pw.ValidateFor(in.Password, username, email); err != nil {
		return User{}, invalid(op, err.Error())
	}
	hash, err := s.pw.Hash(in.Password)
	if err != nil {
		return User{}, invalid(op, err.Error())
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	uNorm := NormalizeUsername(username)
	eNorm := NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[uNorm]; ok {
		return User{}, conflict(op, "username")
	}
	if eNorm != "" {
		if _, ok := s.byEmail[eNorm]; ok {
			return User{}, conflict(op, "email")
		}
	}

	u := User{ID: id, Username: username, Email: email, CreatedAt: now}
	s.byID[id] = &memUser{user: u, hash: hash}
	s.byUsername[uNorm] = id
	if eNorm != "" {
		s.byEmail[eNorm] = id
	}
	return u, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	mu, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, notFound("identity.GetUserByID")
	}
	return mu.user, nil
}

func (s *MemoryStore) LookupLogin(ctx context.Context, usernameOrEmail string) (UserAuth, error) {
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	field, key := LoginKey(usernameOrEmail)

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byUsername
	if field == "email" {
		idx = s.byEmail
	}
	id, ok := idx[key]
	if !ok || key == "" {
		return UserAuth{}, notFound("identity.LookupLogin")
	}
	mu := s.byID[id]
	return UserAuth{User: mu.user, PasswordHash: mu.hash}, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID, hash string, _ time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "empty hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mu, ok := s.byID[userID]
	if !ok {
		return notFound(op)
	}
	mu.hash = hash
	return nil
}

var _ Store = (*MemoryStore)(nil)
