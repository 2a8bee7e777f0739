package identity

import (
	"context"
	"time"
)

// User is the nexus security principal.
type User struct {
	ID        string
	Username  string
	Email     string // may be empty
	CreatedAt time.Time
}

// UserAuth is a user together with its stored credential.
// PasswordHash is an argon2id PHC string.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a user registration. Username is required.
type CreateUserInput struct {
	Username string
	Email    string
	Password string
	Now      time.Time
}

// UserLookup is the read side the session and HTTP layers consume.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (User, error)
	// LookupLogin resolves an identifier containing "@" as an email and
	// anything else as a username. Both are normalized first.
	LookupLogin(ctx context.Context, usernameOrEmail string) (UserAuth, error)
}

// Store is the identity persistence boundary.
type Store interface {
	UserLookup

	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	// UpdatePasswordHash replaces the stored hash, e.g. after a parameter upgrade.
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error
}
