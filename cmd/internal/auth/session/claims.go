package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Kind tells access and refresh tokens apart.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindAccess || k == KindRefresh }

// Claims are the decoded contents of a token. They are never stored.
type Claims struct {
	TokenID   string // ULID jti
	UserID    string
	Username  string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// MintedAt is the millisecond issue time carried by the ULID token id,
// falling back to the second-precision iat.
func (c Claims) MintedAt() time.Time {
	id, err := ulid.ParseStrict(c.TokenID)
	if err != nil {
		return c.IssuedAt
	}
	return ulid.Time(id.Time())
}

// jwtClaims is the wire form: sub, usr, knd plus registered claims.
type jwtClaims struct {
	Username string `json:"usr"`
	Kind     Kind   `json:"knd"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

// NewContext returns ctx carrying c.
func NewContext(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the claims stored by NewContext.
func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(Claims)
	return c, ok
}
