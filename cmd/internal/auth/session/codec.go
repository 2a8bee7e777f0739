package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nexus/cmd/identity/ids"
)

// Codec issues and decodes signed tokens.
type Codec interface {
	Issue(kind Kind, userID, username string, now time.Time) (string, Claims, error)
	Decode(token string, now time.Time) (Claims, error)
}

// JWTCodec is a Codec over HS256 JWTs with a process-wide key.
type JWTCodec struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	skew       time.Duration
}

var _ Codec = (*JWTCodec)(nil)

// NewJWTCodec validates cfg and returns a codec.
func NewJWTCodec(cfg Config) (*JWTCodec, error) {
	if len(cfg.SigningKey) < MinSigningKeyBytes {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes", ErrConfig, MinSigningKeyBytes)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}
	key := make([]byte, len(cfg.SigningKey))
	copy(key, cfg.SigningKey)
	return &JWTCodec{
		key:        key,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		skew:       cfg.ClockSkew,
	}, nil
}

// TTL returns the lifetime for kind.
func (c *JWTCodec) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue signs a new token. iat and exp carry second precision.
func (c *JWTCodec) Issue(kind Kind, userID, username string, now time.Time) (string, Claims, error) {
	if !kind.Valid() || userID == "" {
		return "", Claims{}, ErrMalformedToken
	}

	jti, err := ids.NewULID(now)
	if err != nil {
		return "", Claims{}, err
	}

	iat := now.UTC().Truncate(time.Second)
	exp := iat.Add(c.TTL(kind))

	wire := jwtClaims{
		Username: username,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(c.key)
	if err != nil {
		return "", Claims{}, err
	}

	return signed, Claims{
		TokenID:   jti,
		UserID:    userID,
		Username:  username,
		Kind:      kind,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

// Decode verifies the signature and expiry of token as of now.
// It returns ErrExpiredToken for a well-signed expired token and
// ErrMalformedToken for everything else.
func (c *JWTCodec) Decode(token string, now time.Time) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var wire jwtClaims
	_, err := parser.ParseWithClaims(token, &wire, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if wire.Subject == "" || !ids.Valid(wire.ID) || !wire.Kind.Valid() || wire.IssuedAt == nil {
		return Claims{}, ErrMalformedToken
	}

	return Claims{
		TokenID:   wire.ID,
		UserID:    wire.Subject,
		Username:  wire.Username,
		Kind:      wire.Kind,
		IssuedAt:  wire.IssuedAt.Time.UTC(),
		ExpiresAt: wire.ExpiresAt.Time.UTC(),
	}, nil
}
