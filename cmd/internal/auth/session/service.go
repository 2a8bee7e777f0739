package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"nexus/cmd/identity"
	"nexus/cmd/internal/auth/revocation"
	"nexus/cmd/internal/telemetry"
	"nexus/cmd/security/password"
	"nexus/cmd/security/token"
)

// maxTokenLen bounds inputs before any hashing or parsing.
const maxTokenLen = 4096

// Authenticator is the token contract the HTTP and WebSocket layers depend on.
type Authenticator interface {
	Login(ctx context.Context, usernameOrEmail, password string) (Issued, error)
	Validate(ctx context.Context, token string) (Claims, error)
	ValidateAccess(ctx context.Context, token string) (Claims, error)
	Refresh(ctx context.Context, refreshToken string) (Issued, error)
	Logout(ctx context.Context, token string) error
}

// Issued is an access and refresh pair.
type Issued struct {
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
	UserID       string
	Username     string
}

// PasswordUpdater stores an upgraded password hash after a successful login.
type PasswordUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error
}

// Service implements Authenticator over a Codec and a revocation store.
type Service struct {
	cfg     Config
	codec   *JWTCodec
	revoked *revocation.Store
	users   identity.UserLookup

	pw      password.Config
	rehash  PasswordUpdater
	hasher  token.Hasher
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

var _ Authenticator = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPasswordConfig sets the argon2id configuration used to verify logins.
func WithPasswordConfig(cfg password.Config) Option {
	return func(s *Service) { s.pw = cfg }
}

// WithPasswordUpdater enables transparent rehashing when argon2 parameters change.
func WithPasswordUpdater(u PasswordUpdater) Option {
	return func(s *Service) { s.rehash = u }
}

// WithTokenHasher sets how tokens map to revocation ids (SHA-256 by default).
func WithTokenHasher(h token.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// WithMetrics attaches metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds a Service. The revocation store is shared with the rest of the process.
func NewService(cfg Config, revoked *revocation.Store, users identity.UserLookup, opts ...Option) (*Service, error) {
	codec, err := NewJWTCodec(cfg)
	if err != nil {
		return nil, err
	}
	if revoked == nil || users == nil {
		return nil, ErrConfig
	}

	s := &Service{
		cfg:     cfg,
		codec:   codec,
		revoked: revoked,
		users:   users,
		pw:      password.DefaultConfig(),
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Codec exposes the underlying codec.
func (s *Service) Codec() Codec { return s.codec }

// Login resolves the user, verifies the password and issues a fresh pair.
// A missing user and a wrong password both return ErrInvalidCredentials,
// after comparable work.
func (s *Service) Login(ctx context.Context, usernameOrEmail, pass string) (Issued, error) {
	ident := strings.TrimSpace(usernameOrEmail)
	if ident == "" || pass == "" {
		s.metrics.AuthEvent("login", "invalid_credentials")
		return Issued{}, ErrInvalidCredentials
	}

	ua, err := s.users.LookupLogin(ctx, ident)
	if err != nil {
		if !identity.IsNotFound(err) {
			s.metrics.AuthEvent("login", "error")
			return Issued{}, err
		}
		_, _ = s.pw.Verify(s.dummy(), pass)
		s.metrics.AuthEvent("login", "invalid_credentials")
		return Issued{}, ErrInvalidCredentials
	}

	ok, err := s.pw.Verify(ua.PasswordHash, pass)
	if err != nil || !ok {
		if err != nil {
			s.log.Warn("auth.login.hash_invalid", "user_id", ua.User.ID, "err", err)
		}
		s.metrics.AuthEvent("login", "invalid_credentials")
		return Issued{}, ErrInvalidCredentials
	}

	now := s.now()
	s.maybeRehash(ctx, ua, pass, now)

	out, err := s.issuePair(ua.User.ID, ua.User.Username, now)
	if err != nil {
		s.metrics.AuthEvent("login", "error")
		return Issued{}, err
	}
	s.metrics.AuthEvent("login", "ok")
	return out, nil
}

// Validate checks revocation, then signature and expiry, then the per-user cutoff.
// Either token kind is accepted.
func (s *Service) Validate(ctx context.Context, tok string) (Claims, error) {
	return s.validate(ctx, tok, s.now())
}

// ValidateAccess is Validate restricted to access tokens.
func (s *Service) ValidateAccess(ctx context.Context, tok string) (Claims, error) {
	c, err := s.validate(ctx, tok, s.now())
	if err != nil {
		return Claims{}, err
	}
	if c.Kind != KindAccess {
		return Claims{}, reject(ErrWrongKind)
	}
	return c, nil
}

func (s *Service) validate(ctx context.Context, tok string, now time.Time) (Claims, error) {
	if err := ctx.Err(); err != nil {
		return Claims{}, err
	}

	tok = strings.TrimSpace(tok)
	if tok == "" || len(tok) > maxTokenLen {
		return Claims{}, reject(ErrMalformedToken)
	}

	if s.revoked.IsRevoked(s.hasher.Sum(tok), now) {
		return Claims{}, reject(ErrRevokedToken)
	}

	c, err := s.codec.Decode(tok, now)
	if err != nil {
		return Claims{}, reject(err)
	}

	if s.revoked.RevokedBefore(c.UserID, c.MintedAt(), now) {
		return Claims{}, reject(ErrRevokedToken)
	}
	return c, nil
}

// Refresh consumes a refresh token exactly once and returns a new pair.
// The access token minted alongside the old refresh token stays valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Issued, error) {
	now := s.now()
	refreshToken = strings.TrimSpace(refreshToken)

	if len(refreshToken) > 0 && len(refreshToken) <= maxTokenLen {
		id := s.hasher.Sum(refreshToken)
		if rec, ok := s.revoked.Lookup(id, now); ok {
			if rec.Reason == revocation.ReasonRotated {
				s.onReuse(refreshToken, now)
			}
			s.metrics.AuthEvent("refresh", "revoked")
			return Issued{}, reject(ErrRevokedToken)
		}
	}

	c, err := s.validate(ctx, refreshToken, now)
	if err != nil {
		s.metrics.AuthEvent("refresh", Reason(err))
		return Issued{}, err
	}
	if c.Kind != KindRefresh {
		s.metrics.AuthEvent("refresh", "wrong_kind")
		return Issued{}, reject(ErrWrongKind)
	}

	if !s.revoked.TryRevoke(s.hasher.Sum(refreshToken), s.horizon(c.ExpiresAt), revocation.ReasonRotated) {
		s.metrics.AuthEvent("refresh", "race_lost")
		return Issued{}, reject(ErrRevokedToken)
	}

	out, err := s.issuePair(c.UserID, c.Username, now)
	if err != nil {
		s.metrics.AuthEvent("refresh", "error")
		return Issued{}, err
	}
	s.metrics.AuthEvent("refresh", "ok")
	return out, nil
}

// onReuse handles a rotated refresh token presented again.
func (s *Service) onReuse(refreshToken string, now time.Time) {
	c, err := s.codec.Decode(refreshToken, now)
	if err != nil {
		return
	}
	s.log.Warn("auth.refresh.reuse", "user_id", c.UserID, "revoke_all", s.cfg.RevokeAllOnReuse)
	if s.cfg.RevokeAllOnReuse {
		s.revoked.RevokeUserReason(c.UserID, userCutoff(now), s.horizon(now.Add(s.cfg.RefreshTTL)), revocation.ReasonReuse)
	}
}

// Logout revokes tok until the codec would reject it anyway. An already invalid
// token returns ErrInvalidToken.
func (s *Service) Logout(ctx context.Context, tok string) error {
	now := s.now()
	c, err := s.validate(ctx, tok, now)
	if err != nil {
		s.metrics.AuthEvent("logout", Reason(err))
		return err
	}
	s.revoked.Revoke(s.hasher.Sum(strings.TrimSpace(tok)), s.horizon(c.ExpiresAt), revocation.ReasonLogout)
	s.metrics.AuthEvent("logout", "ok")
	return nil
}

// LogoutRefresh revokes a refresh token that belongs to userID.
func (s *Service) LogoutRefresh(ctx context.Context, userID, refreshToken string) error {
	now := s.now()
	c, err := s.validate(ctx, refreshToken, now)
	if err != nil {
		return err
	}
	if c.Kind != KindRefresh {
		return reject(ErrWrongKind)
	}
	if c.UserID != userID {
		return reject(errors.New("refresh token belongs to another user"))
	}
	s.revoked.Revoke(s.hasher.Sum(strings.TrimSpace(refreshToken)), s.horizon(c.ExpiresAt), revocation.ReasonLogout)
	return nil
}

// LogoutAll revokes every token of userID minted in an earlier millisecond.
// Tokens minted within the same millisecond as the call survive it.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return reject(ErrMalformedToken)
	}
	now := s.now()
	s.revoked.RevokeUser(userID, userCutoff(now), s.horizon(now.Add(s.cfg.RefreshTTL)))
	s.metrics.AuthEvent("logout_all", "ok")
	return nil
}

// horizon is how long a revocation for a token expiring at exp must be kept:
// the codec still accepts it for ClockSkew past exp.
func (s *Service) horizon(exp time.Time) time.Time {
	return exp.Add(max(s.cfg.ClockSkew, 0))
}

// userCutoff matches the millisecond precision of Claims.MintedAt.
func userCutoff(now time.Time) time.Time {
	return now.Truncate(time.Millisecond)
}

func (s *Service) issuePair(userID, username string, now time.Time) (Issued, error) {
	access, ac, err := s.codec.Issue(KindAccess, userID, username, now)
	if err != nil {
		return Issued{}, err
	}
	refresh, rc, err := s.codec.Issue(KindRefresh, userID, username, now)
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		AccessToken:  access,
		AccessExp:    ac.ExpiresAt,
		RefreshToken: refresh,
		RefreshExp:   rc.ExpiresAt,
		UserID:       userID,
		Username:     username,
	}, nil
}

func (s *Service) maybeRehash(ctx context.Context, ua identity.UserAuth, pass string, now time.Time) {
	if s.rehash == nil || !s.pw.NeedsRehash(ua.PasswordHash) {
		return
	}
	h, err := s.pw.Hash(pass)
	if err != nil {
		return
	}
	if err := s.rehash.UpdatePasswordHash(ctx, ua.User.ID, h, now); err != nil {
		s.log.Warn("auth.login.rehash_fail", "user_id", ua.User.ID, "err", err)
		return
	}
	s.log.Info("auth.login.rehash", "user_id", ua.User.ID)
}

// dummy returns the hash verified when the user is missing.
func (s *Service) dummy() string { return s.pw.PlaceholderHash() }
