package session

import (
	"strings"
	"time"

	"nexus/cmd/internal/conf"
)

// MinSigningKeyBytes is the minimum HS256 key size.
const MinSigningKeyBytes = 32

// Config defines runtime configuration for token issuance and validation.
type Config struct {
	// Issuer is the "iss" claim, checked on decode.
	Issuer string

	// SigningKey is the process-wide HS256 key.
	SigningKey []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ClockSkew is the leeway applied to exp during decode.
	ClockSkew time.Duration

	// RevokeAllOnReuse revokes every token of a user when a rotated
	// refresh token is presented again.
	RevokeAllOnReuse bool
}

// DefaultConfig returns defaults without a signing key.
func DefaultConfig() Config {
	return Config{
		Issuer:     "nexus",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

// LoadConfig reads the auth.* keys from src.
//
// Required:
//   - auth.signing_key (NEXUS_AUTH_SIGNING_KEY), at least 32 bytes
//
// Optional:
//   - auth.issuer
//   - auth.access_ttl
//   - auth.refresh_ttl
//   - auth.clock_skew
//   - auth.revoke_all_on_reuse
//
// Returns ErrConfig if configuration is invalid.
func LoadConfig(src *conf.Source) (Config, error) {
	cfg := DefaultConfig()

	cfg.Issuer = src.String("auth.issuer", cfg.Issuer)
	cfg.AccessTTL = src.Duration("auth.access_ttl", cfg.AccessTTL)
	cfg.RefreshTTL = src.Duration("auth.refresh_ttl", cfg.RefreshTTL)
	cfg.ClockSkew = src.DurationAllowZero("auth.clock_skew", cfg.ClockSkew)
	cfg.RevokeAllOnReuse = src.Bool("auth.revoke_all_on_reuse", cfg.RevokeAllOnReuse)

	key := strings.TrimSpace(src.String("auth.signing_key", ""))
	if len(key) < MinSigningKeyBytes {
		return Config{}, ErrConfig
	}
	cfg.SigningKey = []byte(key)

	if cfg.RefreshTTL < cfg.AccessTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
