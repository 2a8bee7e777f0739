package authapi

import (
	"time"

	"nexus/cmd/internal/conf"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// LoginRate is the sustained number of login attempts allowed per IP
	// per LoginWindow. LoginBurst is the bucket size.
	LoginRate   int
	LoginBurst  int
	LoginWindow time.Duration

	// LoginIdle is how long an idle per-IP limiter is kept.
	LoginIdle time.Duration
}

// DefaultConfig returns the defaults used when no key is set.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 1 << 20, // 1 MiB
		LoginRate:    10,
		LoginBurst:   5,
		LoginWindow:  time.Minute,
		LoginIdle:    15 * time.Minute,
	}
}

// LoadConfig reads the auth.* HTTP keys from src:
//   - auth.trust_proxy
//   - auth.max_body_bytes
//   - auth.login_rate (attempts per auth.login_window)
//   - auth.login_burst
//   - auth.login_window
//
// Invalid values fall back to the defaults.
func LoadConfig(src *conf.Source) Config {
	cfg := DefaultConfig()
	cfg.TrustProxy = src.Bool("auth.trust_proxy", cfg.TrustProxy)
	cfg.MaxBodyBytes = src.Int64("auth.max_body_bytes", cfg.MaxBodyBytes)
	cfg.LoginRate = src.Int("auth.login_rate", cfg.LoginRate)
	cfg.LoginBurst = src.Int("auth.login_burst", cfg.LoginBurst)
	cfg.LoginWindow = src.Duration("auth.login_window", cfg.LoginWindow)
	return cfg.normalized()
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.LoginRate < 0 {
		c.LoginRate = 0
	}
	if c.LoginBurst <= 0 {
		c.LoginBurst = d.LoginBurst
	}
	if c.LoginWindow <= 0 {
		c.LoginWindow = d.LoginWindow
	}
	if c.LoginIdle <= 0 {
		c.LoginIdle = d.LoginIdle
	}
	return c
}
