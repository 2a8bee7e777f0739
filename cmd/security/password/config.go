package password

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"nexus/cmd/internal/conf"
)

// Argon2idParams is the Argon2id cost. MemoryKiB is in KiB, as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords. MaxLength also caps hashing work per request.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is everything Hash, Verify and Validate need.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig is tuned for interactive logins: 64 MiB, 3 passes, and one
// lane per CPU up to 4.
func DefaultConfig() Config {
	lanes := min(max(runtime.NumCPU(), 1), 4)
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- lanes is in [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{MinLength: 8, MaxLength: 256},
	}
}

// numericKey is one bounded unsigned setting.
type numericKey struct {
	key      string
	min, max uint64
	apply    func(*Config, uint64)
}

var numericKeys = []numericKey{
	{"password.min_len", 1, 1024, func(c *Config, v uint64) { c.Policy.MinLength = int(v) }},
	{"password.max_len", 1, 4096, func(c *Config, v uint64) { c.Policy.MaxLength = int(v) }},
	{"argon2.memory_kib", 8 * 1024, 1024 * 1024, func(c *Config, v uint64) { c.Params.MemoryKiB = uint32(v) }},
	{"argon2.iterations", 1, 20, func(c *Config, v uint64) { c.Params.Iterations = uint32(v) }},
	{"argon2.parallelism", 1, 64, func(c *Config, v uint64) { c.Params.Parallelism = uint8(v) }},
	{"argon2.salt_len", 8, 64, func(c *Config, v uint64) { c.Params.SaltLength = uint32(v) }},
	{"argon2.key_len", 16, 64, func(c *Config, v uint64) { c.Params.KeyLength = uint32(v) }},
}

// LoadConfig applies the password.* and argon2.* keys from src over
// DefaultConfig. Unlike most settings a bad value is an error rather than a
// fallback, and every bad key is reported.
//
// Keys: password.min_len, password.max_len, password.reject_very_weak,
// argon2.memory_kib, argon2.iterations, argon2.parallelism, argon2.salt_len,
// argon2.key_len. Env form is NEXUS_ plus the upper-cased key with dots as
// underscores.
func LoadConfig(src *conf.Source) (Config, error) {
	cfg := DefaultConfig()
	var errs []error

	for _, k := range numericKeys {
		raw := strings.TrimSpace(src.String(k.key, ""))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 32)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %q is not an unsigned integer", k.key, raw))
		case v < k.min || v > k.max:
			errs = append(errs, fmt.Errorf("%s: %d out of range [%d..%d]", k.key, v, k.min, k.max))
		default:
			k.apply(&cfg, v)
		}
	}

	if raw := strings.TrimSpace(src.String("password.reject_very_weak", "")); raw != "" {
		b, ok := parseSwitch(raw)
		if ok {
			cfg.Policy.RejectVeryWeak = b
		} else {
			errs = append(errs, fmt.Errorf("password.reject_very_weak: %q is not a boolean", raw))
		}
	}

	if len(errs) == 0 && cfg.Policy.MinLength > cfg.Policy.MaxLength {
		errs = append(errs, fmt.Errorf("password.min_len (%d) exceeds password.max_len (%d)",
			cfg.Policy.MinLength, cfg.Policy.MaxLength))
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func parseSwitch(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
