// Package conf loads nexus runtime configuration.
//
// Sources are layered with koanf, later sources overriding earlier ones:
//
//  1. optional YAML file
//  2. environment variables with the NEXUS_ prefix
//
// Environment keys map onto sections by their first underscore, so
// NEXUS_AUTH_ACCESS_TTL becomes auth.access_ttl and NEXUS_WS_SEND_QUEUE becomes ws.send_queue.
//
// Getters never fail. An absent or unparsable value yields the caller's default,
// which keeps package-level LoadConfig functions small and explicit.
package conf

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix for nexus settings.
const DefaultEnvPrefix = "NEXUS_"

// Source is a read-only view over the merged configuration.
// A nil *Source is valid and returns defaults for every key.
type Source struct {
	k *koanf.Koanf
}

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	envPrefix string
	file      string
	overrides map[string]any
}

// WithEnvPrefix overrides DefaultEnvPrefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *loadOptions) { o.envPrefix = prefix }
}

// WithFile adds a YAML file below the environment layer.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = strings.TrimSpace(path) }
}

// WithOverrides adds dotted keys above the environment layer, e.g. values
// taken from command-line flags. Empty strings are skipped.
func WithOverrides(values map[string]any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = make(map[string]any, len(values))
		}
		for k, v := range values {
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				continue
			}
			o.overrides[k] = v
		}
	}
}

// Load reads the configured file (if any), then the environment, then overrides.
func Load(opts ...Option) (*Source, error) {
	o := loadOptions{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	k := koanf.New(".")

	if o.file != "" {
		if err := k.Load(file.Provider(o.file), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("conf: load file %s: %w", o.file, err)
		}
	}

	prefix := o.envPrefix
	transform := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, prefix))
		return strings.Replace(s, "_", ".", 1)
	}
	if err := k.Load(env.Provider(prefix, ".", transform), nil); err != nil {
		return nil, fmt.Errorf("conf: load env: %w", err)
	}

	if len(o.overrides) > 0 {
		if err := k.Load(mapProvider(unflatten(o.overrides)), nil); err != nil {
			return nil, fmt.Errorf("conf: load overrides: %w", err)
		}
	}

	return &Source{k: k}, nil
}

// FromMap builds a Source from dotted keys, e.g. {"auth.access_ttl": "5m"}.
// Used by tests and by callers assembling config programmatically.
func FromMap(values map[string]any) *Source {
	k := koanf.New(".")
	_ = k.Load(mapProvider(unflatten(values)), nil)
	return &Source{k: k}
}

// Has reports whether key is set in any layer.
func (s *Source) Has(key string) bool {
	if s == nil || s.k == nil {
		return false
	}
	return s.k.Exists(key)
}

func (s *Source) raw(key string) string {
	if !s.Has(key) {
		return ""
	}
	return strings.TrimSpace(s.k.String(key))
}

// String returns the value for key, or def when unset or blank.
func (s *Source) String(key, def string) string {
	if v := s.raw(key); v != "" {
		return v
	}
	return def
}

// Bool returns the boolean value for key, or def when unset or invalid.
func (s *Source) Bool(key string, def bool) bool {
	v := s.raw(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int returns a positive int for key, or def when unset, invalid or not positive.
func (s *Source) Int(key string, def int) int {
	v := s.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Int64 returns a positive int64 for key, or def.
func (s *Source) Int64(key string, def int64) int64 {
	v := s.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Int32 returns a non-negative int32 for key, or def.
func (s *Source) Int32(key string, def int32) int32 {
	v := s.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

// Float64 returns a positive float for key, or def.
func (s *Source) Float64(key string, def float64) float64 {
	v := s.raw(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

// Duration returns a positive duration for key, or def.
func (s *Source) Duration(key string, def time.Duration) time.Duration {
	v := s.raw(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DurationAllowZero is Duration but accepts "0" / "0s" as an explicit zero.
// Negative or invalid values yield def.
func (s *Source) DurationAllowZero(key string, def time.Duration) time.Duration {
	v := s.raw(key)
	if v == "" {
		return def
	}
	if v == "0" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// CSV returns a list for key. YAML lists and comma-separated strings are both accepted.
// Blank items are dropped. When the key is unset, def is parsed the same way.
func (s *Source) CSV(key, def string) []string {
	if s.Has(key) {
		if items, ok := s.k.Get(key).([]any); ok {
			out := make([]string, 0, len(items))
			for _, it := range items {
				if v := strings.TrimSpace(fmt.Sprint(it)); v != "" {
					out = append(out, v)
				}
			}
			return out
		}
	}
	return splitCSV(s.String(key, def))
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
