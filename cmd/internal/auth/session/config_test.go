package session

import (
	"errors"
	"testing"
	"time"

	"nexus/cmd/internal/conf"
)

func TestLoadConfig_MissingSigningKey(t *testing.T) {
	t.Parallel()

	if _, err := LoadConfig(nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing key, got %v", err)
	}
	src := conf.FromMap(map[string]any{"auth.signing_key": "short"})
	if _, err := LoadConfig(src); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on short key, got %v", err)
	}
}

func TestLoadConfig_InvalidTTLOrder(t *testing.T) {
	t.Parallel()

	src := conf.FromMap(map[string]any{
		"auth.signing_key": string(testKey),
		"auth.access_ttl":  "48h",
		"auth.refresh_ttl": "1h",
	})
	if _, err := LoadConfig(src); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for refresh < access, got %v", err)
	}
}

func TestLoadConfig_Valid(t *testing.T) {
	t.Parallel()

	src := conf.FromMap(map[string]any{
		"auth.signing_key":         string(testKey),
		"auth.issuer":              "nexus-test",
		"auth.access_ttl":          "10m",
		"auth.refresh_ttl":         "48h",
		"auth.clock_skew":          "20s",
		"auth.revoke_all_on_reuse": "true",
	})
	cfg, err := LoadConfig(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Issuer != "nexus-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 48*time.Hour {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTTL)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
	if !cfg.RevokeAllOnReuse {
		t.Fatalf("revoke_all_on_reuse not applied")
	}
}

func TestLoadConfig_InvalidDurationFallsBack(t *testing.T) {
	t.Parallel()

	src := conf.FromMap(map[string]any{
		"auth.signing_key": string(testKey),
		"auth.access_ttl":  "-5m",
	})
	cfg, err := LoadConfig(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AccessTTL != DefaultConfig().AccessTTL {
		t.Fatalf("invalid access ttl should fall back, got %v", cfg.AccessTTL)
	}
}
