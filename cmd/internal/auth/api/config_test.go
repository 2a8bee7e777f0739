package authapi

import (
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"nexus/cmd/internal/conf"
)

func TestLoadConfig_DefaultsAndOverrides(t *testing.T) {
	t.Parallel()

	if got := LoadConfig(nil); got != DefaultConfig() {
		t.Fatalf("nil source: %+v", got)
	}

	cfg := LoadConfig(conf.FromMap(map[string]any{
		"auth.trust_proxy":    "true",
		"auth.max_body_bytes": "2048",
		"auth.login_rate":     "3",
		"auth.login_burst":    "bogus",
		"auth.login_window":   "30s",
	}))
	if !cfg.TrustProxy || cfg.MaxBodyBytes != 2048 || cfg.LoginRate != 3 || cfg.LoginWindow != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.LoginBurst != DefaultConfig().LoginBurst {
		t.Fatalf("invalid burst should fall back, got %d", cfg.LoginBurst)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "garbage, 203.0.113.7, 10.0.0.2")
	r.Header.Set("X-Real-IP", "198.51.100.3")

	if ip := clientIP(r, false); ip != netip.MustParseAddr("10.0.0.1") {
		t.Fatalf("untrusted proxy: %v", ip)
	}
	if ip := clientIP(r, true); ip != netip.MustParseAddr("203.0.113.7") {
		t.Fatalf("forwarded: %v", ip)
	}
	r.Header.Del("X-Forwarded-For")
	if ip := clientIP(r, true); ip != netip.MustParseAddr("198.51.100.3") {
		t.Fatalf("real ip: %v", ip)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":              "",
		"Bearer":        "",
		"Basic abc":     "",
		"Bearer abc":    "abc",
		"bearer  abc  ": "abc",
	}
	for header, want := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := bearerToken(r); got != want {
			t.Fatalf("bearerToken(%q)=%q, want %q", header, got, want)
		}
	}
}
