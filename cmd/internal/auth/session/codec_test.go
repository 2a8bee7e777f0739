package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SigningKey = testKey
	return cfg
}

func mustCodec(t *testing.T, cfg Config) *JWTCodec {
	t.Helper()
	c, err := NewJWTCodec(cfg)
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}
	return c
}

func TestJWTCodec_IssueAndDecode(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testConfig())
	now := time.Date(2026, 4, 2, 9, 30, 15, 500_000_000, time.UTC)

	tok, claims, err := c.Issue(KindAccess, "01HZUSER0000000000000000AA", "ingrid", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !claims.IssuedAt.Equal(now.Truncate(time.Second)) {
		t.Fatalf("iat=%v", claims.IssuedAt)
	}
	if !claims.ExpiresAt.Equal(claims.IssuedAt.Add(15 * time.Minute)) {
		t.Fatalf("exp=%v", claims.ExpiresAt)
	}

	got, err := c.Decode(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.TokenID != claims.TokenID || got.UserID != claims.UserID || got.Username != "ingrid" || got.Kind != KindAccess {
		t.Fatalf("decoded claims mismatch:\n got %+v\nwant %+v", got, claims)
	}
	if !got.IssuedAt.Equal(claims.IssuedAt) || !got.ExpiresAt.Equal(claims.ExpiresAt) {
		t.Fatalf("decoded times mismatch: %+v", got)
	}
	if got.MintedAt().Before(claims.IssuedAt) {
		t.Fatalf("MintedAt before iat")
	}
}

func TestJWTCodec_TokenIDsDiffer(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testConfig())
	now := time.Now()

	a, ca, _ := c.Issue(KindAccess, "u1", "u", now)
	b, cb, _ := c.Issue(KindAccess, "u1", "u", now)
	if a == b || ca.TokenID == cb.TokenID {
		t.Fatalf("tokens issued in the same instant must differ")
	}
}

func TestJWTCodec_RefreshTTL(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testConfig())
	now := time.Now()

	_, claims, err := c.Issue(KindRefresh, "u1", "u", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt) != 7*24*time.Hour {
		t.Fatalf("refresh ttl=%v", claims.ExpiresAt.Sub(claims.IssuedAt))
	}
}

func TestJWTCodec_Expired(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testConfig())
	now := time.Now()

	tok, claims, _ := c.Issue(KindAccess, "u1", "u", now)
	_, err := c.Decode(tok, claims.ExpiresAt.Add(time.Second))
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestJWTCodec_ClockSkew(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ClockSkew = 30 * time.Second
	c := mustCodec(t, cfg)
	now := time.Now()

	tok, claims, _ := c.Issue(KindAccess, "u1", "u", now)
	if _, err := c.Decode(tok, claims.ExpiresAt.Add(10*time.Second)); err != nil {
		t.Fatalf("within skew should decode, got %v", err)
	}
	if _, err := c.Decode(tok, claims.ExpiresAt.Add(time.Minute)); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("past skew should be expired, got %v", err)
	}
}

func TestJWTCodec_TamperedPayload(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testConfig())
	now := time.Now()

	tok, _, _ := c.Issue(KindAccess, "victim", "v", now)
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	payload["sub"] = "attacker"
	forged, _ := json.Marshal(payload)
	parts[1] = base64.RawURLEncoding.EncodeToString(forged)

	_, err = c.Decode(strings.Join(parts, "."), now)
	if !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken for tampered payload, got %v", err)
	}
}

func TestJWTCodec_RejectsOtherKeysAndAlgs(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testConfig())
	now := time.Now()

	wire := jwtClaims{
		Username: "u",
		Kind:     KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "01J9ZK3W6T8M2Q4R5S6V7X8Y9Z",
			Subject:   "u1",
			Issuer:    "nexus",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, wire).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign HS512: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, wire).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("sign other key: %v", err)
	}

	for name, tok := range map[string]string{
		"hs512":     hs512,
		"none":      none,
		"other_key": otherKey,
		"garbage":   "not.a.jwt",
		"empty":     "",
	} {
		if _, err := c.Decode(tok, now); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("%s: expected ErrMalformedToken, got %v", name, err)
		}
	}
}

func TestJWTCodec_RejectsBadClaims(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testConfig())
	now := time.Now()

	base := func() jwtClaims {
		return jwtClaims{
			Username: "u",
			Kind:     KindAccess,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "01J9ZK3W6T8M2Q4R5S6V7X8Y9Z",
				Subject:   "u1",
				Issuer:    "nexus",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
	}

	unknownKind := base()
	unknownKind.Kind = "admin"
	wrongIssuer := base()
	wrongIssuer.Issuer = "someone-else"
	noSubject := base()
	noSubject.Subject = ""
	noExpiry := base()
	noExpiry.ExpiresAt = nil
	nonULID := base()
	nonULID.ID = "token-1"

	for name, wire := range map[string]jwtClaims{
		"unknown_kind": unknownKind,
		"wrong_issuer": wrongIssuer,
		"no_subject":   noSubject,
		"no_expiry":    noExpiry,
		"non_ulid_jti": nonULID,
	} {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(testKey)
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		if _, err := c.Decode(tok, now); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("%s: expected ErrMalformedToken, got %v", name, err)
		}
	}
}

func TestNewJWTCodec_ShortKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SigningKey = []byte("too-short")
	if _, err := NewJWTCodec(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestJWTCodec_IssueRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, testConfig())
	if _, _, err := c.Issue("admin", "u1", "u", time.Now()); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
