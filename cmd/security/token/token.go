package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// MinHMACKeyBytes is the shortest key ParseHMACKey accepts in production.
const MinHMACKeyBytes = 32

var (
	ErrHMACKeyMissing  = errors.New("token: hmac key missing")
	ErrHMACKeyTooShort = errors.New("token: hmac key too short")
)

// ParseHMACKey trims raw and returns it as a key of at least minBytes bytes.
func ParseHMACKey(raw string, minBytes int) ([]byte, error) {
	key := []byte(strings.TrimSpace(raw))
	switch {
	case len(key) == 0:
		return nil, ErrHMACKeyMissing
	case len(key) < minBytes:
		return nil, fmt.Errorf("%w: %d < %d bytes", ErrHMACKeyTooShort, len(key), minBytes)
	}
	return key, nil
}

// Hasher turns a raw bearer token into the 64-char hex id under which it is
// revoked. With a key it is HMAC-SHA256, so ids leaked from storage cannot be
// checked against guessed tokens. The zero value is plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher copies key. An empty key gives the zero Hasher.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	return Hasher{key: append([]byte(nil), key...)}
}

// HMACEnabled reports whether h is keyed.
func (h Hasher) HMACEnabled() bool { return len(h.key) > 0 }

func (h Hasher) Sum(tok string) string {
	var d hash.Hash
	if h.HMACEnabled() {
		d = hmac.New(sha256.New, h.key)
	} else {
		d = sha256.New()
	}
	_, _ = d.Write([]byte(tok))
	return hex.EncodeToString(d.Sum(nil))
}
