package app

import (
	"errors"
	"fmt"

	"nexus/cmd/security/token"
)

// tokenHasher builds the hasher that maps tokens to revocation ids.
//
// Under token.require_hmac a missing or short key is fatal; silently falling
// back to plain SHA-256 is not allowed. Without the policy a valid key still
// enables HMAC mode, and an invalid one is reported rather than ignored.
func tokenHasher(cfg Config) (token.Hasher, error) {
	key, err := token.ParseHMACKey(cfg.TokenHMACKey, token.MinHMACKeyBytes)
	switch {
	case err == nil:
		h := token.NewHasher(key)
		if !h.HMACEnabled() {
			return token.Hasher{}, errors.New("security policy: token hasher is not in HMAC mode")
		}
		return h, nil
	case errors.Is(err, token.ErrHMACKeyMissing) && !cfg.RequireTokenHMAC:
		return token.NewHasher(nil), nil
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, errors.New("security policy: token.require_hmac=true but token.hmac_key is missing")
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("security policy: token.hmac_key is too short (min %d bytes)", token.MinHMACKeyBytes)
	default:
		return token.Hasher{}, err
	}
}
