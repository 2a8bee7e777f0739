// Package token derives storage identifiers for bearer tokens.
//
// Raw tokens never leave the process. Revocation entries, both in memory and
// in Postgres, are keyed by Hasher.Sum. Production deployments set
// token.require_hmac so a missing key fails startup instead of degrading to
// plain SHA-256.
package token
