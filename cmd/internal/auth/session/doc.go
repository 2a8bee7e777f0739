// Package session issues, validates, rotates and revokes nexus bearer tokens.
//
// Tokens are self-contained HS256 JWTs. There is no session table: a token is
// valid while its signature checks out, it has not expired, and it is absent
// from the shared revocation store. Refresh tokens are single-use; refreshing
// revokes the presented token and mints a new pair.
//
// Every validation failure surfaces to callers as ErrInvalidToken. The
// underlying reason stays attached for logs through AuthError.
package session
