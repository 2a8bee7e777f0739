// Package identity holds nexus users and their login credentials.
//
// It answers the two lookups the session layer needs (by id, and by username
// or email at login) and stores argon2id password hashes, never passwords.
package identity
