// Package password hashes and verifies user passwords with Argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Hash strings are untrusted input during Verify. Decoding is strict and
// verification refuses parameters far above the configured cost, so a planted
// hash cannot be used to burn CPU or memory.
package password
