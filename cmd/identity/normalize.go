package identity

import "strings"

// NormalizeUsername performs case-insensitive canonicalization.
// For now we only trim and lower-case.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsEmailIdentifier reports whether a login identifier should be matched against emails.
func IsEmailIdentifier(s string) bool {
	return strings.Contains(s, "@")
}

// LoginKey returns the lookup column ("email" or "username") and normalized value.
func LoginKey(usernameOrEmail string) (field, value string) {
	if IsEmailIdentifier(usernameOrEmail) {
		return "email", NormalizeEmail(usernameOrEmail)
	}
	return "username", NormalizeUsername(usernameOrEmail)
}
