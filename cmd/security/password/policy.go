package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy rejections. A *PolicyError matches exactly one of these under errors.Is.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
)

// PolicyError names the rule that rejected a password.
type PolicyError struct {
	Rule  string
	Limit int
	kind  error
}

func (e *PolicyError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("%s (%s %d)", e.kind, e.Rule, e.Limit)
	}
	return fmt.Sprintf("%s (%s)", e.kind, e.Rule)
}

func (e *PolicyError) Is(target error) bool { return target == e.kind }

// Validate checks length in runes and, when enabled, the weak-pattern rules.
func (c Config) Validate(password string) error {
	return c.ValidateFor(password)
}

// ValidateFor is Validate plus a check that the password does not embed any
// of the given identifiers (username, email local part). Identifiers shorter
// than three runes are ignored. The identity check runs only with
// RejectVeryWeak.
func (c Config) ValidateFor(password string, identifiers ...string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return &PolicyError{Rule: "min_length", Limit: c.Policy.MinLength, kind: ErrPasswordTooShort}
	case n > c.Policy.MaxLength:
		return &PolicyError{Rule: "max_length", Limit: c.Policy.MaxLength, kind: ErrPasswordTooLong}
	}
	if !c.Policy.RejectVeryWeak {
		return nil
	}

	s := strings.ToLower(strings.TrimSpace(password))
	for _, r := range weakRules {
		if r.match(s) {
			return &PolicyError{Rule: r.name, kind: ErrWeakPassword}
		}
	}
	for _, id := range identifiers {
		id = strings.ToLower(strings.TrimSpace(id))
		if at := strings.IndexByte(id, '@'); at >= 0 {
			id = id[:at]
		}
		if utf8.RuneCountInString(id) >= 3 && strings.Contains(s, id) {
			return &PolicyError{Rule: "contains_identity", kind: ErrWeakPassword}
		}
	}
	return nil
}

type weakRule struct {
	name  string
	match func(lower string) bool
}

// Not an entropy estimator. Each rule catches one shape of trivially guessable input.
var weakRules = []weakRule{
	{"blank", func(s string) bool { return s == "" }},
	{"repeated", repeatedRune},
	{"short_numeric", func(s string) bool {
		return utf8.RuneCountInString(s) < 12 && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
	}},
	{"sequence", monotonicRun},
	{"common", func(s string) bool { _, ok := commonPasswords[s]; return ok }},
}

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {},
	"qwerty": {}, "qwerty123": {}, "qwertyuiop": {},
	"123456": {}, "123456789": {}, "11111111": {},
	"letmein": {}, "iloveyou": {}, "welcome1": {},
}

func repeatedRune(s string) bool {
	first, _ := utf8.DecodeRuneInString(s)
	return strings.Trim(s, string(first)) == ""
}

// monotonicRun reports whether each rune is one above (or below) the previous,
// as in "abcdefgh" or "98765432".
func monotonicRun(s string) bool {
	rs := []rune(s)
	if len(rs) < 4 {
		return false
	}
	step := rs[1] - rs[0]
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(rs); i++ {
		if rs[i]-rs[i-1] != step {
			return false
		}
	}
	return true
}
