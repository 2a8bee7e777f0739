package identity

import (
	"errors"
	"strings"
)

// Error kinds, stable for errors.Is and for mapping to API status codes.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("user not found")
	ErrConflict     = errors.New("already taken")
)

// Error is returned by every identity store. Field names the offending
// input ("username", "email") when there is one. It never carries secrets.
type Error struct {
	Op    string
	Kind  error
	Field string
	Msg   string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(" ")
	}
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func invalid(op, msg string) error {
	return &Error{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

func conflict(op, field string) error {
	return &Error{Op: op, Kind: ErrConflict, Field: field}
}

func notFound(op string) error {
	return &Error{Op: op, Kind: ErrNotFound}
}

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err is ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// ConflictField returns the field of a conflict error, or "".
func ConflictField(err error) string {
	var e *Error
	if errors.As(err, &e) && errors.Is(e.Kind, ErrConflict) {
		return e.Field
	}
	return ""
}
