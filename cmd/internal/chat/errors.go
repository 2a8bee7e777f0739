package chat

import "errors"

var (
	// ErrInvalidInput is returned for malformed requests (empty text, bad ids).
	ErrInvalidInput = errors.New("chat: invalid input")

	// ErrUnauthorized is returned when the actor may not perform the operation,
	// for example messaging themselves or reading a conversation they are not in.
	ErrUnauthorized = errors.New("chat: unauthorized")

	// ErrNotFound is returned when the recipient does not exist.
	ErrNotFound = errors.New("chat: not found")
)
