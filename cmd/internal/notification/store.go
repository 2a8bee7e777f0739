package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("notification: invalid input")

	// ErrUnauthorized is returned when a user touches another user's notification.
	ErrUnauthorized = errors.New("notification: unauthorized")
)

// Notification is one stored notification.
type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Body      string
	Data      json.RawMessage
	Read      bool
	CreatedAt time.Time
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n Notification) error
	// List returns the newest notifications of userID first.
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
	Unread(ctx context.Context, userID string) (int, error)
	// MarkRead marks ids as read for userID and returns how many changed.
	// It fails with ErrUnauthorized, changing nothing, if any id belongs to
	// another user. Unknown ids are ignored.
	MarkRead(ctx context.Context, userID string, ids []string) (int, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxMarkIDs       = 200
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
