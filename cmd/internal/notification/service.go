package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nexus/cmd/identity/ids"
	"nexus/cmd/internal/realtime"
	"nexus/cmd/internal/telemetry"
	v1 "nexus/shared/contracts/realtime/v1"
)

const (
	maxKindLen = 64
	maxBodyLen = 2000
)

// CreateInput describes a new notification. Data is marshalled to JSON.
type CreateInput struct {
	UserID string
	Kind   string
	Body   string
	Data   any
}

// Service creates notifications and pushes them to connected sessions.
type Service struct {
	store   Store
	pub     realtime.Publisher
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service. pub may be nil.
func NewService(store Store, pub realtime.Publisher, opts ...Option) *Service {
	s := &Service{
		store: store,
		pub:   pub,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create stores a notification and then publishes notification.created to
// the user. It succeeds once the store write succeeds; delivery is best-effort
// and a user with no live session simply finds it in List later.
func (s *Service) Create(ctx context.Context, in CreateInput) (Notification, error) {
	userID := strings.TrimSpace(in.UserID)
	kind := strings.TrimSpace(in.Kind)
	if userID == "" || kind == "" || len(kind) > maxKindLen || len(in.Body) > maxBodyLen {
		return Notification{}, ErrInvalidInput
	}

	var data json.RawMessage
	if in.Data != nil {
		b, err := json.Marshal(in.Data)
		if err != nil {
			return Notification{}, fmt.Errorf("%w: data: %v", ErrInvalidInput, err)
		}
		data = b
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Notification{}, err
	}
	n := Notification{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Body:      in.Body,
		Data:      data,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, n); err != nil {
		return Notification{}, fmt.Errorf("store create: %w", err)
	}
	s.metrics.NotificationCreated()

	if s.pub != nil {
		rep := s.pub.PublishToUser(userID, v1.TypeNotificationCreated, Payload(n))
		s.log.Debug("notification.created", "user_id", userID, "kind", kind, "delivered", rep.Delivered, "dropped", rep.Dropped)
	}
	return n, nil
}

// Notify is a shorthand for Create used by other collaborators.
func (s *Service) Notify(ctx context.Context, userID, kind, body string, data any) error {
	_, err := s.Create(ctx, CreateInput{UserID: userID, Kind: kind, Body: body, Data: data})
	return err
}

// List returns the newest notifications of userID.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	return s.store.List(ctx, userID, limit)
}

// Unread counts unread notifications of userID.
func (s *Service) Unread(ctx context.Context, userID string) (int, error) {
	return s.store.Unread(ctx, userID)
}

// MarkRead marks ids as read for userID.
func (s *Service) MarkRead(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) > maxMarkIDs {
		return 0, fmt.Errorf("%w: too many ids: max=%d", ErrInvalidInput, maxMarkIDs)
	}
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	return s.store.MarkRead(ctx, userID, clean)
}

// Payload converts n into its wire form.
func Payload(n Notification) v1.NotificationPayload {
	return v1.NotificationPayload{
		ID:        n.ID,
		Kind:      n.Kind,
		Body:      n.Body,
		Data:      n.Data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}
