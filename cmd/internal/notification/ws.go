package notification

import (
	"context"
	"encoding/json"

	"nexus/cmd/internal/realtime"
	v1 "nexus/shared/contracts/realtime/v1"
)

// Mux is where realtime frame handlers are registered; *realtime.Gateway implements it.
type Mux interface {
	Handle(typ string, h realtime.HandlerFunc)
}

// RegisterHandlers binds notifications.subscribe to s.
func (s *Service) RegisterHandlers(m Mux) {
	m.Handle(v1.TypeNotificationsSubscribe, s.onSubscribe)
}

// onSubscribe answers with the unread count. Delivery of new notifications
// needs no subscription: every session of the user already receives them.
func (s *Service) onSubscribe(ctx context.Context, sess *realtime.Session, payload json.RawMessage) error {
	var p v1.NotificationsSubscribePayload
	if err := realtime.DecodePayload(payload, &p); err != nil {
		return err
	}
	n, err := s.Unread(ctx, sess.UserID)
	if err != nil {
		return err
	}
	sess.Reply(v1.TypeNotificationsSubscribed, v1.NotificationsSubscribedPayload{Unread: n})
	return nil
}
