package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"nexus/cmd/identity"
	"nexus/cmd/internal/realtime"
	v1 "nexus/shared/contracts/realtime/v1"
)

const maxClientMsgIDLen = 64

// Actor is the authenticated user performing an operation. SessionID
// is set when the request came over a realtime session.
type Actor struct {
	UserID    string
	Username  string
	SessionID string
}

const (
	notifyKind       = "message"
	notifyPreviewLen = 80
)

// Notifier records a notification for a user, used when a recipient has no live session.
type Notifier interface {
	Notify(ctx context.Context, userID, kind, body string, data any) error
}

// Service implements direct messaging over a Store and a realtime.Publisher.
type Service struct {
	store  Store
	pub    realtime.Publisher
	users  identity.UserLookup
	notify Notifier
	log    *slog.Logger
	now    func() time.Time
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

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithUsers enables recipient existence checks.
func WithUsers(u identity.UserLookup) Option {
	return func(s *Service) { s.users = u }
}

// WithNotifier records a "message" notification when the recipient is offline.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

// NewService constructs a Service. pub may be nil, in which case nothing is delivered.
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

// Send stores a direct message from actor to the user `to` and delivers
// message.new to the recipient and to the sender's other sessions.
// A repeated clientMsgID returns the stored message with duplicate=true and
// delivers nothing.
func (s *Service) Send(ctx context.Context, actor Actor, to, clientMsgID, text string) (Message, bool, error) {
	to = strings.TrimSpace(to)
	clientMsgID = strings.TrimSpace(clientMsgID)
	text = strings.TrimSpace(text)

	switch {
	case actor.UserID == "":
		return Message{}, false, ErrUnauthorized
	case to == "":
		return Message{}, false, fmt.Errorf("%w: missing recipient", ErrInvalidInput)
	case to == actor.UserID:
		return Message{}, false, fmt.Errorf("%w: cannot message yourself", ErrUnauthorized)
	case clientMsgID == "" || len(clientMsgID) > maxClientMsgIDLen:
		return Message{}, false, fmt.Errorf("%w: clientMsgId must be 1..%d bytes", ErrInvalidInput, maxClientMsgIDLen)
	case text == "":
		return Message{}, false, fmt.Errorf("%w: empty text", ErrInvalidInput)
	case utf8.RuneCountInString(text) > realtime.MaxMessageChars:
		return Message{}, false, fmt.Errorf("%w: message too long: max=%d chars", ErrInvalidInput, realtime.MaxMessageChars)
	}

	if s.users != nil {
		if _, err := s.users.GetUserByID(ctx, to); err != nil {
			if identity.IsNotFound(err) {
				return Message{}, false, fmt.Errorf("%w: recipient", ErrNotFound)
			}
			return Message{}, false, err
		}
	}

	res, err := s.store.Append(ctx, AppendInput{
		ConversationID: ConversationID(actor.UserID, to),
		ClientMsgID:    clientMsgID,
		SenderID:       actor.UserID,
		RecipientID:    to,
		Text:           text,
		Now:            s.now(),
	})
	if err != nil {
		return Message{}, false, fmt.Errorf("store append: %w", err)
	}
	if res.Duplicate {
		return res.Message, true, nil
	}

	var delivered int
	if s.pub != nil {
		p := Payload(res.Message, actor.Username)
		delivered = s.pub.Publish(realtime.Event{TargetUserID: to, Topic: v1.TypeMessageNew, Payload: p}).Delivered
		s.pub.Publish(realtime.Event{
			TargetUserID:  actor.UserID,
			Topic:         v1.TypeMessageNew,
			Payload:       p,
			ExceptSession: actor.SessionID,
		})
	}
	if delivered == 0 && s.notify != nil {
		s.notifyOffline(ctx, res.Message, actor)
	}
	return res.Message, false, nil
}

func (s *Service) notifyOffline(ctx context.Context, m Message, actor Actor) {
	from := actor.Username
	if from == "" {
		from = actor.UserID
	}
	body := from + ": " + preview(m.Text, notifyPreviewLen)
	data := map[string]any{
		"conversationId": m.ConversationID,
		"messageId":      m.ID,
		"from":           m.SenderID,
		"seq":            m.Seq,
	}
	if err := s.notify.Notify(ctx, m.RecipientID, notifyKind, body, data); err != nil {
		s.log.Warn("chat.notify.fail", "user_id", m.RecipientID, "err", err)
	}
}

func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return string(r[:n]) + "…"
}

// MarkRead moves actor's read cursor and, when it advanced, delivers
// message.read to both participants.
func (s *Service) MarkRead(ctx context.Context, actor Actor, conversationID string, upToSeq int64) (ReadCursor, error) {
	peer, ok := Peer(conversationID, actor.UserID)
	if !ok {
		return ReadCursor{}, ErrUnauthorized
	}
	if upToSeq <= 0 {
		return ReadCursor{}, fmt.Errorf("%w: upToSeq must be positive", ErrInvalidInput)
	}

	res, err := s.store.MarkRead(ctx, MarkReadInput{
		ConversationID: conversationID,
		UserID:         actor.UserID,
		UpToSeq:        upToSeq,
		Now:            s.now(),
	})
	if err != nil {
		return ReadCursor{}, fmt.Errorf("store mark read: %w", err)
	}

	if res.Advanced && s.pub != nil {
		p := v1.MessageReadPayload{
			ConversationID: conversationID,
			ReaderID:       actor.UserID,
			UpToSeq:        res.Cursor.UpToSeq,
			ReadAt:         res.Cursor.ReadAt,
		}
		s.pub.PublishToUser(peer, v1.TypeMessageRead, p)
		s.pub.PublishToUser(actor.UserID, v1.TypeMessageRead, p)
	}
	return res.Cursor, nil
}

// Typing relays a typing indicator to `to`. Nothing is stored.
func (s *Service) Typing(_ context.Context, actor Actor, to string, typing bool) (realtime.Report, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return realtime.Report{}, fmt.Errorf("%w: missing recipient", ErrInvalidInput)
	}
	if to == actor.UserID || actor.UserID == "" {
		return realtime.Report{}, ErrUnauthorized
	}
	if s.pub == nil {
		return realtime.Report{}, nil
	}
	return s.pub.PublishToUser(to, v1.TypeTyping, v1.TypingEventPayload{
		ConversationID: ConversationID(actor.UserID, to),
		From:           actor.UserID,
		Typing:         typing,
	}), nil
}

// History returns a page of conversationID for a participant.
func (s *Service) History(ctx context.Context, actor Actor, conversationID string, afterSeq *int64, limit int) (HistoryResult, error) {
	if _, ok := Peer(conversationID, actor.UserID); !ok {
		return HistoryResult{}, ErrUnauthorized
	}
	return s.store.History(ctx, HistoryInput{ConversationID: conversationID, AfterSeq: afterSeq, Limit: limit})
}

// Unread counts messages addressed to actor after their read cursor.
func (s *Service) Unread(ctx context.Context, actor Actor, conversationID string) (int64, error) {
	if _, ok := Peer(conversationID, actor.UserID); !ok {
		return 0, ErrUnauthorized
	}
	return s.store.Unread(ctx, conversationID, actor.UserID)
}

// Payload is the wire form of m. fromUsername may be empty.
func Payload(m Message, fromUsername string) v1.MessageNewPayload {
	return v1.MessageNewPayload{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		ClientMsgID:    m.ClientMsgID,
		Seq:            m.Seq,
		From:           m.SenderID,
		FromUsername:   fromUsername,
		To:             m.RecipientID,
		Text:           m.Text,
		SentAt:         m.SentAt,
	}
}

// IsClientError reports whether err is caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound)
}
