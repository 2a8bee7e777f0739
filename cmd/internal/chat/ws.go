package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"nexus/cmd/internal/realtime"
	v1 "nexus/shared/contracts/realtime/v1"
)

// Mux is where realtime frame handlers are registered; *realtime.Gateway implements it.
type Mux interface {
	Handle(typ string, h realtime.HandlerFunc)
}

// RegisterHandlers binds chat.sendMessage, chat.markAsRead and chat.typing to s.
func (s *Service) RegisterHandlers(m Mux) {
	m.Handle(v1.TypeChatSendMessage, s.onSendMessage)
	m.Handle(v1.TypeChatMarkAsRead, s.onMarkAsRead)
	m.Handle(v1.TypeChatTyping, s.onTyping)
}

func actorOf(sess *realtime.Session) Actor {
	return Actor{UserID: sess.UserID, Username: sess.Username, SessionID: sess.ID}
}

func (s *Service) onSendMessage(ctx context.Context, sess *realtime.Session, payload json.RawMessage) error {
	var p v1.SendMessagePayload
	if err := realtime.DecodePayload(payload, &p); err != nil {
		return err
	}

	msg, dup, err := s.Send(ctx, actorOf(sess), p.To, p.ClientMsgID, p.Text)
	if err != nil {
		return frameError("send_failed", err)
	}

	sess.Reply(v1.TypeMessageAck, v1.MessageAckPayload{
		ConversationID: msg.ConversationID,
		ClientMsgID:    msg.ClientMsgID,
		MessageID:      msg.ID,
		Seq:            msg.Seq,
		Duplicate:      dup,
	})
	return nil
}

func (s *Service) onMarkAsRead(ctx context.Context, sess *realtime.Session, payload json.RawMessage) error {
	var p v1.MarkAsReadPayload
	if err := realtime.DecodePayload(payload, &p); err != nil {
		return err
	}
	if _, err := s.MarkRead(ctx, actorOf(sess), strings.TrimSpace(p.ConversationID), p.UpToSeq); err != nil {
		return frameError("read_failed", err)
	}
	return nil
}

func (s *Service) onTyping(ctx context.Context, sess *realtime.Session, payload json.RawMessage) error {
	var p v1.TypingPayload
	if err := realtime.DecodePayload(payload, &p); err != nil {
		return err
	}
	if _, err := s.Typing(ctx, actorOf(sess), p.To, p.Typing); err != nil {
		return frameError("typing_failed", err)
	}
	return nil
}

// frameError maps domain errors to client-visible codes. Anything else is
// returned as is and surfaces as "internal".
func frameError(fallback string, err error) error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return realtime.Reject("forbidden", "not allowed")
	case errors.Is(err, ErrNotFound):
		return realtime.Reject("not_found", "recipient not found")
	case errors.Is(err, ErrInvalidInput):
		return realtime.Reject(fallback, "%s", strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": "))
	default:
		return err
	}
}
