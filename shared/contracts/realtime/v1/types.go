// Package v1 defines the nexus realtime protocol v1 contract.
//
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated at handshake.
const Subprotocol = "nexus.realtime.v1"

// Client -> server types.
const (
	TypeHello                  = "hello"
	TypeChatSendMessage        = "chat.sendMessage"
	TypeChatMarkAsRead         = "chat.markAsRead"
	TypeChatTyping             = "chat.typing"
	TypePresencePing           = "presence.ping"
	TypeNotificationsSubscribe = "notifications.subscribe"
)

// Server -> client types. Event topics double as envelope types.
const (
	TypeHelloAck                = "hello.ack"
	TypeMessageAck              = "message.ack"
	TypeMessageNew              = "message.new"
	TypeMessageRead             = "message.read"
	TypeTyping                  = "typing"
	TypePresenceOnline          = "presence.online"
	TypePresenceOffline         = "presence.offline"
	TypePresenceState           = "presence.state"
	TypeNotificationCreated     = "notification.created"
	TypeNotificationsSubscribed = "notifications.subscribed"
	TypeError                   = "error"
)

// Destinations. Per-user queues are resolved against the connected user;
// /topic/presence is the single process-wide broadcast.
const (
	DestMessages      = "/user/queue/messages"
	DestNotifications = "/user/queue/notifications"
	DestTyping        = "/user/queue/typing"
	DestReceipts      = "/user/queue/receipts"
	DestPresence      = "/topic/presence"
)

// DestinationFor maps an event type to the destination it is delivered on.
// Replies that only go to the requesting session have no destination.
func DestinationFor(typ string) string {
	switch typ {
	case TypeMessageNew:
		return DestMessages
	case TypeMessageRead:
		return DestReceipts
	case TypeTyping:
		return DestTyping
	case TypeNotificationCreated:
		return DestNotifications
	case TypePresenceOnline, TypePresenceOffline:
		return DestPresence
	default:
		return ""
	}
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Dest    string          `json:"dest,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an inbound Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if !IsClientType(e.Type) {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// IsClientType reports whether typ may be sent by a client.
func IsClientType(typ string) bool {
	switch typ {
	case TypeHello,
		TypeChatSendMessage,
		TypeChatMarkAsRead,
		TypeChatTyping,
		TypePresencePing,
		TypeNotificationsSubscribe:
		return true
	default:
		return false
	}
}

// ---- Client payloads ----

// HelloPayload is sent by the client after connecting.
type HelloPayload struct{}

// SendMessagePayload asks to deliver a direct message to another user.
type SendMessagePayload struct {
	To          string `json:"to"`
	ClientMsgID string `json:"clientMsgId"`
	Text        string `json:"text"`
}

// MarkAsReadPayload moves the caller's read cursor in a conversation.
type MarkAsReadPayload struct {
	ConversationID string `json:"conversationId"`
	UpToSeq        int64  `json:"upToSeq"`
}

// TypingPayload tells another user the caller started or stopped typing.
type TypingPayload struct {
	To     string `json:"to"`
	Typing bool   `json:"typing"`
}

// PresencePingPayload asks which of the listed users are online.
type PresencePingPayload struct {
	Users []string `json:"users"`
}

// NotificationsSubscribePayload has no fields; the reply carries the unread count.
type NotificationsSubscribePayload struct{}

// ---- Server payloads ----

// HelloAckPayload confirms the authenticated identity of the session.
type HelloAckPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

// MessageAckPayload acknowledges a send request with the canonical server ids.
type MessageAckPayload struct {
	ConversationID string `json:"conversationId"`
	ClientMsgID    string `json:"clientMsgId"`
	MessageID      string `json:"messageId"`
	Seq            int64  `json:"seq"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

// MessageNewPayload is delivered to both participants of a stored message.
type MessageNewPayload struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	ClientMsgID    string    `json:"clientMsgId"`
	Seq            int64     `json:"seq"`
	From           string    `json:"from"`
	FromUsername   string    `json:"fromUsername,omitempty"`
	To             string    `json:"to"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sentAt"`
}

// MessageReadPayload reports a read cursor change.
type MessageReadPayload struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	UpToSeq        int64     `json:"upToSeq"`
	ReadAt         time.Time `json:"readAt"`
}

// TypingEventPayload is delivered to the user being typed at.
type TypingEventPayload struct {
	ConversationID string `json:"conversationId"`
	From           string `json:"from"`
	Typing         bool   `json:"typing"`
}

// PresenceEventPayload announces a user coming online or going offline.
type PresenceEventPayload struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	At       time.Time `json:"at"`
}

// PresenceStatePayload answers presence.ping.
type PresenceStatePayload struct {
	Online map[string]bool `json:"online"`
}

// NotificationPayload is a stored notification.
type NotificationPayload struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Body      string          `json:"body"`
	Data      json.RawMessage `json:"data,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NotificationsSubscribedPayload answers notifications.subscribe.
type NotificationsSubscribedPayload struct {
	Unread int `json:"unread"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
