package chat

import (
	"strings"
)

const conversationPrefix = "dm:"

// ConversationID returns the stable id of the direct conversation between a and b.
// It is symmetric: ConversationID(a, b) == ConversationID(b, a).
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return conversationPrefix + a + ":" + b
}

// Participants parses a conversation id into its two user ids.
func Participants(conversationID string) (a, b string, ok bool) {
	rest, found := strings.CutPrefix(conversationID, conversationPrefix)
	if !found {
		return "", "", false
	}
	a, b, found = strings.Cut(rest, ":")
	if !found || a == "" || b == "" || a == b || strings.Contains(b, ":") {
		return "", "", false
	}
	if ConversationID(a, b) != conversationID {
		return "", "", false
	}
	return a, b, true
}

// Peer returns the other participant of conversationID from userID's point
// of view. ok is false when userID is not a participant.
func Peer(conversationID, userID string) (string, bool) {
	a, b, ok := Participants(conversationID)
	if !ok {
		return "", false
	}
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	default:
		return "", false
	}
}
