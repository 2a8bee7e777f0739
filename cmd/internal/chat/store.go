package chat

import (
	"context"
	"time"
)

// Message is the canonical persisted direct message.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	ClientMsgID    string
	SenderID       string
	RecipientID    string
	Text           string
	SentAt         time.Time
}

// ReadCursor is how far a user has read in a conversation.
type ReadCursor struct {
	ConversationID string
	UserID         string
	UpToSeq        int64
	ReadAt         time.Time
}

// Store persists and queries messages.
//
// Requirements:
//   - Idempotency per (conversation_id, client_msg_id)
//   - Monotonic seq per conversation (no gaps for duplicates)
//   - History ordered by seq ASC
//   - Read cursors only move forward and never past the latest seq
type Store interface {
	Append(ctx context.Context, in AppendInput) (AppendResult, error)
	MarkRead(ctx context.Context, in MarkReadInput) (MarkReadResult, error)
	History(ctx context.Context, in HistoryInput) (HistoryResult, error)
	Unread(ctx context.Context, conversationID, userID string) (int64, error)
}

// AppendInput describes a message append request.
type AppendInput struct {
	ConversationID string
	ClientMsgID    string
	SenderID       string
	RecipientID    string
	Text           string
	Now            time.Time
}

// AppendResult is the append outcome. Duplicate is true when the
// client_msg_id was already stored; Message is then the original.
type AppendResult struct {
	Message   Message
	Duplicate bool
}

// MarkReadInput describes a read cursor move.
type MarkReadInput struct {
	ConversationID string
	UserID         string
	UpToSeq        int64
	Now            time.Time
}

// MarkReadResult carries the cursor after the move. Advanced is false when
// the cursor was already at or past the requested seq.
type MarkReadResult struct {
	Cursor   ReadCursor
	Advanced bool
}

// HistoryInput describes a history query.
type HistoryInput struct {
	ConversationID string
	AfterSeq       *int64
	Limit          int
}

// HistoryResult contains the retrieved history window.
type HistoryResult struct {
	Messages []Message
	HasMore  bool
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultHistoryLimit
	}
	if n > maxHistoryLimit {
		return maxHistoryLimit
	}
	return n
}
