package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"nexus/cmd/identity/ids"
)

const memMaxMessagesPerConversation = 10_000

// MemoryStore is the dev fallback when no database is configured.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string]*memConv
}

type memConv struct {
	seq     int64
	dedupe  map[string]Message // client_msg_id -> stored message
	msgs    []Message          // ordered by seq
	cursors map[string]ReadCursor
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*memConv)}
}

func (s *MemoryStore) conv(id string) *memConv {
	c := s.convs[id]
	if c == nil {
		c = &memConv{
			dedupe:  make(map[string]Message),
			msgs:    make([]Message, 0, 64),
			cursors: make(map[string]ReadCursor, 2),
		}
		s.convs[id] = c
	}
	return c
}

// Append stores a message with idempotency and monotonic sequence allocation.
func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if in.ConversationID == "" || in.ClientMsgID == "" || in.SenderID == "" || in.RecipientID == "" {
		return AppendResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return AppendResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conv(in.ConversationID)
	if existing, ok := c.dedupe[in.ClientMsgID]; ok {
		return AppendResult{Message: existing, Duplicate: true}, nil
	}

	c.seq++
	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		Seq:            c.seq,
		ClientMsgID:    in.ClientMsgID,
		SenderID:       in.SenderID,
		RecipientID:    in.RecipientID,
		Text:           in.Text,
		SentAt:         now,
	}
	c.dedupe[in.ClientMsgID] = msg
	c.msgs = append(c.msgs, msg)

	if len(c.msgs) > memMaxMessagesPerConversation {
		c.msgs = c.msgs[len(c.msgs)-memMaxMessagesPerConversation:]
	}

	return AppendResult{Message: msg}, nil
}

// MarkRead moves userID's cursor forward, clamped to the latest seq.
func (s *MemoryStore) MarkRead(ctx context.Context, in MarkReadInput) (MarkReadResult, error) {
	if in.ConversationID == "" || in.UserID == "" || in.UpToSeq <= 0 {
		return MarkReadResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return MarkReadResult{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conv(in.ConversationID)
	target := min(in.UpToSeq, c.seq)

	cur, ok := c.cursors[in.UserID]
	if ok && cur.UpToSeq >= target {
		return MarkReadResult{Cursor: cur}, nil
	}
	if target <= 0 {
		return MarkReadResult{Cursor: ReadCursor{ConversationID: in.ConversationID, UserID: in.UserID}}, nil
	}
	cur = ReadCursor{ConversationID: in.ConversationID, UserID: in.UserID, UpToSeq: target, ReadAt: now}
	c.cursors[in.UserID] = cur
	return MarkReadResult{Cursor: cur, Advanced: true}, nil
}

// Unread counts messages addressed to userID after their read cursor.
func (s *MemoryStore) Unread(ctx context.Context, conversationID, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return 0, nil
	}
	after := c.cursors[userID].UpToSeq
	var n int64
	for _, m := range c.msgs {
		if m.Seq > after && m.RecipientID == userID {
			n++
		}
	}
	return n, nil
}

// History returns messages ordered by seq ASC with paging via AfterSeq.
func (s *MemoryStore) History(ctx context.Context, in HistoryInput) (HistoryResult, error) {
	if in.ConversationID == "" {
		return HistoryResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return HistoryResult{}, err
	}

	limit := clampLimit(in.Limit)

	s.mu.Lock()
	c := s.convs[in.ConversationID]
	var snap []Message
	if c != nil {
		snap = append([]Message(nil), c.msgs...)
	}
	s.mu.Unlock()

	if len(snap) == 0 {
		return HistoryResult{}, nil
	}

	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
		if start >= len(snap) {
			return HistoryResult{}, nil
		}
	}

	end := min(start+limit+1, len(snap))
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return HistoryResult{Messages: out, HasMore: hasMore}, nil
}
