package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexus/cmd/identity/ids"
	"nexus/cmd/internal/pgutil"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// The pgx pool is owned by the caller. Writes to one conversation are
// serialized with a transactional advisory lock, which gives strictly
// monotonic seq values and no gaps for duplicates.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default "nexus").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgutil.CheckSchema("chat", schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: pgutil.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the chat tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	conversations := pgutil.Ident(s.schema, "conversations")
	messages := pgutil.Ident(s.schema, "messages")
	cursors := pgutil.Ident(s.schema, "read_cursors")

	ddl := `
CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize() + `;

CREATE TABLE IF NOT EXISTS ` + conversations + ` (
  id         TEXT PRIMARY KEY,
  next_seq   BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ` + messages + ` (
  conversation_id TEXT NOT NULL REFERENCES ` + conversations + `(id) ON DELETE CASCADE,
  seq             BIGINT NOT NULL,
  id              TEXT NOT NULL,
  client_msg_id   TEXT NOT NULL,
  sender_id       TEXT NOT NULL,
  recipient_id    TEXT NOT NULL,
  text            TEXT NOT NULL,
  sent_at         TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (conversation_id, seq),
  CONSTRAINT uq_messages_conversation_client_msg UNIQUE (conversation_id, client_msg_id),
  CONSTRAINT uq_messages_id UNIQUE (id),
  CONSTRAINT chk_messages_text_len CHECK (char_length(text) > 0 AND char_length(text) <= 4096)
);

CREATE TABLE IF NOT EXISTS ` + cursors + ` (
  conversation_id TEXT NOT NULL REFERENCES ` + conversations + `(id) ON DELETE CASCADE,
  user_id         TEXT NOT NULL,
  up_to_seq       BIGINT NOT NULL,
  read_at         TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (conversation_id, user_id)
);`

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Append stores a message with idempotency and monotonic sequence allocation.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversations := pgutil.Ident(s.schema, "conversations")
	messages := pgutil.Ident(s.schema, "messages")

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConversationID); err != nil {
		return AppendResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+conversations+` (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return AppendResult{}, err
	}

	existing, err := scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+`
		  WHERE conversation_id = $1 AND client_msg_id = $2`,
		in.ConversationID, in.ClientMsgID,
	))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Message: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+conversations+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE id = $1
		RETURNING (next_seq - 1)`,
		in.ConversationID,
	).Scan(&seq); err != nil {
		return AppendResult{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return AppendResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     conversation_id, seq, id, client_msg_id, sender_id, recipient_id, text, sent_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		in.ConversationID, seq, id, in.ClientMsgID, in.SenderID, in.RecipientID, in.Text, now,
	); err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Message: Message{
		ID:             id,
		ConversationID: in.ConversationID,
		Seq:            seq,
		ClientMsgID:    in.ClientMsgID,
		SenderID:       in.SenderID,
		RecipientID:    in.RecipientID,
		Text:           in.Text,
		SentAt:         now,
	}}, nil
}

// MarkRead moves userID's cursor forward, clamped to the latest stored seq.
func (s *PostgresStore) MarkRead(ctx context.Context, in MarkReadInput) (MarkReadResult, error) {
	if in.ConversationID == "" || in.UserID == "" || in.UpToSeq <= 0 {
		return MarkReadResult{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	conversations := pgutil.Ident(s.schema, "conversations")
	cursors := pgutil.Ident(s.schema, "read_cursors")

	// The upsert only fires when the clamped target is ahead of the stored cursor;
	// otherwise no row comes back and the current cursor is read instead.
	var cur ReadCursor
	err := s.pool.QueryRow(ctx,
		`WITH target AS (
		   SELECT id, LEAST($3::bigint, next_seq - 1) AS seq
		     FROM `+conversations+`
		    WHERE id = $1
		 )
		 INSERT INTO `+cursors+` AS c (conversation_id, user_id, up_to_seq, read_at)
		 SELECT id, $2::text, seq, $4::timestamptz FROM target WHERE seq > 0
		 ON CONFLICT (conversation_id, user_id) DO UPDATE
		    SET up_to_seq = EXCLUDED.up_to_seq,
		        read_at = EXCLUDED.read_at
		  WHERE c.up_to_seq < EXCLUDED.up_to_seq
		 RETURNING conversation_id, user_id, up_to_seq, read_at`,
		in.ConversationID, in.UserID, in.UpToSeq, now,
	).Scan(&cur.ConversationID, &cur.UserID, &cur.UpToSeq, &cur.ReadAt)
	if err == nil {
		return MarkReadResult{Cursor: cur, Advanced: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return MarkReadResult{}, err
	}

	cur = ReadCursor{ConversationID: in.ConversationID, UserID: in.UserID}
	err = s.pool.QueryRow(ctx,
		`SELECT up_to_seq, read_at FROM `+cursors+` WHERE conversation_id = $1 AND user_id = $2`,
		in.ConversationID, in.UserID,
	).Scan(&cur.UpToSeq, &cur.ReadAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return MarkReadResult{}, err
	}
	return MarkReadResult{Cursor: cur}, nil
}

// Unread counts messages addressed to userID after their read cursor.
func (s *PostgresStore) Unread(ctx context.Context, conversationID, userID string) (int64, error) {
	messages := pgutil.Ident(s.schema, "messages")
	cursors := pgutil.Ident(s.schema, "read_cursors")

	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+messages+` m
		  WHERE m.conversation_id = $1
		    AND m.recipient_id = $2
		    AND m.seq > COALESCE((
		        SELECT up_to_seq FROM `+cursors+`
		         WHERE conversation_id = $1 AND user_id = $2), 0)`,
		conversationID, userID,
	).Scan(&n)
	return n, err
}

// History returns messages ordered by seq ASC, with optional paging by AfterSeq.
func (s *PostgresStore) History(ctx context.Context, in HistoryInput) (HistoryResult, error) {
	if in.ConversationID == "" {
		return HistoryResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return HistoryResult{}, err
	}

	limit := clampLimit(in.Limit)
	var after int64
	if in.AfterSeq != nil {
		after = *in.AfterSeq
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+pgutil.Ident(s.schema, "messages")+`
		  WHERE conversation_id = $1 AND seq > $2
		  ORDER BY seq ASC
		  LIMIT $3`,
		in.ConversationID, after, limit+1,
	)
	if err != nil {
		return HistoryResult{}, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit+1)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return HistoryResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return HistoryResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return HistoryResult{Messages: msgs, HasMore: hasMore}, nil
}

const messageColumns = `id, conversation_id, seq, client_msg_id, sender_id, recipient_id, text, sent_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.ClientMsgID, &m.SenderID, &m.RecipientID, &m.Text, &m.SentAt)
	return m, err
}
