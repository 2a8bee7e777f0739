package chat

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"nexus/cmd/internal/pgutil"
	"nexus/cmd/internal/pgutil/pgtest"
)

// Integration tests run when NEXUS_DATABASE_URL is set.

func mustNewPostgresStore(t *testing.T) (*PostgresStore, string) {
	t.Helper()

	pool := pgtest.OpenPool(t)
	schema := pgtest.Schema(t, pool)

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	if err := st.EnsureSchema(pgtest.Context(t)); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return st, schema
}

func TestPostgresStore_Append_Dedupe_NoSeqWaste(t *testing.T) {
	t.Parallel()

	store, schema := mustNewPostgresStore(t)
	ctx := pgtest.Context(t)
	conv := ConversationID("01HZY0000000000000000ALICE", "01HZY00000000000000000BOB0")
	now := time.Now().UTC()

	in := AppendInput{
		ConversationID: conv,
		ClientMsgID:    "cmsg-1",
		SenderID:       "01HZY0000000000000000ALICE",
		RecipientID:    "01HZY00000000000000000BOB0",
		Text:           "hello",
		Now:            now,
	}
	first, err := store.Append(ctx, in)
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Duplicate || first.Message.Seq != 1 || first.Message.ID == "" {
		t.Fatalf("append first: %+v", first)
	}

	in.Now = now.Add(time.Second)
	second, err := store.Append(ctx, in)
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if !second.Duplicate || second.Message.Seq != first.Message.Seq || second.Message.ID != first.Message.ID {
		t.Fatalf("append duplicate: %+v", second)
	}

	in.ClientMsgID = "cmsg-2"
	third, err := store.Append(ctx, in)
	if err != nil {
		t.Fatalf("append third: %v", err)
	}
	if third.Message.Seq != 2 {
		t.Fatalf("duplicates must not burn a seq: got %d", third.Message.Seq)
	}

	var cnt int
	if err := store.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+pgutil.Ident(schema, "messages")+` WHERE conversation_id = $1`, conv,
	).Scan(&cnt); err != nil {
		t.Fatalf("count: %v", err)
	}
	if cnt != 2 {
		t.Fatalf("expected 2 message rows, got %d", cnt)
	}
}

func TestPostgresStore_History_Order_AfterSeq_HasMore(t *testing.T) {
	t.Parallel()

	store, _ := mustNewPostgresStore(t)
	ctx := pgtest.Context(t)
	conv := ConversationID("a", "b")

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, AppendInput{
			ConversationID: conv,
			ClientMsgID:    fmt.Sprintf("cmsg-%d", i),
			SenderID:       "a",
			RecipientID:    "b",
			Text:           fmt.Sprintf("m%d", i),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	out1, err := store.History(ctx, HistoryInput{ConversationID: conv, Limit: 2})
	if err != nil {
		t.Fatalf("history 1: %v", err)
	}
	if len(out1.Messages) != 2 || !out1.HasMore || out1.Messages[0].Seq != 1 || out1.Messages[1].Seq != 2 {
		t.Fatalf("history 1: %+v", out1)
	}

	after := out1.Messages[1].Seq
	out2, err := store.History(ctx, HistoryInput{ConversationID: conv, AfterSeq: &after, Limit: 50})
	if err != nil {
		t.Fatalf("history 2: %v", err)
	}
	if len(out2.Messages) != 1 || out2.HasMore || out2.Messages[0].Seq != 3 || out2.Messages[0].Text != "m2" {
		t.Fatalf("history 2: %+v", out2)
	}
}

func TestPostgresStore_MarkRead_ForwardOnly(t *testing.T) {
	t.Parallel()

	store, _ := mustNewPostgresStore(t)
	ctx := pgtest.Context(t)
	conv := ConversationID("a", "b")

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, AppendInput{
			ConversationID: conv, ClientMsgID: fmt.Sprintf("c%d", i), SenderID: "a", RecipientID: "b", Text: "x",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	res, err := store.MarkRead(ctx, MarkReadInput{ConversationID: conv, UserID: "b", UpToSeq: 10})
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !res.Advanced || res.Cursor.UpToSeq != 3 {
		t.Fatalf("mark read: %+v", res)
	}

	res, err = store.MarkRead(ctx, MarkReadInput{ConversationID: conv, UserID: "b", UpToSeq: 1})
	if err != nil {
		t.Fatalf("mark read backwards: %v", err)
	}
	if res.Advanced || res.Cursor.UpToSeq != 3 {
		t.Fatalf("mark read backwards: %+v", res)
	}

	if n, err := store.Unread(ctx, conv, "b"); err != nil || n != 0 {
		t.Fatalf("unread b=%d err=%v", n, err)
	}
	if _, err := store.Append(ctx, AppendInput{
		ConversationID: conv, ClientMsgID: "c9", SenderID: "a", RecipientID: "b", Text: "new",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if n, err := store.Unread(ctx, conv, "b"); err != nil || n != 1 {
		t.Fatalf("unread b=%d err=%v", n, err)
	}

	res, err = store.MarkRead(ctx, MarkReadInput{ConversationID: ConversationID("x", "y"), UserID: "x", UpToSeq: 1})
	if err != nil || res.Advanced {
		t.Fatalf("unknown conversation: %+v err=%v", res, err)
	}
}

func TestPostgresStore_ConcurrentAppend_StrictSeq_NoGaps(t *testing.T) {
	t.Parallel()

	store, _ := mustNewPostgresStore(t)
	ctx := pgtest.Context(t)
	conv := ConversationID("a", "b")

	const n = 32

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Append(ctx, AppendInput{
				ConversationID: conv,
				ClientMsgID:    fmt.Sprintf("cmsg-%d", i),
				SenderID:       "a",
				RecipientID:    "b",
				Text:           fmt.Sprintf("m%d", i),
			}); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent append error: %v", err)
	}

	out, err := store.History(ctx, HistoryInput{ConversationID: conv, Limit: 200})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(out.Messages) != n || out.HasMore {
		t.Fatalf("expected %d messages, got %d (hasMore=%v)", n, len(out.Messages), out.HasMore)
	}

	seqs := make([]int64, 0, n)
	for _, m := range out.Messages {
		seqs = append(seqs, m.Seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, s := range seqs {
		if s != int64(i+1) {
			t.Fatalf("seq gap at %d: got %d", i, s)
		}
	}
}
