package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"nexus/cmd/internal/realtime"
	v1 "nexus/shared/contracts/realtime/v1"
)

type chatFixture struct {
	svc *Service
	reg *realtime.Registry
	bus *realtime.Bus
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	reg := realtime.NewRegistry(0)
	bus := realtime.NewBus(reg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryStore(), bus, WithClock(func() time.Time { return now }))
	return &chatFixture{svc: svc, reg: reg, bus: bus}
}

func (f *chatFixture) connect(id, userID string) *realtime.Session {
	s := realtime.NewSession(id, userID, userID+"-name", "web", 64, time.Now().UTC())
	f.reg.Register(s)
	return s
}

func drain(s *realtime.Session) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-s.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func onlyType(t *testing.T, envs []v1.Envelope, typ string) v1.Envelope {
	t.Helper()
	var found []v1.Envelope
	for _, e := range envs {
		if e.Type == typ {
			found = append(found, e)
		}
	}
	if len(found) != 1 {
		t.Fatalf("want exactly one %s, got %d (%v)", typ, len(found), envs)
	}
	return found[0]
}

func TestConversationID(t *testing.T) {
	t.Parallel()

	if ConversationID("b", "a") != ConversationID("a", "b") {
		t.Fatalf("conversation id must be symmetric")
	}
	a, b, ok := Participants(ConversationID("u2", "u1"))
	if !ok || a != "u1" || b != "u2" {
		t.Fatalf("Participants=%q,%q,%v", a, b, ok)
	}
	for _, bad := range []string{"", "dm:", "dm:a", "dm:a:a", "dm:b:a", "room:a:b", "dm:a:b:c"} {
		if _, _, ok := Participants(bad); ok {
			t.Fatalf("%q should not parse", bad)
		}
	}
	if peer, ok := Peer("dm:a:b", "b"); !ok || peer != "a" {
		t.Fatalf("Peer=%q,%v", peer, ok)
	}
	if _, ok := Peer("dm:a:b", "c"); ok {
		t.Fatalf("non-participant must not have a peer")
	}
}

func TestSend_DeliversToRecipientAndOtherDevices(t *testing.T) {
	t.Parallel()

	f := newChatFixture(t)
	phone := f.connect("s1", "alice")
	laptop := f.connect("s2", "alice")
	bob := f.connect("s3", "bob")
	carol := f.connect("s4", "carol")

	msg, dup, err := f.svc.Send(context.Background(), Actor{UserID: "alice", Username: "Alice", SessionID: phone.ID}, "bob", "c1", "  hi bob ")
	if err != nil || dup {
		t.Fatalf("Send err=%v dup=%v", err, dup)
	}
	if msg.Seq != 1 || msg.Text != "hi bob" || msg.ConversationID != "dm:alice:bob" {
		t.Fatalf("unexpected message %+v", msg)
	}

	if got := drain(phone); len(got) != 0 {
		t.Fatalf("sending session must not get its own message.new: %v", got)
	}
	for _, s := range []*realtime.Session{laptop, bob} {
		env := onlyType(t, drain(s), v1.TypeMessageNew)
		if env.Dest != v1.DestMessages {
			t.Fatalf("dest=%q", env.Dest)
		}
		var p v1.MessageNewPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.From != "alice" || p.FromUsername != "Alice" || p.To != "bob" || p.MessageID != msg.ID {
			t.Fatalf("payload=%+v", p)
		}
	}
	if got := drain(carol); len(got) != 0 {
		t.Fatalf("carol must not receive anything: %v", got)
	}
}

func TestSend_DuplicateClientMsgID(t *testing.T) {
	t.Parallel()

	f := newChatFixture(t)
	bob := f.connect("s1", "bob")
	alice := Actor{UserID: "alice"}

	first, _, err := f.svc.Send(context.Background(), alice, "bob", "c1", "hello")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, dup, err := f.svc.Send(context.Background(), alice, "bob", "c1", "hello again")
	if err != nil || !dup {
		t.Fatalf("second err=%v dup=%v", err, dup)
	}
	if second.ID != first.ID || second.Seq != first.Seq || second.Text != "hello" {
		t.Fatalf("duplicate should return the original: %+v", second)
	}
	if n := len(drain(bob)); n != 1 {
		t.Fatalf("bob got %d events, want 1", n)
	}

	third, _, err := f.svc.Send(context.Background(), alice, "bob", "c2", "next")
	if err != nil || third.Seq != 2 {
		t.Fatalf("third seq=%d err=%v", third.Seq, err)
	}
}

func TestSend_Validation(t *testing.T) {
	t.Parallel()

	f := newChatFixture(t)
	alice := Actor{UserID: "alice"}

	cases := []struct {
		name string
		to   string
		cid  string
		text string
		want error
	}{
		{name: "self", to: "alice", cid: "c", text: "x", want: ErrUnauthorized},
		{name: "no_recipient", to: " ", cid: "c", text: "x", want: ErrInvalidInput},
		{name: "no_client_id", to: "bob", cid: "", text: "x", want: ErrInvalidInput},
		{name: "long_client_id", to: "bob", cid: strings.Repeat("c", 65), text: "x", want: ErrInvalidInput},
		{name: "empty_text", to: "bob", cid: "c", text: "   ", want: ErrInvalidInput},
		{name: "long_text", to: "bob", cid: "c", text: strings.Repeat("é", realtime.MaxMessageChars+1), want: ErrInvalidInput},
	}
	for _, tc := range cases {
		_, _, err := f.svc.Send(context.Background(), alice, tc.to, tc.cid, tc.text)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
		if !IsClientError(err) {
			t.Fatalf("%s: should be a client error", tc.name)
		}
	}

	if _, _, err := f.svc.Send(context.Background(), Actor{}, "bob", "c", "x"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("anonymous send err=%v", err)
	}
}

func TestMarkRead_PublishesToBothParticipants(t *testing.T) {
	t.Parallel()

	f := newChatFixture(t)
	ctx := context.Background()
	alice := f.connect("s1", "alice")
	bob := f.connect("s2", "bob")

	for i, text := range []string{"one", "two", "three"} {
		if _, _, err := f.svc.Send(ctx, Actor{UserID: "alice"}, "bob", string(rune('a'+i)), text); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	drain(alice)
	drain(bob)

	conv := ConversationID("alice", "bob")
	cur, err := f.svc.MarkRead(ctx, Actor{UserID: "bob"}, conv, 99)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if cur.UpToSeq != 3 {
		t.Fatalf("cursor should clamp to latest seq, got %d", cur.UpToSeq)
	}

	for _, s := range []*realtime.Session{alice, bob} {
		env := onlyType(t, drain(s), v1.TypeMessageRead)
		if env.Dest != v1.DestReceipts {
			t.Fatalf("dest=%q", env.Dest)
		}
	}

	// Moving backwards is a no-op and publishes nothing.
	if cur, err := f.svc.MarkRead(ctx, Actor{UserID: "bob"}, conv, 2); err != nil || cur.UpToSeq != 3 {
		t.Fatalf("backwards MarkRead cur=%+v err=%v", cur, err)
	}
	if got := drain(alice); len(got) != 0 {
		t.Fatalf("no event expected, got %v", got)
	}

	if n, err := f.svc.Unread(ctx, Actor{UserID: "bob"}, conv); err != nil || n != 0 {
		t.Fatalf("Unread=%d err=%v", n, err)
	}
}

func TestMarkRead_NonParticipant(t *testing.T) {
	t.Parallel()

	f := newChatFixture(t)
	_, err := f.svc.MarkRead(context.Background(), Actor{UserID: "mallory"}, ConversationID("alice", "bob"), 1)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err=%v want ErrUnauthorized", err)
	}
	if _, err := f.svc.History(context.Background(), Actor{UserID: "mallory"}, ConversationID("alice", "bob"), nil, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("history err=%v", err)
	}
}

func TestTyping(t *testing.T) {
	t.Parallel()

	f := newChatFixture(t)
	bob := f.connect("s1", "bob")

	rep, err := f.svc.Typing(context.Background(), Actor{UserID: "alice"}, "bob", true)
	if err != nil || rep.Delivered != 1 {
		t.Fatalf("Typing rep=%+v err=%v", rep, err)
	}
	env := onlyType(t, drain(bob), v1.TypeTyping)
	var p v1.TypingEventPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.From != "alice" || !p.Typing || p.ConversationID != "dm:alice:bob" {
		t.Fatalf("payload=%+v", p)
	}

	if _, err := f.svc.Typing(context.Background(), Actor{UserID: "alice"}, "alice", true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("self typing err=%v", err)
	}
}

func TestHistoryPaging(t *testing.T) {
	t.Parallel()

	f := newChatFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, _, err := f.svc.Send(ctx, Actor{UserID: "alice"}, "bob", string(rune('a'+i)), "m"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	conv := ConversationID("alice", "bob")

	page, err := f.svc.History(ctx, Actor{UserID: "bob"}, conv, nil, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Messages) != 2 || !page.HasMore || page.Messages[0].Seq != 1 {
		t.Fatalf("page1=%+v", page)
	}

	after := page.Messages[1].Seq
	page, err = f.svc.History(ctx, Actor{UserID: "alice"}, conv, &after, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Messages) != 3 || page.HasMore || page.Messages[0].Seq != 3 {
		t.Fatalf("page2=%+v", page)
	}

	if n, err := f.svc.Unread(ctx, Actor{UserID: "bob"}, conv); err != nil || n != 5 {
		t.Fatalf("Unread=%d err=%v", n, err)
	}
	if n, err := f.svc.Unread(ctx, Actor{UserID: "alice"}, conv); err != nil || n != 0 {
		t.Fatalf("sender Unread=%d err=%v", n, err)
	}
}

type recordingNotifier struct {
	users []string
	bodys []string
}

func (n *recordingNotifier) Notify(_ context.Context, userID, kind, body string, _ any) error {
	if kind != "message" {
		return errors.New("unexpected kind " + kind)
	}
	n.users = append(n.users, userID)
	n.bodys = append(n.bodys, body)
	return nil
}

func TestSend_NotifiesOfflineRecipient(t *testing.T) {
	t.Parallel()

	reg := realtime.NewRegistry(0)
	notifier := &recordingNotifier{}
	svc := NewService(NewMemoryStore(), realtime.NewBus(reg), WithNotifier(notifier))
	ctx := context.Background()

	if _, _, err := svc.Send(ctx, Actor{UserID: "alice", Username: "Alice"}, "bob", "c1", strings.Repeat("x", 100)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(notifier.users) != 1 || notifier.users[0] != "bob" {
		t.Fatalf("notified=%v", notifier.users)
	}
	if want := "Alice: " + strings.Repeat("x", 80) + "…"; notifier.bodys[0] != want {
		t.Fatalf("body=%q", notifier.bodys[0])
	}

	reg.Register(realtime.NewSession("s1", "bob", "bob", "web", 64, time.Now()))
	if _, _, err := svc.Send(ctx, Actor{UserID: "alice"}, "bob", "c2", "online now"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(notifier.users) != 1 {
		t.Fatalf("online recipient must not be notified: %v", notifier.users)
	}
}
