package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"nexus/cmd/identity"
	"nexus/cmd/internal/auth/revocation"
	"nexus/cmd/internal/auth/session"
	"nexus/cmd/internal/chat"
	"nexus/cmd/internal/notification"
	"nexus/cmd/internal/realtime"
	"nexus/cmd/security/password"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type apiFixture struct {
	ts     *httptest.Server
	clock  *testClock
	notes  *notification.Service
	chat   *chat.Service
	alice  identity.User
	bob    identity.User
	client *http.Client
}

const testPassword = "correct horse battery"

func cheapPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newAPIFixture(t *testing.T, mutate func(*Config)) *apiFixture {
	t.Helper()
	ctx := context.Background()

	users := identity.NewMemoryStore(cheapPasswords())
	alice, err := users.CreateUser(ctx, identity.CreateUserInput{Username: "alice", Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	bob, err := users.CreateUser(ctx, identity.CreateUserInput{Username: "bob", Password: testPassword})
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	scfg := session.DefaultConfig()
	scfg.SigningKey = []byte(strings.Repeat("s", session.MinSigningKeyBytes))
	sessions, err := session.NewService(scfg, revocation.New(), users,
		session.WithClock(clock.Now),
		session.WithPasswordConfig(cheapPasswords()),
	)
	if err != nil {
		t.Fatalf("session.NewService: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := realtime.NewBus(realtime.NewRegistry(0))
	notes := notification.NewService(notification.NewMemoryStore(), bus, notification.WithClock(clock.Now))
	chats := chat.NewService(chat.NewMemoryStore(), bus,
		chat.WithClock(clock.Now),
		chat.WithUsers(users),
		chat.WithNotifier(notes),
	)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := NewHandler(cfg, sessions, users,
		WithLogger(log),
		WithClock(clock.Now),
		WithNotifications(notes),
		WithChat(chats),
	)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &apiFixture{ts: ts, clock: clock, notes: notes, chat: chats, alice: alice, bob: bob, client: ts.Client()}
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, out
}

func (f *apiFixture) login(t *testing.T, ident string) sessionResponse {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/auth/login", "", loginRequest{UsernameOrEmail: ident, Password: testPassword})
	if status != http.StatusOK {
		t.Fatalf("login %s: status=%d body=%s", ident, status, body)
	}
	return decodeAs[sessionResponse](t, body)
}

func decodeAs[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %T: %v (%s)", v, err, raw)
	}
	return v
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	return decodeAs[errorResponse](t, raw).Error.Code
}

func TestLogin_IssuesPairAndMe(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)

	s := f.login(t, "alice@example.com")
	if s.AccessToken == "" || s.RefreshToken == "" || s.UserID != f.alice.ID || s.Username != "alice" {
		t.Fatalf("unexpected login response: %+v", s)
	}
	if !s.RefreshExpiresAt.After(s.AccessExpiresAt) {
		t.Fatalf("refresh must outlive access: %v vs %v", s.RefreshExpiresAt, s.AccessExpiresAt)
	}

	status, body := f.do(t, http.MethodGet, "/me", s.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("me status=%d body=%s", status, body)
	}
	me := decodeAs[meResponse](t, body)
	if me.UserID != f.alice.ID || me.Username != "alice" || me.Email != "alice@example.com" {
		t.Fatalf("me=%+v", me)
	}
}

func TestLogin_FailuresDoNotEnumerate(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)

	stA, bodyA := f.do(t, http.MethodPost, "/auth/login", "", loginRequest{UsernameOrEmail: "alice", Password: "wrong password!"})
	stB, bodyB := f.do(t, http.MethodPost, "/auth/login", "", loginRequest{UsernameOrEmail: "nobody", Password: "wrong password!"})
	if stA != http.StatusUnauthorized || stB != http.StatusUnauthorized {
		t.Fatalf("statuses=%d,%d", stA, stB)
	}
	if !bytes.Equal(bodyA, bodyB) {
		t.Fatalf("bodies differ:\n%s\n%s", bodyA, bodyB)
	}
	if code := errorCode(t, bodyA); code != "invalid_credentials" {
		t.Fatalf("code=%q", code)
	}
}

func TestLogin_RejectsBadRequests(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)

	tests := []struct {
		name   string
		method string
		body   any
		status int
	}{
		{name: "get", method: http.MethodGet, status: http.StatusMethodNotAllowed},
		{name: "empty", method: http.MethodPost, status: http.StatusBadRequest},
		{name: "garbage", method: http.MethodPost, body: "{nope", status: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, body: `{"usernameOrEmail":"alice","password":"x","admin":true}`, status: http.StatusBadRequest},
		{name: "trailing data", method: http.MethodPost, body: `{"usernameOrEmail":"alice","password":"x"}{}`, status: http.StatusBadRequest},
		{name: "missing password", method: http.MethodPost, body: loginRequest{UsernameOrEmail: "alice"}, status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		status, body := f.do(t, tc.method, "/auth/login", "", tc.body)
		if status != tc.status {
			t.Fatalf("%s: status=%d want=%d body=%s", tc.name, status, tc.status, body)
		}
	}
}

func TestLogin_ThrottledPerIP(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, func(c *Config) {
		c.LoginRate = 1
		c.LoginBurst = 2
		c.LoginWindow = time.Minute
	})

	bad := loginRequest{UsernameOrEmail: "alice", Password: "wrong password!"}
	for i := 0; i < 2; i++ {
		if status, _ := f.do(t, http.MethodPost, "/auth/login", "", bad); status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status=%d", i, status)
		}
	}

	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/auth/login", strings.NewReader(`{"usernameOrEmail":"alice","password":"correct horse battery"}`))
	resp, err := f.client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	f.clock.Advance(time.Minute)
	f.login(t, "alice")
}

func TestRefresh_RotatesOnce(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)

	s := f.login(t, "alice")
	f.clock.Advance(time.Second)

	status, body := f.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: s.RefreshToken})
	if status != http.StatusOK {
		t.Fatalf("refresh status=%d body=%s", status, body)
	}
	next := decodeAs[sessionResponse](t, body)
	if next.RefreshToken == s.RefreshToken || next.UserID != f.alice.ID {
		t.Fatalf("unexpected refresh response: %+v", next)
	}

	status, body = f.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: s.RefreshToken})
	if status != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
		t.Fatalf("reuse status=%d body=%s", status, body)
	}

	status, body = f.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: next.AccessToken})
	if status != http.StatusUnauthorized {
		t.Fatalf("access as refresh status=%d body=%s", status, body)
	}
}

func TestLogout_RevokesAccessAndRefresh(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)

	s := f.login(t, "alice")
	status, body := f.do(t, http.MethodPost, "/auth/logout", s.AccessToken, logoutRequest{RefreshToken: s.RefreshToken})
	if status != http.StatusOK || !decodeAs[okResponse](t, body).OK {
		t.Fatalf("logout status=%d body=%s", status, body)
	}

	if status, _ := f.do(t, http.MethodGet, "/me", s.AccessToken, nil); status != http.StatusUnauthorized {
		t.Fatalf("me after logout status=%d", status)
	}
	if status, _ := f.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: s.RefreshToken}); status != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status=%d", status)
	}
	if status, _ := f.do(t, http.MethodPost, "/auth/logout", s.AccessToken, nil); status != http.StatusUnauthorized {
		t.Fatalf("second logout status=%d", status)
	}
}

func TestLogout_ForeignRefreshIsIgnored(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)

	a := f.login(t, "alice")
	b := f.login(t, "bob")

	status, _ := f.do(t, http.MethodPost, "/auth/logout", a.AccessToken, logoutRequest{RefreshToken: b.RefreshToken})
	if status != http.StatusOK {
		t.Fatalf("logout status=%d", status)
	}
	if status, body := f.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: b.RefreshToken}); status != http.StatusOK {
		t.Fatalf("bob's refresh must survive alice's logout: status=%d body=%s", status, body)
	}
}

func TestLogoutAll_RevokesEveryDevice(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)

	phone := f.login(t, "alice")
	laptop := f.login(t, "alice")
	f.clock.Advance(time.Second)

	if status, body := f.do(t, http.MethodPost, "/auth/logout_all", laptop.AccessToken, nil); status != http.StatusOK {
		t.Fatalf("logout_all status=%d body=%s", status, body)
	}
	for _, tok := range []string{phone.AccessToken, laptop.AccessToken} {
		if status, _ := f.do(t, http.MethodGet, "/me", tok, nil); status != http.StatusUnauthorized {
			t.Fatalf("me after logout_all status=%d", status)
		}
	}
	if status, _ := f.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: phone.RefreshToken}); status != http.StatusUnauthorized {
		t.Fatalf("refresh after logout_all status=%d", status)
	}

	f.clock.Advance(time.Second)
	fresh := f.login(t, "alice")
	if status, _ := f.do(t, http.MethodGet, "/me", fresh.AccessToken, nil); status != http.StatusOK {
		t.Fatalf("new login after logout_all status=%d", status)
	}
}

func TestProtectedRoutes_RequireAccessToken(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)
	s := f.login(t, "alice")

	routes := []struct{ method, path string }{
		{http.MethodGet, "/me"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodPost, "/auth/logout_all"},
		{http.MethodGet, "/notifications"},
		{http.MethodPost, "/notifications/read"},
		{http.MethodGet, "/conversations/" + chat.ConversationID(f.alice.ID, f.bob.ID) + "/messages"},
	}
	for _, rt := range routes {
		for _, tok := range []string{"", "not-a-token", s.RefreshToken} {
			status, body := f.do(t, rt.method, rt.path, tok, nil)
			if status != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
				t.Fatalf("%s %s tok=%.8q: status=%d body=%s", rt.method, rt.path, tok, status, body)
			}
		}
	}
}

func TestNotifications_ListAndMarkRead(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	var created []notification.Notification
	for _, body := range []string{"one", "two", "three"} {
		n, err := f.notes.Create(ctx, notification.CreateInput{UserID: f.alice.ID, Kind: "system", Body: body})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		created = append(created, n)
		f.clock.Advance(time.Millisecond)
	}
	foreign, err := f.notes.Create(ctx, notification.CreateInput{UserID: f.bob.ID, Kind: "system", Body: "bob"})
	if err != nil {
		t.Fatalf("Create bob: %v", err)
	}

	s := f.login(t, "alice")
	status, body := f.do(t, http.MethodGet, "/notifications?limit=2", s.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("list status=%d body=%s", status, body)
	}
	list := decodeAs[notificationListResponse](t, body)
	if len(list.Items) != 2 || list.Items[0].Body != "three" || list.Unread != 3 {
		t.Fatalf("list=%+v", list)
	}

	status, body = f.do(t, http.MethodPost, "/notifications/read", s.AccessToken, markReadRequest{IDs: []string{created[0].ID, foreign.ID}})
	if status != http.StatusForbidden || errorCode(t, body) != "forbidden" {
		t.Fatalf("foreign mark status=%d body=%s", status, body)
	}

	status, body = f.do(t, http.MethodPost, "/notifications/read", s.AccessToken, markReadRequest{IDs: []string{created[0].ID, created[1].ID}})
	if status != http.StatusOK {
		t.Fatalf("mark status=%d body=%s", status, body)
	}
	if res := decodeAs[markReadResponse](t, body); res.Updated != 2 || res.Unread != 1 {
		t.Fatalf("mark=%+v", res)
	}

	if status, _ := f.do(t, http.MethodGet, "/notifications?limit=-1", s.AccessToken, nil); status != http.StatusBadRequest {
		t.Fatalf("negative limit status=%d", status)
	}
}

func TestHistory_PagesForParticipantsOnly(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	actor := chat.Actor{UserID: f.alice.ID, Username: "alice"}
	for i, text := range []string{"hi", "there", "bob"} {
		if _, _, err := f.chat.Send(ctx, actor, f.bob.ID, "c"+strconv.Itoa(i), text); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	convID := chat.ConversationID(f.alice.ID, f.bob.ID)

	b := f.login(t, "bob")
	status, body := f.do(t, http.MethodGet, "/conversations/"+convID+"/messages?limit=2", b.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("history status=%d body=%s", status, body)
	}
	page := decodeAs[historyResponse](t, body)
	if len(page.Items) != 2 || !page.HasMore || page.Unread != 3 {
		t.Fatalf("page=%+v", page)
	}

	last := page.Items[len(page.Items)-1].Seq
	status, body = f.do(t, http.MethodGet, "/conversations/"+convID+"/messages?afterSeq="+strconv.FormatInt(last, 10), b.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("history page 2 status=%d body=%s", status, body)
	}
	page = decodeAs[historyResponse](t, body)
	if len(page.Items) != 1 || page.Items[0].Text != "bob" || page.HasMore {
		t.Fatalf("page 2=%+v", page)
	}

	// bob was offline, so each message also became a notification.
	status, body = f.do(t, http.MethodGet, "/notifications", b.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("notifications status=%d", status)
	}
	if list := decodeAs[notificationListResponse](t, body); list.Unread != 3 || list.Items[0].Kind != "message" {
		t.Fatalf("offline notifications=%+v", list)
	}

	outsider := chat.ConversationID(f.bob.ID, "someone-else")
	a := f.login(t, "alice")
	if status, body := f.do(t, http.MethodGet, "/conversations/"+outsider+"/messages", a.AccessToken, nil); status != http.StatusForbidden {
		t.Fatalf("outsider status=%d body=%s", status, body)
	}
	if status, _ := f.do(t, http.MethodGet, "/conversations/"+convID+"/messages?afterSeq=x", a.AccessToken, nil); status != http.StatusBadRequest {
		t.Fatalf("bad afterSeq status=%d", status)
	}
}
