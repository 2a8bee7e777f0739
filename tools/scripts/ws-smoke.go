// Command ws-smoke drives a running nexus server end to end and exits
// non-zero on the first failed step.
//
// Two users log in over REST and connect to /ws with their access tokens.
// A sends B a direct message; the run then checks the ack, B's delivery,
// REST history with afterSeq paging, and that a resend with the same
// clientMsgId is acknowledged as a duplicate without a second delivery.
//
//	go run ./tools/scripts/ws-smoke.go -base http://127.0.0.1:8080 -v
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	v1 "nexus/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	readLimit  = 1 << 20
	inboxDepth = 256
	quietSpell = 1200 * time.Millisecond
)

type options struct {
	base    *url.URL
	origin  string
	credsA  string
	credsB  string
	text    string
	timeout time.Duration
	verbose bool
}

type account struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
}

type historyPage struct {
	Items   []v1.MessageNewPayload `json:"items"`
	HasMore bool                   `json:"hasMore"`
}

// peer is one logged-in user with a live socket. A reader goroutine feeds
// frames into inbox until the socket fails, then reports on dead.
type peer struct {
	label   string
	acct    account
	session string
	conn    *websocket.Conn
	inbox   chan v1.Envelope
	dead    chan error
}

type run struct {
	opts options
	http *http.Client
	a, b *peer

	clientMsgID string
	first       v1.MessageAckPayload
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ws-smoke: %v\n", err)
		os.Exit(2)
	}

	r := &run{
		opts:        opts,
		http:        &http.Client{Timeout: opts.timeout},
		clientMsgID: "smoke-" + strconv.FormatInt(time.Now().UnixNano(), 36),
	}
	defer r.close()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"connect A", func(ctx context.Context) (err error) { r.a, err = r.connect(ctx, "A", opts.credsA); return }},
		{"connect B", func(ctx context.Context) (err error) { r.b, err = r.connect(ctx, "B", opts.credsB); return }},
		{"send", r.send},
		{"deliver", r.deliver},
		{"history", r.history},
		{"dedupe", r.dedupe},
	}

	for _, s := range steps {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		err := s.fn(ctx)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", s.name, err)
			r.close()
			os.Exit(1)
		}
		if opts.verbose {
			fmt.Printf("ok   %s\n", s.name)
		}
	}

	fmt.Printf("OK conversation=%s seq=%d message=%s sessions=%s,%s\n",
		r.first.ConversationID, r.first.Seq, r.first.MessageID, r.a.session, r.b.session)
}

func parseFlags() (options, error) {
	var (
		base    = flag.String("base", "http://127.0.0.1:8080", "server base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the WebSocket handshake; empty sends none")
		a       = flag.String("a", "alice:correct-horse-1", "sender as name:password")
		b       = flag.String("b", "bob:correct-horse-2", "recipient as name:password")
		text    = flag.String("text", "hello nexus 👋", "message text")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "print each step")
	)
	flag.Parse()

	u, err := httpURL(*base)
	if err != nil {
		return options{}, fmt.Errorf("-base: %w", err)
	}
	if o := strings.TrimSpace(*origin); o != "" {
		if _, err := httpURL(o); err != nil {
			return options{}, fmt.Errorf("-origin: %w", err)
		}
	}
	return options{base: u, origin: strings.TrimSpace(*origin), credsA: *a, credsB: *b, text: *text, timeout: *timeout, verbose: *verbose}, nil
}

func httpURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return nil, err
	case u.Scheme != "http" && u.Scheme != "https":
		return nil, fmt.Errorf("scheme %q is not http or https", u.Scheme)
	case u.Host == "":
		return nil, errors.New("missing host")
	}
	return u, nil
}

func (r *run) close() {
	for _, p := range []*peer{r.a, r.b} {
		if p != nil {
			_ = p.conn.Close(websocket.StatusNormalClosure, "smoke done")
		}
	}
}

func (r *run) connect(ctx context.Context, label, creds string) (*peer, error) {
	acct, err := r.login(ctx, creds)
	if err != nil {
		return nil, err
	}

	ws := *r.opts.base
	ws.Scheme = map[string]string{"http": "ws", "https": "wss"}[ws.Scheme]
	ws.Path = strings.TrimRight(ws.Path, "/") + "/ws"

	hdr := http.Header{"Authorization": {"Bearer " + acct.AccessToken}}
	if r.opts.origin != "" {
		hdr.Set("Origin", r.opts.origin)
	}
	conn, resp, err := websocket.Dial(ctx, ws.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   hdr,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ws.String(), err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol")
		return nil, fmt.Errorf("negotiated subprotocol %q, want %q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(readLimit)

	p := &peer{label: label, acct: acct, conn: conn, inbox: make(chan v1.Envelope, inboxDepth), dead: make(chan error, 1)}
	go p.read()

	if err := p.write(ctx, v1.TypeHello, v1.HelloPayload{}); err != nil {
		return nil, err
	}
	ack, err := await[v1.HelloAckPayload](ctx, p, v1.TypeHelloAck)
	if err != nil {
		return nil, err
	}
	if ack.SessionID == "" || ack.UserID != acct.UserID {
		return nil, fmt.Errorf("hello.ack %+v does not match login %s", ack, acct.UserID)
	}
	p.session = ack.SessionID
	return p, nil
}

func (r *run) login(ctx context.Context, creds string) (account, error) {
	name, pass, ok := strings.Cut(creds, ":")
	if !ok {
		return account{}, fmt.Errorf("credentials %q are not name:password", creds)
	}
	body, _ := json.Marshal(map[string]string{"usernameOrEmail": name, "password": pass})

	var acct account
	if err := r.call(ctx, http.MethodPost, r.opts.base.JoinPath("/auth/login"), "", body, &acct); err != nil {
		return account{}, fmt.Errorf("login %s: %w", name, err)
	}
	if acct.AccessToken == "" || acct.UserID == "" {
		return account{}, fmt.Errorf("login %s: response lacks accessToken or userId", name)
	}
	return acct, nil
}

func (r *run) send(ctx context.Context) error {
	ack, err := r.sendOnce(ctx)
	if err != nil {
		return err
	}
	if ack.Duplicate || ack.Seq <= 0 || ack.MessageID == "" || ack.ConversationID == "" {
		return fmt.Errorf("first ack %+v", ack)
	}
	r.first = ack
	return nil
}

func (r *run) sendOnce(ctx context.Context) (v1.MessageAckPayload, error) {
	err := r.a.write(ctx, v1.TypeChatSendMessage, v1.SendMessagePayload{
		To:          r.b.acct.UserID,
		ClientMsgID: r.clientMsgID,
		Text:        r.opts.text,
	})
	if err != nil {
		return v1.MessageAckPayload{}, err
	}
	ack, err := await[v1.MessageAckPayload](ctx, r.a, v1.TypeMessageAck)
	if err == nil && ack.ClientMsgID != r.clientMsgID {
		err = fmt.Errorf("ack for clientMsgId %q, want %q", ack.ClientMsgID, r.clientMsgID)
	}
	return ack, err
}

func (r *run) deliver(ctx context.Context) error {
	got, err := await[v1.MessageNewPayload](ctx, r.b, v1.TypeMessageNew)
	if err != nil {
		return err
	}
	return r.matchesFirst(got)
}

func (r *run) matchesFirst(m v1.MessageNewPayload) error {
	want := r.first
	switch {
	case m.ConversationID != want.ConversationID, m.MessageID != want.MessageID, m.Seq != want.Seq:
		return fmt.Errorf("message %s/%s#%d, want %s/%s#%d", m.ConversationID, m.MessageID, m.Seq, want.ConversationID, want.MessageID, want.Seq)
	case m.From != r.a.acct.UserID:
		return fmt.Errorf("from %q, want %q", m.From, r.a.acct.UserID)
	case m.Text != r.opts.text:
		return fmt.Errorf("text %q, want %q", m.Text, r.opts.text)
	case m.SentAt.IsZero():
		return errors.New("sentAt is zero")
	}
	return nil
}

func (r *run) history(ctx context.Context) error {
	page, err := r.page(ctx, -1)
	if err != nil {
		return err
	}
	found := false
	for _, m := range page.Items {
		if m.MessageID == r.first.MessageID {
			if err := r.matchesFirst(m); err != nil {
				return fmt.Errorf("history: %w", err)
			}
			found = true
		}
	}
	if !found {
		return fmt.Errorf("message %s missing from %d history items", r.first.MessageID, len(page.Items))
	}

	after, err := r.page(ctx, r.first.Seq)
	if err != nil {
		return err
	}
	if len(after.Items) != 0 || after.HasMore {
		return fmt.Errorf("afterSeq=%d returned %d items (hasMore=%v)", r.first.Seq, len(after.Items), after.HasMore)
	}
	return nil
}

// page lists B's view of the conversation; afterSeq < 0 omits the cursor.
func (r *run) page(ctx context.Context, afterSeq int64) (historyPage, error) {
	u := r.opts.base.JoinPath("/conversations", r.first.ConversationID, "messages")
	q := url.Values{"limit": {"50"}}
	if afterSeq >= 0 {
		q.Set("afterSeq", strconv.FormatInt(afterSeq, 10))
	}
	u.RawQuery = q.Encode()

	var out historyPage
	err := r.call(ctx, http.MethodGet, u, r.b.acct.AccessToken, nil, &out)
	return out, err
}

func (r *run) dedupe(ctx context.Context) error {
	dup, err := r.sendOnce(ctx)
	if err != nil {
		return err
	}
	if !dup.Duplicate || dup.Seq != r.first.Seq || dup.MessageID != r.first.MessageID {
		return fmt.Errorf("resend ack %+v, want duplicate of %s#%d", dup, r.first.MessageID, r.first.Seq)
	}
	return r.b.quiet(ctx, v1.TypeMessageNew, quietSpell)
}

func (r *run) call(ctx context.Context, method string, u *url.URL, bearer string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: %d %s", method, u.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *peer) read() {
	defer close(p.inbox)
	for {
		typ, data, err := p.conn.Read(context.Background())
		if err == nil && typ != websocket.MessageText {
			err = fmt.Errorf("unexpected %v frame", typ)
		}
		var env v1.Envelope
		if err == nil {
			err = json.Unmarshal(data, &env)
		}
		if err == nil && (env.V != v1.Version || env.Type == "") {
			err = fmt.Errorf("bad envelope v=%q type=%q", env.V, env.Type)
		}
		if err != nil {
			p.dead <- err
			return
		}
		select {
		case p.inbox <- env:
		default:
			p.dead <- errors.New("inbox full")
			return
		}
	}
}

func (p *peer) write(ctx context.Context, typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      p.label + "-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		TS:      time.Now().UTC(),
		Payload: raw,
	})
	if err != nil {
		return err
	}
	return p.conn.Write(ctx, websocket.MessageText, b)
}

// next returns the next frame. Server error frames become errors.
func (p *peer) next(ctx context.Context) (v1.Envelope, error) {
	for {
		select {
		case <-ctx.Done():
			return v1.Envelope{}, ctx.Err()
		case err := <-p.dead:
			return v1.Envelope{}, fmt.Errorf("%s socket: %w", p.label, err)
		case env, ok := <-p.inbox:
			if !ok {
				return v1.Envelope{}, fmt.Errorf("%s socket closed", p.label)
			}
			if env.Type == v1.TypeError {
				var e v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &e)
				return v1.Envelope{}, fmt.Errorf("%s got error frame %s: %s", p.label, e.Code, e.Message)
			}
			return env, nil
		}
	}
}

// quiet fails if a frame of type typ arrives within d.
func (p *peer) quiet(ctx context.Context, typ string, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	for {
		env, err := p.next(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			return err
		}
		if env.Type == typ {
			return fmt.Errorf("%s received unexpected %s", p.label, typ)
		}
	}
}

func await[T any](ctx context.Context, p *peer, typ string) (T, error) {
	var out T
	for {
		env, err := p.next(ctx)
		if err != nil {
			return out, fmt.Errorf("waiting for %s: %w", typ, err)
		}
		if env.Type != typ {
			continue
		}
		if err := json.Unmarshal(env.Payload, &out); err != nil {
			return out, fmt.Errorf("decode %s: %w", typ, err)
		}
		return out, nil
	}
}
