package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"nexus/cmd/identity/ids"
	"nexus/cmd/internal/auth/session"
	"nexus/cmd/internal/telemetry"
	v1 "nexus/shared/contracts/realtime/v1"
)

// TokenValidator validates access tokens presented at handshake.
type TokenValidator interface {
	ValidateAccess(ctx context.Context, token string) (session.Claims, error)
}

// Gateway is the WebSocket entrypoint for nexus realtime.
//
// It enforces origin policy, authenticates the handshake, registers the
// session for fan-out, and routes validated envelopes to handlers.
type Gateway struct {
	cfg    Config
	auth   TokenValidator
	reg    *Registry
	bus    *Bus
	origin originPolicy

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithGatewayMetrics sets the connection and error counters.
func WithGatewayMetrics(m *telemetry.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway constructs a gateway. hello and presence.ping are handled
// internally; other types are added with Handle.
func NewGateway(cfg Config, auth TokenValidator, reg *Registry, bus *Bus, opts ...GatewayOption) *Gateway {
	cfg = cfg.normalized()
	if reg == nil {
		reg = NewRegistry(cfg.Shards)
	}
	if bus == nil {
		bus = NewBus(reg)
	}
	g := &Gateway{
		cfg:      cfg,
		auth:     auth,
		reg:      reg,
		bus:      bus,
		origin:   newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
		handlers: make(map[string]HandlerFunc),
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.handlers[v1.TypeHello] = g.onHello
	g.handlers[v1.TypePresencePing] = g.onPresencePing
	return g
}

// Registry returns the session registry.
func (g *Gateway) Registry() *Registry { return g.reg }

// Bus returns the event bus.
func (g *Gateway) Bus() *Bus { return g.bus }

// Shutdown closes every live session with StatusGoingAway and returns how
// many were closed. It does not stop new upgrades; close the listener first.
func (g *Gateway) Shutdown() int {
	all := g.reg.All()
	for _, s := range all {
		s.Close()
	}
	if len(all) > 0 {
		g.log.Info("ws.shutdown", "sessions", len(all))
	}
	return len(all)
}

// ServeHTTP upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.origin.enforce(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.WSConnection("forbidden")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	tok := handshakeToken(r)
	claims, err := g.validate(r.Context(), tok)
	if err != nil {
		g.log.Info("ws.reject.auth", "reason", session.Reason(err), "remote", r.RemoteAddr)
		g.metrics.WSConnection("unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.origin.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		g.metrics.WSConnection("accept_failed")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		g.metrics.WSConnection("bad_subprotocol")
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := g.now()
	sessID, err := ids.NewULID(now)
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	sess := NewSession(sessID, claims.UserID, claims.Username, r.URL.Query().Get("device"), g.cfg.SendQueue, now)

	g.metrics.WSConnection("accepted")
	g.connect(sess)
	defer g.disconnect(sess)

	g.log.Info("ws.connect", "session_id", sess.ID, "user_id", sess.UserID, "device", sess.Device)
	g.run(r.Context(), conn, sess, tok)
}

func (g *Gateway) validate(ctx context.Context, tok string) (session.Claims, error) {
	if g.auth == nil {
		return session.Claims{}, errors.New("realtime: no token validator")
	}
	if tok == "" {
		return session.Claims{}, session.ErrInvalidToken
	}
	return g.auth.ValidateAccess(ctx, tok)
}

func (g *Gateway) connect(sess *Session) {
	if g.reg.Register(sess) {
		g.bus.Broadcast(v1.TypePresenceOnline, v1.PresenceEventPayload{
			UserID:   sess.UserID,
			Username: sess.Username,
			At:       sess.ConnectedAt,
		})
	}
	g.metrics.Presence(g.reg.Users(), g.reg.Sessions())
}

// disconnect runs on every exit path of a connection.
func (g *Gateway) disconnect(sess *Session) {
	last, removed := g.reg.Unregister(sess)
	sess.Close()
	if removed && last {
		g.bus.Broadcast(v1.TypePresenceOffline, v1.PresenceEventPayload{
			UserID:   sess.UserID,
			Username: sess.Username,
			At:       g.now(),
		})
	}
	g.metrics.Presence(g.reg.Users(), g.reg.Sessions())
	g.log.Info("ws.disconnect", "session_id", sess.ID, "user_id", sess.UserID, "dropped", sess.Dropped())
}

func (g *Gateway) run(parent context.Context, conn *websocket.Conn, sess *Session, tok string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close sess.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			sess.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	limiter := rate.NewLimiter(rate.Every(g.cfg.RateWindow/time.Duration(g.cfg.RateEvents)), g.cfg.RateEvents)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				return
			case env := <-sess.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sess.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, sess, tok, shutdown)
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendError(sess, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sess.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !limiter.Allow() {
			g.writeError(ctx, conn, sess, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.sendError(sess, "bad_envelope", err.Error())
			continue readLoop
		}

		g.dispatch(ctx, sess, env)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, sess *Session, tok string, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	// A nil channel never fires, which keeps revalidation off by default.
	var revalidate <-chan time.Time
	if g.cfg.RevalidateInterval > 0 {
		rt := time.NewTicker(g.cfg.RevalidateInterval)
		defer rt.Stop()
		revalidate = rt.C
	}

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			// Closed from outside the loop, e.g. by Shutdown.
			shutdown(websocket.StatusGoingAway, "server shutdown")
			return
		case <-revalidate:
			if _, err := g.validate(ctx, tok); err != nil {
				if ctx.Err() != nil {
					return
				}
				g.log.Info("ws.token.expired", "session_id", sess.ID, "reason", session.Reason(err))
				g.writeError(ctx, conn, sess, "token_expired", "token expired or revoked")
				shutdown(websocket.StatusPolicyViolation, "token expired")
				return
			}
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "session_id", sess.ID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// ---- send helpers ----

func (g *Gateway) sendError(sess *Session, code, msg string) {
	g.metrics.WSError(code)
	g.log.Debug("ws.error", "session_id", sess.ID, "code", code)
	_ = sess.Reply(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

// writeError writes an error frame directly, bypassing the queue, so it is on
// the wire before a terminal close. Conn writes are safe for concurrent use.
func (g *Gateway) writeError(ctx context.Context, conn *websocket.Conn, sess *Session, code, msg string) {
	g.metrics.WSError(code)
	env, err := NewEnvelope(v1.TypeError, "", v1.ErrorPayload{Code: code, Message: msg}, g.now())
	if err != nil {
		return
	}
	if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
		g.log.Debug("ws.write.fail", "session_id", sess.ID, "err", err)
	}
}

// handshakeToken reads the access token from the Authorization header or,
// for browsers that cannot set headers on WebSocket requests, the access_token query.
func handshakeToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// ---- envelope IO ----

var errBadFrame = errors.New("bad frame")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("%w: unsupported message type %v", errBadFrame, mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, errBadFrame) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
