package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	v1 "nexus/shared/contracts/realtime/v1"
)

// HandlerFunc handles one inbound envelope for sess. sess.UserID is the actor;
// payload fields naming a sender must be ignored.
//
// A returned *FrameError is reported to the session with its code. Any other
// error is logged and reported as "internal". The session continues either way.
type HandlerFunc func(ctx context.Context, sess *Session, payload json.RawMessage) error

// FrameError is a client-visible failure for one frame.
type FrameError struct {
	Code    string
	Message string
}

func (e *FrameError) Error() string {
	return e.Code + ": " + e.Message
}

// Reject returns a FrameError.
func Reject(code, format string, args ...any) error {
	return &FrameError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// DecodePayload unmarshals raw into dst. An empty payload leaves dst unchanged.
func DecodePayload(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return Reject("bad_payload", "invalid payload")
	}
	return nil
}

// Handle registers h for envelopes of type typ, replacing any previous handler.
func (g *Gateway) Handle(typ string, h HandlerFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h == nil {
		delete(g.handlers, typ)
		return
	}
	g.handlers[typ] = h
}

func (g *Gateway) handler(typ string) (HandlerFunc, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.handlers[typ]
	return h, ok
}

func (g *Gateway) dispatch(ctx context.Context, sess *Session, env v1.Envelope) {
	h, ok := g.handler(env.Type)
	if !ok {
		g.sendError(sess, "unsupported", "unsupported type: "+env.Type)
		return
	}

	err := h(ctx, sess, env.Payload)
	if err == nil {
		return
	}
	var fe *FrameError
	if errors.As(err, &fe) {
		g.sendError(sess, fe.Code, fe.Message)
		return
	}
	if ctx.Err() != nil {
		return
	}
	g.log.Error("ws.handler.fail", "session_id", sess.ID, "type", env.Type, "err", err)
	g.sendError(sess, "internal", "internal error")
}

// ---- built-in handlers ----

func (g *Gateway) onHello(_ context.Context, sess *Session, payload json.RawMessage) error {
	var p v1.HelloPayload
	if err := DecodePayload(payload, &p); err != nil {
		return err
	}
	sess.Reply(v1.TypeHelloAck, v1.HelloAckPayload{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Username:  sess.Username,
	})
	return nil
}

func (g *Gateway) onPresencePing(_ context.Context, sess *Session, payload json.RawMessage) error {
	var p v1.PresencePingPayload
	if err := DecodePayload(payload, &p); err != nil {
		return err
	}
	if len(p.Users) > maxPresenceQuery {
		return Reject("bad_payload", "too many users: max=%d", maxPresenceQuery)
	}

	online := make(map[string]bool, len(p.Users))
	for _, u := range p.Users {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		online[u] = g.reg.Online(u)
	}
	sess.Reply(v1.TypePresenceState, v1.PresenceStatePayload{Online: online})
	return nil
}
