package authapi

import (
	"net/http"
	"net/netip"
	"strings"

	"nexus/cmd/internal/auth/session"
	"nexus/cmd/internal/chat"
	"nexus/cmd/internal/notification"

	v1 "nexus/shared/contracts/realtime/v1"
)

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		AccessToken:      issued.AccessToken,
		RefreshToken:     issued.RefreshToken,
		UserID:           issued.UserID,
		Username:         issued.Username,
		AccessExpiresAt:  issued.AccessExp,
		RefreshExpiresAt: issued.RefreshExp,
	}
}

func mapSlice[T, U any](in []T, f func(T) U) []U {
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}

func toNotificationItems(ns []notification.Notification) []v1.NotificationPayload {
	return mapSlice(ns, notification.Payload)
}

func toMessageItems(ms []chat.Message) []v1.MessageNewPayload {
	return mapSlice(ms, func(m chat.Message) v1.MessageNewPayload { return chat.Payload(m, "") })
}

// bearerToken returns the credential of an "Authorization: Bearer <tok>"
// header, or "" for any other shape.
func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// clientIP picks the caller address. Forwarding headers are consulted only
// behind a trusted proxy: the first parseable X-Forwarded-For hop, then
// X-Real-IP. The zero Addr means unknown.
func clientIP(r *http.Request, trustProxy bool) netip.Addr {
	if trustProxy {
		for hop := range strings.SplitSeq(r.Header.Get("X-Forwarded-For"), ",") {
			if ip, err := netip.ParseAddr(strings.TrimSpace(hop)); err == nil {
				return ip.Unmap()
			}
		}
		if ip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return ip.Unmap()
		}
	}
	if ap, err := netip.ParseAddrPort(strings.TrimSpace(r.RemoteAddr)); err == nil {
		return ap.Addr().Unmap()
	}
	return netip.Addr{}
}
