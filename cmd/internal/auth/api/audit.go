package authapi

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"
)

// Audit events go to the structured log under the "audit" group.

func (h *Handler) auditLoginFailed(ctx context.Context, ip netip.Addr, ua, identifier, reason string) {
	h.audit(ctx, "auth.login.failed", "", ip, ua, slog.String("identifier", identifier), slog.String("reason", reason))
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID string, ip netip.Addr, ua string) {
	h.audit(ctx, "auth.login.success", userID, ip, ua)
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip netip.Addr, ua, identifier string) {
	h.audit(ctx, "auth.login.rate_limited", "", ip, ua, slog.String("identifier", identifier))
}

func (h *Handler) auditRefreshFailed(ctx context.Context, ip netip.Addr, ua, reason string) {
	h.audit(ctx, "auth.refresh.failed", "", ip, ua, slog.String("reason", reason))
}

func (h *Handler) auditLogout(ctx context.Context, userID string, ip netip.Addr, ua string) {
	h.audit(ctx, "auth.logout", userID, ip, ua)
}

func (h *Handler) auditLogoutAll(ctx context.Context, userID string, ip netip.Addr, ua string) {
	h.audit(ctx, "auth.logout_all", userID, ip, ua)
}

func (h *Handler) audit(ctx context.Context, action, userID string, ip netip.Addr, ua string, extra ...slog.Attr) {
	if h == nil || h.log == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	attrs := make([]any, 0, 4+len(extra))
	attrs = append(attrs, slog.String("action", action))
	if userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	if ip.IsValid() {
		attrs = append(attrs, slog.String("ip", ip.String()))
	}
	if ua = strings.TrimSpace(ua); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}
	for _, a := range extra {
		attrs = append(attrs, a)
	}
	h.log.LogAttrs(ctx, slog.LevelInfo, "audit", slog.Group("audit", attrs...))
}
