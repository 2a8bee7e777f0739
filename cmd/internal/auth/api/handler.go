package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nexus/cmd/identity"
	"nexus/cmd/internal/auth/session"
	"nexus/cmd/internal/chat"
	"nexus/cmd/internal/notification"
)

// Authenticator is the session surface the HTTP layer needs.
type Authenticator interface {
	session.Authenticator
	LogoutRefresh(ctx context.Context, userID, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) error
}

// Handler wires the REST endpoints to the session, notification and chat services.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions Authenticator
	users    identity.UserLookup

	notifications *notification.Service
	chat          *chat.Service

	throttle *loginThrottle
	now      func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLogger sets the logger used for request failures and audit events.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithNotifications enables the /notifications endpoints.
func WithNotifications(s *notification.Service) HandlerOption {
	return func(h *Handler) { h.notifications = s }
}

// WithChat enables the conversation history endpoint.
func WithChat(s *chat.Service) HandlerOption {
	return func(h *Handler) { h.chat = s }
}

// WithClock replaces time.Now for the login throttle.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, sessions Authenticator, users identity.UserLookup, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil || users == nil {
		return nil, errors.New("authapi: nil session service or user lookup")
	}
	cfg = cfg.normalized()

	h := &Handler{
		log:      slog.Default(),
		cfg:      cfg,
		sessions: sessions,
		users:    users,
		throttle: newLoginThrottle(cfg),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/me", h.handleMe)
	if h.notifications != nil {
		mux.HandleFunc("/notifications", h.handleNotifications)
		mux.HandleFunc("/notifications/read", h.handleNotificationsRead)
	}
	if h.chat != nil {
		mux.HandleFunc("GET /conversations/{id}/messages", h.handleHistory)
	}
}

// Run prunes idle login limiters until ctx is done.
func (h *Handler) Run(ctx context.Context, every time.Duration) {
	if h == nil || h.throttle == nil {
		return
	}
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := h.throttle.prune(h.now()); n > 0 {
				h.log.Debug("auth.throttle.prune", "removed", n)
			}
		}
	}
}

// ---- auth ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	identifier := strings.TrimSpace(req.UsernameOrEmail)
	if identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "usernameOrEmail and password are required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := r.UserAgent()

	// IP throttling before any password work.
	if ok, retryAfter := h.throttle.allow(ip, h.now()); !ok {
		h.auditLoginRateLimited(ctx, ip, ua, identifier)
		writeRateLimited(w, retryAfter)
		return
	}

	issued, err := h.sessions.Login(ctx, identifier, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.auditLoginFailed(ctx, ip, ua, identifier, "invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLoginSuccess(ctx, issued.UserID, ip, ua)
	writeJSON(w, http.StatusOK, toSessionResponse(issued))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}

	ctx := r.Context()
	issued, err := h.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			h.auditRefreshFailed(ctx, clientIP(r, h.cfg.TrustProxy), r.UserAgent(), session.Reason(err))
			writeUnauthorized(w)
			return
		}
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(issued))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req logoutRequest
	if err := decodeOptionalJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	if err := h.sessions.Logout(ctx, bearerToken(r)); err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeUnauthorized(w)
			return
		}
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	// The access token is already gone; a stale or foreign refresh token
	// does not turn the logout into a failure.
	if rt := strings.TrimSpace(req.RefreshToken); rt != "" {
		if err := h.sessions.LogoutRefresh(ctx, claims.UserID, rt); err != nil {
			h.log.Debug("auth.logout.refresh_skip", "user_id", claims.UserID, "reason", session.Reason(err))
		}
	}

	h.auditLogout(ctx, claims.UserID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.LogoutAll(ctx, claims.UserID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogoutAll(ctx, claims.UserID, clientIP(r, h.cfg.TrustProxy), r.UserAgent())
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		UserID:    u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	})
}

// ---- notifications ----

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
		return
	}

	ctx := r.Context()
	items, err := h.notifications.List(ctx, claims.UserID, limit)
	if err != nil {
		h.writeDomainError(w, "notifications.list", err)
		return
	}
	unread, err := h.notifications.Unread(ctx, claims.UserID)
	if err != nil {
		h.writeDomainError(w, "notifications.unread", err)
		return
	}

	writeJSON(w, http.StatusOK, notificationListResponse{
		Items:  toNotificationItems(items),
		Unread: unread,
	})
}

func (h *Handler) handleNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req markReadRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	updated, err := h.notifications.MarkRead(ctx, claims.UserID, req.IDs)
	if err != nil {
		h.writeDomainError(w, "notifications.read", err)
		return
	}
	unread, err := h.notifications.Unread(ctx, claims.UserID)
	if err != nil {
		h.writeDomainError(w, "notifications.unread", err)
		return
	}

	writeJSON(w, http.StatusOK, markReadResponse{Updated: updated, Unread: unread})
}

// ---- chat ----

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var afterSeq *int64
	if r.URL.Query().Has("afterSeq") {
		n, ok := queryInt(r, "afterSeq", 0)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "afterSeq must be a non-negative integer")
			return
		}
		v := int64(n)
		afterSeq = &v
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
		return
	}

	ctx := r.Context()
	actor := chat.Actor{UserID: claims.UserID, Username: claims.Username}
	convID := r.PathValue("id")

	page, err := h.chat.History(ctx, actor, convID, afterSeq, limit)
	if err != nil {
		h.writeDomainError(w, "chat.history", err)
		return
	}
	unread, err := h.chat.Unread(ctx, actor, convID)
	if err != nil {
		h.writeDomainError(w, "chat.unread", err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Items:   toMessageItems(page.Messages),
		HasMore: page.HasMore,
		Unread:  unread,
	})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Claims, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.Claims{}, false
	}
	claims, err := h.sessions.ValidateAccess(r.Context(), tok)
	if err != nil {
		writeUnauthorized(w)
		return session.Claims{}, false
	}
	return claims, true
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
}

// writeDomainError maps chat and notification errors to HTTP.
func (h *Handler) writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrUnauthorized), errors.Is(err, notification.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, chat.ErrInvalidInput), errors.Is(err, notification.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
