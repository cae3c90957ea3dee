// Package chatapi exposes chat turns, conversation history, sharing, and invite redemption over HTTP.
package chatapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"chatgate/cmd/internal/chat"
	"chatgate/cmd/internal/conversation"
	"chatgate/cmd/internal/ids"
	"chatgate/cmd/internal/invite"
	"chatgate/cmd/internal/metrics"
	"chatgate/cmd/internal/ratelimit"
	"chatgate/cmd/internal/share"
)

// RouteInviteRedeem is the rate-limit route for invite redemption.
const RouteInviteRedeem = "invite-redeem"

// Invites resolves session tokens and redeems invite codes.
type Invites interface {
	chat.SessionResolver
	Redeem(ctx context.Context, code string) (invite.Session, string, error)
}

// Deps are the collaborators a Handler serves requests with. All are required.
type Deps struct {
	Normalizer    *chat.Normalizer
	Authorizer    *chat.Authorizer
	Orchestrator  *chat.Orchestrator
	Conversations conversation.Store
	Invites       Invites
	Shares        *share.Service
	Limiter       ratelimit.Limiter
}

// Handler wires HTTP chat endpoints to the chat services.
type Handler struct {
	log *slog.Logger
	cfg Config

	normalizer    *chat.Normalizer
	authorizer    *chat.Authorizer
	orchestrator  *chat.Orchestrator
	conversations conversation.Store
	invites       Invites
	shares        *share.Service
	limiter       ratelimit.Limiter
}

// NewHandler constructs a chat Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	switch {
	case deps.Normalizer == nil, deps.Authorizer == nil, deps.Orchestrator == nil:
		return nil, errors.New("chatapi: nil chat service")
	case deps.Conversations == nil:
		return nil, errors.New("chatapi: nil conversation store")
	case deps.Invites == nil:
		return nil, errors.New("chatapi: nil invite service")
	case deps.Shares == nil:
		return nil, errors.New("chatapi: nil share service")
	case deps.Limiter == nil:
		return nil, errors.New("chatapi: nil rate limiter")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = DefaultConfig().SessionCookieName
	}
	if cfg.ShareMaxAge <= 0 {
		cfg.ShareMaxAge = share.DefaultMaxAge
	}
	if cfg.WSWriteTimeout <= 0 {
		cfg.WSWriteTimeout = DefaultConfig().WSWriteTimeout
	}

	return &Handler{
		log:           log,
		cfg:           cfg,
		normalizer:    deps.Normalizer,
		authorizer:    deps.Authorizer,
		orchestrator:  deps.Orchestrator,
		conversations: deps.Conversations,
		invites:       deps.Invites,
		shares:        deps.Shares,
		limiter:       deps.Limiter,
	}, nil
}

// Register wires chat routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/chat", h.handleChat)
	mux.HandleFunc("/chat/ws", h.handleChatWS)
	mux.HandleFunc("/chat/conversations", h.handleConversations)
	mux.HandleFunc("/chat/conversations/{chatId}", h.handleConversation)
	mux.HandleFunc("/chat/share", h.handleShare)
	mux.HandleFunc("/chat/shared/{chatId}", h.handleShared)
	mux.HandleFunc("/invite/redeem", h.handleRedeem)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := readBody(w, r, h.cfg.MaxBodyBytes)
	if err != nil {
		writeError(w, chat.CodeInvalidRequest, "invalid request body")
		return
	}
	prep, err := h.normalizer.Normalize(body)
	if err != nil {
		writeChatError(w, err, 0)
		return
	}

	sess, err := h.authorizer.Authorize(r.Context(), h.clientID(r), h.sessionToken(r), requestedAlias(prep))
	if err != nil {
		h.logFailure("chat.authorize.fail", r, err)
		writeChatError(w, err, h.authorizer.RetryAfter())
		return
	}

	if err := h.orchestrator.Stream(r.Context(), prep, sess, newSSESink(w)); err != nil {
		h.logFailure("chat.stream.reject", r, err)
		writeChatError(w, err, 0)
	}
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, err := h.requireSession(r)
	if err != nil {
		writeChatError(w, err, 0)
		return
	}

	list, err := h.conversations.ListConversations(r.Context(), sess.ID)
	if err != nil {
		h.log.Error("chat.conversations.list.fail", "session_id", sess.ID, "err", err)
		writeError(w, chat.CodeInternal, "internal error")
		return
	}
	if list == nil {
		list = []conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, conversationsResponse{Conversations: list})
}

func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, err := h.requireSession(r)
	if err != nil {
		writeChatError(w, err, 0)
		return
	}
	chatID, ok := pathChatID(r)
	if !ok {
		writeError(w, chat.CodeInvalidRequest, "chatId must be a UUID")
		return
	}
	if !h.owns(w, r, chatID, sess.ID) {
		return
	}
	h.writeMessages(w, r, chatID)
}

func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, err := h.requireSession(r)
	if err != nil {
		writeChatError(w, err, 0)
		return
	}

	var req shareRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, chat.CodeInvalidRequest, "invalid json")
		return
	}
	chatID := strings.ToLower(strings.TrimSpace(req.ChatID))
	if !ids.IsChatID(chatID) {
		writeError(w, chat.CodeInvalidRequest, "chatId must be a UUID")
		return
	}
	if !h.owns(w, r, chatID, sess.ID) {
		return
	}

	tok, err := h.shares.Issue(chatID, h.cfg.ShareMaxAge)
	if err != nil {
		h.log.Error("chat.share.issue.fail", "chat_id", chatID, "err", err)
		writeError(w, chat.CodeInternal, "internal error")
		return
	}
	metrics.SharesIssued.Inc()
	h.log.Info("chat.share.issued", "chat_id", chatID, "session_id", sess.ID)
	writeJSON(w, http.StatusOK, shareResponse{
		ChatID:   chatID,
		ShareURL: share.URL(h.baseURL(r), chatID, tok),
	})
}

func (h *Handler) handleShared(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	chatID, ok := pathChatID(r)
	if !ok {
		writeError(w, chat.CodeInvalidRequest, "chatId must be a UUID")
		return
	}
	if !h.shares.Verify(chatID, r.URL.Query().Get("token")) {
		writeError(w, chat.CodeForbidden, "share link is invalid or expired")
		return
	}
	h.writeMessages(w, r, chatID)
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	allowed, err := h.limiter.Allow(r.Context(), ratelimit.Key(RouteInviteRedeem, h.clientID(r)), h.cfg.RedeemMax, h.cfg.RedeemWindow)
	if err != nil {
		h.log.Error("invite.redeem.ratelimit.error", "err", err)
		writeError(w, chat.CodeInternal, "internal error")
		return
	}
	if !allowed {
		metrics.RateLimitHits.WithLabelValues(RouteInviteRedeem).Inc()
		writeRateLimited(w, h.cfg.RedeemWindow)
		return
	}

	var req redeemRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, chat.CodeInvalidRequest, "invalid json")
		return
	}

	sess, tok, err := h.invites.Redeem(r.Context(), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, invite.ErrInvalidInput):
			writeError(w, chat.CodeInvalidRequest, "code is required")
		case errors.Is(err, invite.ErrNotFound), errors.Is(err, invite.ErrNotActive):
			h.log.Info("invite.redeem.reject", "reason", err.Error(), "remote", r.RemoteAddr)
			writeError(w, chat.CodeForbidden, "invite code is not valid")
		default:
			h.log.Error("invite.redeem.fail", "err", err)
			writeError(w, chat.CodeInternal, "internal error")
		}
		return
	}

	h.setSessionCookie(w, tok, sess.ExpiresAt)
	h.log.Info("invite.redeem.ok", "session_id", sess.ID, "invite_code_id", sess.InviteCodeID)
	writeJSON(w, http.StatusOK, redeemResponse{
		SessionID:      sess.ID,
		TokenQuota:     sess.TokenQuota,
		TokensConsumed: sess.TokensConsumed,
		ExpiresAt:      sess.ExpiresAt,
	})
}

// owns writes the failure response and returns false unless sessionID owns chatID.
// Unknown chats answer FORBIDDEN too, so ids cannot be enumerated.
func (h *Handler) owns(w http.ResponseWriter, r *http.Request, chatID, sessionID string) bool {
	ok, err := h.conversations.BelongsToSession(r.Context(), chatID, sessionID)
	if err != nil {
		h.log.Error("chat.ownership.check.fail", "chat_id", chatID, "err", err)
		writeError(w, chat.CodeInternal, "internal error")
		return false
	}
	if !ok {
		writeError(w, chat.CodeForbidden, "conversation not owned by this session")
		return false
	}
	return true
}

func (h *Handler) writeMessages(w http.ResponseWriter, r *http.Request, chatID string) {
	msgs, err := h.conversations.GetMessages(r.Context(), chatID)
	if err != nil {
		h.log.Error("chat.messages.load.fail", "chat_id", chatID, "err", err)
		writeError(w, chat.CodeInternal, "internal error")
		return
	}
	if msgs == nil {
		msgs = []conversation.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{ChatID: chatID, Messages: msgs})
}

func (h *Handler) requireSession(r *http.Request) (invite.Session, error) {
	sess, ok, err := h.invites.Resolve(r.Context(), h.sessionToken(r))
	if err != nil {
		h.log.Error("chat.session.resolve.fail", "err", err)
		return invite.Session{}, &chat.Error{Code: chat.CodeInternal, Msg: "internal error", Err: err}
	}
	if !ok {
		return invite.Session{}, &chat.Error{Code: chat.CodeUnauthorized, Msg: "invite session required"}
	}
	return sess, nil
}

func (h *Handler) sessionToken(r *http.Request) string {
	c, err := r.Cookie(h.cfg.SessionCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, value string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) clientID(r *http.Request) string {
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		return ip.String()
	}
	return "unknown"
}

func (h *Handler) baseURL(r *http.Request) string {
	if h.cfg.PublicBaseURL != "" {
		return h.cfg.PublicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if h.cfg.TrustProxy {
		switch p := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); p {
		case "http", "https":
			scheme = p
		}
	}
	return scheme + "://" + r.Host
}

func (h *Handler) logFailure(event string, r *http.Request, err error) {
	ce := chat.AsError(err)
	if ce.Code == chat.CodeInternal {
		h.log.Error(event, "code", ce.Code, "path", r.URL.Path, "err", err)
		return
	}
	h.log.Info(event, "code", ce.Code, "path", r.URL.Path)
}

// requestedAlias returns the alias to check credentials for, or "" when the caller let the
// default apply.
func requestedAlias(prep chat.PreparedRequest) string {
	if !prep.AliasRequested {
		return ""
	}
	return prep.Model.Alias
}

func pathChatID(r *http.Request) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(r.PathValue("chatId")))
	return id, ids.IsChatID(id)
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
