package chat

import (
	"context"
	"log/slog"
	"time"

	"chatgate/cmd/internal/catalog"
	"chatgate/cmd/internal/invite"
	"chatgate/cmd/internal/metrics"
	"chatgate/cmd/internal/ratelimit"
)

const (
	// RouteChatStream namespaces rate-limit keys for POST /chat.
	RouteChatStream = "chat-stream-post"

	DefaultRateLimit  = 30
	DefaultRateWindow = 10 * time.Minute
)

// SessionResolver maps an opaque session token to an invite session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (invite.Session, bool, error)
}

// Authorizer runs the per-turn checks, cheapest first: rate limit, session, quota, credentials.
type Authorizer struct {
	limiter  ratelimit.Limiter
	sessions SessionResolver
	catalog  *catalog.Registry
	limit    int
	window   time.Duration
	log      *slog.Logger
}

// AuthorizerOption configures Authorizer.
type AuthorizerOption func(*Authorizer)

// WithRateLimit overrides the default 30 requests per 10 minutes.
func WithRateLimit(limit int, window time.Duration) AuthorizerOption {
	return func(a *Authorizer) {
		if limit > 0 && window > 0 {
			a.limit, a.window = limit, window
		}
	}
}

// WithAuthorizerLogger sets the logger.
func WithAuthorizerLogger(log *slog.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		if log != nil {
			a.log = log
		}
	}
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(limiter ratelimit.Limiter, sessions SessionResolver, cat *catalog.Registry, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		limiter:  limiter,
		sessions: sessions,
		catalog:  cat,
		limit:    DefaultRateLimit,
		window:   DefaultRateWindow,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RetryAfter is the advisory wait returned with RATE_LIMITED.
func (a *Authorizer) RetryAfter() time.Duration { return a.window }

// Authorize returns the caller's session or a tagged error. The credential check only runs when
// the caller asked for a specific alias.
func (a *Authorizer) Authorize(ctx context.Context, clientID, sessionToken, alias string) (invite.Session, error) {
	sess, err := a.authorize(ctx, clientID, sessionToken, alias)
	outcome := "ok"
	if err != nil {
		outcome = string(AsError(err).Code)
	}
	metrics.AuthorizeOutcomes.WithLabelValues(outcome).Inc()
	return sess, err
}

func (a *Authorizer) authorize(ctx context.Context, clientID, sessionToken, alias string) (invite.Session, error) {
	ok, err := a.limiter.Allow(ctx, ratelimit.Key(RouteChatStream, clientID), a.limit, a.window)
	if err != nil {
		a.log.Error("chat.ratelimit.error", "err", err)
		return invite.Session{}, newError(CodeInternal, "internal error", err)
	}
	if !ok {
		metrics.RateLimitHits.WithLabelValues(RouteChatStream).Inc()
		a.log.Warn("chat.ratelimit.reject", "client", clientID)
		return invite.Session{}, newError(CodeRateLimited, "too many requests", nil)
	}

	sess, found, err := a.sessions.Resolve(ctx, sessionToken)
	if err != nil {
		a.log.Error("chat.session.resolve.error", "err", err)
		return invite.Session{}, newError(CodeInternal, "internal error", err)
	}
	if !found {
		return invite.Session{}, newError(CodeUnauthorized, "invite session required", nil)
	}

	if sess.Remaining() < 1 {
		return invite.Session{}, newError(CodeInviteExhausted, "invite code token quota exhausted", nil)
	}

	if alias != "" && !a.catalog.HasCredentials(alias) {
		return invite.Session{}, newError(CodeProviderNotConfigured, "model provider is not configured", nil)
	}
	return sess, nil
}
