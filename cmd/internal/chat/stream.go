package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatgate/cmd/internal/catalog"
	"chatgate/cmd/internal/conversation"
	"chatgate/cmd/internal/ids"
	"chatgate/cmd/internal/invite"
	"chatgate/cmd/internal/llm"
	"chatgate/cmd/internal/metrics"
)

// ProviderSource returns the provider serving a catalog model.
type ProviderSource interface {
	For(model catalog.Model) (llm.Provider, error)
}

// OwnerLookup reports which session owns a chat id.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, chatID string) (string, bool, error)
}

// Sink receives one streamed turn. Start is called at most once, before any Delta.
// Exactly one of Finish or Fail follows the deltas unless a write already failed.
type Sink interface {
	Start(chatID, alias string) error
	Delta(text string) error
	Finish(usage llm.Usage) error
	Fail(code Code, msg string) error
}

// Orchestrator drives one model call per turn and relays its output.
type Orchestrator struct {
	providers   ProviderSource
	owners      OwnerLookup
	onFinish    func(Turn)
	log         *slog.Logger
	turnTimeout time.Duration
	now         func() time.Time

	inflight sync.WaitGroup
}

// OrchestratorOption configures Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithFinishHook sets the function called once per successfully finished turn.
func WithFinishHook(fn func(Turn)) OrchestratorOption {
	return func(o *Orchestrator) { o.onFinish = fn }
}

// WithOwnerLookup enables the chat-id ownership check.
func WithOwnerLookup(owners OwnerLookup) OrchestratorOption {
	return func(o *Orchestrator) { o.owners = owners }
}

// WithTurnTimeout bounds one upstream call, including after caller disconnect.
func WithTurnTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.turnTimeout = d
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(log *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithOrchestratorClock overrides the time source (tests).
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(providers ProviderSource, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		providers:   providers,
		log:         slog.Default(),
		turnTimeout: 5 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Wait blocks until every in-flight upstream call has finished, or ctx expires.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type pumpResult struct {
	usage llm.Usage
	err   error
}

// Stream runs one turn. A returned error means nothing was written to sink and the caller should
// answer with that error. Once streaming has begun, failures are reported through sink.Fail and
// Stream returns nil. The upstream call is detached from ctx: if the caller goes away the model
// still runs to completion and the finish hook still fires.
func (o *Orchestrator) Stream(ctx context.Context, prep PreparedRequest, sess invite.Session, sink Sink) error {
	startedAt := o.now()
	alias := prep.Model.Alias
	chatID := o.claimChatID(ctx, prep.ChatID, sess.ID)

	provider, err := o.providers.For(prep.Model)
	if err != nil {
		if errors.Is(err, llm.ErrNoCredentials) || errors.Is(err, llm.ErrUnknownModel) {
			return newError(CodeProviderNotConfigured, "model provider is not configured", err)
		}
		return newError(CodeInternal, "internal error", err)
	}

	upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.turnTimeout)
	st, err := provider.Stream(upCtx, llm.Request{
		Model:     prep.Model.ModelID,
		Messages:  prep.Messages,
		WebSearch: prep.WebSearch,
	})
	if err != nil {
		cancel()
		return o.upstreamFailed(alias, chatID, err)
	}

	hasFirst := st.Next()
	if !hasFirst && st.Err() != nil {
		err := st.Err()
		_ = st.Close()
		cancel()
		return o.upstreamFailed(alias, chatID, err)
	}

	o.log.Info("chat.stream.start", "chat_id", chatID, "session_id", sess.ID, "model", alias)

	events := make(chan string, 32)
	gone := make(chan struct{})
	var res pumpResult

	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		defer cancel()
		defer func() { _ = st.Close() }()
		res = o.pump(st, hasFirst, events, gone, Turn{
			ChatID:      chatID,
			SessionID:   sess.ID,
			Alias:       alias,
			UserMessage: prep.LatestUser,
			StartedAt:   startedAt,
		})
		close(events)
	}()

	if err := sink.Start(chatID, alias); err != nil {
		close(gone)
		return nil
	}

relay:
	for {
		select {
		case d, ok := <-events:
			if !ok {
				break relay
			}
			if err := sink.Delta(d); err != nil {
				close(gone)
				return nil
			}
		case <-ctx.Done():
			close(gone)
			return nil
		}
	}

	if res.err != nil {
		_ = sink.Fail(CodeUpstream, "model provider error")
		return nil
	}
	_ = sink.Finish(res.usage)
	return nil
}

// pump drains the upstream stream to completion. Sends stop once gone is closed; the text is
// still accumulated so the finished turn is complete.
func (o *Orchestrator) pump(st llm.Stream, hasFirst bool, events chan<- string, gone <-chan struct{}, turn Turn) pumpResult {
	var sb strings.Builder
	send := func(d string) {
		select {
		case events <- d:
		case <-gone:
		}
	}

	if hasFirst {
		sb.WriteString(st.Delta())
		send(st.Delta())
		for st.Next() {
			d := st.Delta()
			sb.WriteString(d)
			send(d)
		}
	}

	if err := st.Err(); err != nil {
		metrics.TurnsStreamed.WithLabelValues(turn.Alias, "failed").Inc()
		o.log.Error("chat.stream.fail", "chat_id", turn.ChatID, "session_id", turn.SessionID, "err", err)
		return pumpResult{err: err}
	}

	usage := st.Usage()
	metrics.TurnsStreamed.WithLabelValues(turn.Alias, "finished").Inc()
	metrics.TokensUsed.WithLabelValues(turn.Alias).Add(float64(usage.TotalTokens))
	o.log.Info("chat.stream.finish",
		"chat_id", turn.ChatID,
		"session_id", turn.SessionID,
		"model", turn.Alias,
		"total_tokens", usage.TotalTokens,
	)

	if o.onFinish != nil {
		turn.AssistantText = sb.String()
		turn.Usage = conversation.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
		turn.FinishedAt = o.now()
		o.onFinish(turn)
	}
	return pumpResult{usage: usage}
}

// claimChatID keeps chatID unless another session already owns it, in which case a fresh id is
// substituted so the turn can never be appended to someone else's conversation.
func (o *Orchestrator) claimChatID(ctx context.Context, chatID, sessionID string) string {
	if o.owners == nil {
		return chatID
	}
	owner, ok, err := o.owners.OwnerOf(ctx, chatID)
	if err != nil {
		o.log.Error("chat.owner.lookup.error", "chat_id", chatID, "err", err)
		return ids.NewChatID()
	}
	if ok && owner != sessionID {
		fresh := ids.NewChatID()
		o.log.Warn("chat.chatid.substituted", "requested", chatID, "chat_id", fresh, "session_id", sessionID)
		return fresh
	}
	return chatID
}

func (o *Orchestrator) upstreamFailed(alias, chatID string, err error) error {
	metrics.TurnsStreamed.WithLabelValues(alias, "upstream_error").Inc()
	o.log.Error("chat.stream.upstream.fail", "chat_id", chatID, "model", alias, "err", err)
	return newError(CodeUpstream, "model provider error", err)
}
