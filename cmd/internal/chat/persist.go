package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatgate/cmd/internal/conversation"
	"chatgate/cmd/internal/invite"
	"chatgate/cmd/internal/metrics"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// Turn is a finished exchange handed to persistence.
type Turn struct {
	ChatID        string
	SessionID     string
	Alias         string
	UserMessage   json.RawMessage
	AssistantText string
	Usage         conversation.Usage
	// StartedAt is when the request arrived; it stamps the user row.
	StartedAt  time.Time
	FinishedAt time.Time
}

// UsageRecorder adds consumed tokens to a session.
type UsageRecorder interface {
	AddUsage(ctx context.Context, sessionID string, tokens int64) error
}

// Persister writes finished turns on a bounded pool of workers. Callers never wait on it.
type Persister struct {
	store conversation.Store
	usage UsageRecorder
	log   *slog.Logger

	workers    int
	maxTries   uint
	retryStart time.Duration
	jobTimeout time.Duration

	mu     sync.RWMutex
	queue  chan Turn
	closed bool

	cancel context.CancelFunc
	group  *errgroup.Group
}

// PersisterOption configures Persister.
type PersisterOption func(*Persister)

// WithWorkers sets worker count and queue capacity.
func WithWorkers(workers, queue int) PersisterOption {
	return func(p *Persister) {
		if workers > 0 {
			p.workers = workers
		}
		if queue > 0 {
			p.queue = make(chan Turn, queue)
		}
	}
}

// WithRetry sets the attempt budget and first backoff interval per turn.
func WithRetry(maxTries uint, initial time.Duration) PersisterOption {
	return func(p *Persister) {
		if maxTries > 0 {
			p.maxTries = maxTries
		}
		if initial > 0 {
			p.retryStart = initial
		}
	}
}

// WithPersisterLogger sets the logger.
func WithPersisterLogger(log *slog.Logger) PersisterOption {
	return func(p *Persister) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPersister constructs a Persister. usage may be nil.
func NewPersister(store conversation.Store, usage UsageRecorder, opts ...PersisterOption) *Persister {
	p := &Persister{
		store:      store,
		usage:      usage,
		log:        slog.Default(),
		workers:    4,
		maxTries:   5,
		retryStart: 200 * time.Millisecond,
		jobTimeout: 30 * time.Second,
		queue:      make(chan Turn, 256),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start launches the workers. They run until Close.
func (p *Persister) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for t := range p.queue {
				metrics.PersistQueueDepth.Set(float64(len(p.queue)))
				p.persist(gctx, t)
			}
			return nil
		})
	}
	p.group = g
}

// Enqueue hands a turn to the workers without blocking. It reports false when the turn was
// dropped because the queue is full or closed. A dropped turn loses its transcript but its usage
// is still charged to the session, inline.
func (p *Persister) Enqueue(t Turn) bool {
	p.mu.RLock()
	reason := "closed"
	if !p.closed {
		select {
		case p.queue <- t:
			metrics.PersistQueueDepth.Set(float64(len(p.queue)))
			p.mu.RUnlock()
			return true
		default:
			reason = "queue_full"
		}
	}
	p.mu.RUnlock()

	metrics.PersistResults.WithLabelValues("dropped").Inc()
	p.log.Error("chat.persist.drop", "chat_id", t.ChatID, "session_id", t.SessionID, "reason", reason)

	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()
	p.recordUsage(ctx, t)
	return false
}

// Close stops accepting turns and waits for queued ones to drain, or for ctx to expire.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	if p.group == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()
	select {
	case err := <-done:
		p.cancel()
		return err
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *Persister) persist(ctx context.Context, t Turn) {
	ctx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	// Quota reads consumption, so usage goes first and does not depend on the transcript.
	p.recordUsage(ctx, t)

	in := conversation.AppendTurnInput{
		ChatID:        t.ChatID,
		SessionID:     t.SessionID,
		UserMessage:   t.UserMessage,
		AssistantText: t.AssistantText,
		Usage:         t.Usage,
		UserAt:        t.StartedAt,
		Now:           t.FinishedAt,
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := p.store.AppendTurn(ctx, in)
		if errors.Is(err, conversation.ErrInvalidInput) || errors.Is(err, conversation.ErrNotOwner) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, p.retryOptions("chat.persist.retry", t)...)
	if err != nil {
		metrics.PersistResults.WithLabelValues("failed").Inc()
		p.log.Error("chat.persist.fail", "chat_id", t.ChatID, "session_id", t.SessionID, "err", err)
		return
	}
	metrics.PersistResults.WithLabelValues("ok").Inc()
	p.log.Info("chat.persist.ok", "chat_id", t.ChatID, "session_id", t.SessionID)
}

// recordUsage charges the turn's tokens to its session with the same retry budget as the transcript.
func (p *Persister) recordUsage(ctx context.Context, t Turn) {
	if p.usage == nil || t.Usage.TotalTokens <= 0 {
		return
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := p.usage.AddUsage(ctx, t.SessionID, t.Usage.TotalTokens)
		if errors.Is(err, invite.ErrNotFound) || errors.Is(err, invite.ErrInvalidInput) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, p.retryOptions("chat.usage.retry", t)...)
	if err != nil {
		metrics.PersistResults.WithLabelValues("usage_failed").Inc()
		p.log.Error("chat.usage.fail", "session_id", t.SessionID, "tokens", t.Usage.TotalTokens, "err", err)
	}
}

func (p *Persister) retryOptions(event string, t Turn) []backoff.RetryOption {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryStart
	return []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(p.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.log.Warn(event, "chat_id", t.ChatID, "session_id", t.SessionID, "err", err, "next", next)
		}),
	}
}
