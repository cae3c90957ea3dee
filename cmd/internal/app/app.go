// Package app wires the chatgate server runtime: config, logging, storage, and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chatgate/cmd/internal/catalog"
	"chatgate/cmd/internal/chat"
	chatapi "chatgate/cmd/internal/chat/api"
	"chatgate/cmd/internal/conversation"
	"chatgate/cmd/internal/invite"
	"chatgate/cmd/internal/llm"
	"chatgate/cmd/internal/ratelimit"
	"chatgate/cmd/internal/share"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Stores are the backends selected for one process.
type Stores struct {
	Conversations conversation.Store
	Invites       invite.Store
	Limiter       ratelimit.Limiter

	pool  *pgxpool.Pool
	redis *redis.Client
}

// Pool returns the PostgreSQL pool, or nil in in-memory mode.
func (s *Stores) Pool() *pgxpool.Pool { return s.pool }

// Close releases connections. Safe on a partially built value.
func (s *Stores) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// OpenStores picks PostgreSQL when a database URL is configured and in-memory stores otherwise.
// The limiter prefers Redis, then PostgreSQL, then memory.
func OpenStores(ctx context.Context, cfg Config, log Logger) (*Stores, error) {
	st := &Stores{}

	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.inmemory_store")
		st.Conversations = conversation.NewMemoryStore()
		st.Invites = invite.NewMemoryStore()
	} else {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st.pool = pool
		if cfg.DBApplySchema {
			if err := EnsureSchema(ctx, pool, cfg.DBSchema); err != nil {
				st.Close()
				return nil, err
			}
		}

		convs, err := conversation.NewPostgresStore(pool, conversation.WithSchema(cfg.DBSchema))
		if err != nil {
			st.Close()
			return nil, err
		}
		invites, err := invite.NewPostgresStore(pool, invite.WithSchema(cfg.DBSchema))
		if err != nil {
			st.Close()
			return nil, err
		}
		st.Conversations, st.Invites = convs, invites
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	}

	limiter, err := st.openLimiter(ctx, cfg, log)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.Limiter = limiter
	return st, nil
}

func (s *Stores) openLimiter(ctx context.Context, cfg Config, log Logger) (ratelimit.Limiter, error) {
	switch {
	case cfg.RedisURL != "":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		s.redis = client
		l, err := ratelimit.NewRedisLimiter(client)
		if err != nil {
			return nil, err
		}
		log.Info("ratelimit.backend", "backend", "redis")
		return l, nil
	case s.pool != nil:
		l, err := ratelimit.NewPostgresLimiter(s.pool, ratelimit.WithSchema(cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		log.Info("ratelimit.backend", "backend", "postgres")
		return l, nil
	default:
		log.Warn("ratelimit.backend", "backend", "memory")
		return ratelimit.NewRecordLimiter(ratelimit.NewMemoryRecordStore()), nil
	}
}

// App is the chatgate server runtime: it owns HTTP server wiring and the chat pipeline.
type App struct {
	cfg Config
	log Logger

	stores       *Stores
	persister    *chat.Persister
	orchestrator *chat.Orchestrator
	chat         *chatapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}
	for _, alias := range cat.Aliases() {
		if !cat.HasCredentials(alias) {
			log.Warn("catalog.alias.no_credentials", "alias", alias)
		}
	}

	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := newApp(cfg, log, cat, stores, secrets, llm.NewRouter(cat, llm.OpenAIFactory))
	if err != nil {
		stores.Close()
		return nil, err
	}
	return a, nil
}

func newApp(cfg Config, log Logger, cat *catalog.Registry, stores *Stores, secrets Secrets, providers chat.ProviderSource) (*App, error) {
	invites, err := invite.NewService(stores.Invites, invite.WithHashKey(secrets.SessionKey))
	if err != nil {
		return nil, err
	}
	shares, err := share.NewService(secrets.ShareSecret)
	if err != nil {
		return nil, err
	}

	persister := chat.NewPersister(stores.Conversations, invites,
		chat.WithWorkers(cfg.PersistWorkers, cfg.PersistQueue),
		chat.WithRetry(uint(max(cfg.PersistMaxTries, 1)), 200*time.Millisecond),
		chat.WithPersisterLogger(log),
	)
	orchestrator := chat.NewOrchestrator(providers,
		chat.WithOwnerLookup(stores.Conversations),
		chat.WithFinishHook(func(t chat.Turn) { persister.Enqueue(t) }),
		chat.WithTurnTimeout(cfg.TurnTimeout),
		chat.WithOrchestratorLogger(log),
	)

	handler, err := chatapi.NewHandler(log, chatapi.LoadConfigFromEnv(), chatapi.Deps{
		Normalizer: chat.NewNormalizer(cat),
		Authorizer: chat.NewAuthorizer(stores.Limiter, invites, cat,
			chat.WithRateLimit(cfg.ChatRateLimit, cfg.ChatRateWindow),
			chat.WithAuthorizerLogger(log),
		),
		Orchestrator:  orchestrator,
		Conversations: stores.Conversations,
		Invites:       invites,
		Shares:        shares,
		Limiter:       stores.Limiter,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:          cfg,
		log:          log,
		stores:       stores,
		persister:    persister,
		orchestrator: orchestrator,
		chat:         handler,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.stores.Pool(), a.chat)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log)
	h = WithMetrics(h)
	return h
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	a.persister.Start()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.stores.Pool() != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 30*time.Second))
	defer cancel()

	if err := a.shutdown(shutdownCtx, srv); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown stops intake first, then lets in-flight turns finish and drains their persistence
// before the pools close underneath them.
func (a *App) shutdown(ctx context.Context, srv *http.Server) error {
	var firstErr error
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		firstErr = err
	}
	if err := a.orchestrator.Wait(ctx); err != nil {
		a.log.Error("chat.inflight.wait.fail", "err", err)
	}
	if err := a.persister.Close(ctx); err != nil {
		a.log.Error("chat.persist.drain.fail", "err", err)
	}
	a.stores.Close()

	a.log.Info("server.stopped")
	return firstErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
