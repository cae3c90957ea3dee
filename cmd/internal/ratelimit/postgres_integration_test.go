package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatgate/cmd/internal/pgtest"

	"github.com/jackc/pgx/v5"
)

func TestPostgresLimiter_WindowBoundaries(t *testing.T) {
	t.Parallel()

	pool := pgtest.MustOpenPool(t)
	defer pool.Close()
	schema := pgtest.MustCreateSchema(t, pool, "chatgate_rl_it", SchemaSQL)

	clock := &fakeClock{now: time.Now().UTC()}
	l, err := NewPostgresLimiter(pool, WithSchema(schema), WithPostgresClock(clock.Now))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		ok, err := l.Allow(ctx, "chat-stream-post:10.0.0.1", 30, 10*time.Minute)
		if err != nil || !ok {
			t.Fatalf("call %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	if ok, err := l.Allow(ctx, "chat-stream-post:10.0.0.1", 30, 10*time.Minute); err != nil || ok {
		t.Fatalf("expected 31st call rejected, ok=%v err=%v", ok, err)
	}

	clock.Advance(10*time.Minute + time.Millisecond)
	if ok, err := l.Allow(ctx, "chat-stream-post:10.0.0.1", 30, 10*time.Minute); err != nil || !ok {
		t.Fatalf("expected call after window allowed, ok=%v err=%v", ok, err)
	}
}

func TestPostgresLimiter_SweepsExpiredRowsOfOtherKeys(t *testing.T) {
	t.Parallel()

	pool := pgtest.MustOpenPool(t)
	defer pool.Close()
	schema := pgtest.MustCreateSchema(t, pool, "chatgate_rl_it", SchemaSQL)

	clock := &fakeClock{now: time.Now().UTC()}
	l, err := NewPostgresLimiter(pool, WithSchema(schema), WithPostgresClock(clock.Now), WithSweepInterval(time.Minute))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ctx := context.Background()
	events := pgx.Identifier{schema, "rate_limit_events"}.Sanitize()
	countKey := func(key string) int {
		t.Helper()
		var n int
		if err := pool.QueryRow(ctx, `SELECT count(*) FROM `+events+` WHERE key = $1`, key).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", key, err)
		}
		return n
	}

	if ok, err := l.Allow(ctx, "chat-stream-post:10.0.0.9", 30, 10*time.Minute); err != nil || !ok {
		t.Fatalf("one-off key: ok=%v err=%v", ok, err)
	}
	if ok, err := l.Allow(ctx, "invite-post:10.0.0.2", 5, time.Hour); err != nil || !ok {
		t.Fatalf("long window key: ok=%v err=%v", ok, err)
	}

	clock.Advance(10*time.Minute + time.Millisecond)
	if ok, err := l.Allow(ctx, "chat-stream-post:10.0.0.1", 30, 10*time.Minute); err != nil || !ok {
		t.Fatalf("other key: ok=%v err=%v", ok, err)
	}

	if n := countKey("chat-stream-post:10.0.0.9"); n != 0 {
		t.Fatalf("expected expired rows of an idle key swept, got %d", n)
	}
	if n := countKey("invite-post:10.0.0.2"); n != 1 {
		t.Fatalf("expected rows still inside their own window kept, got %d", n)
	}
	if n := countKey("chat-stream-post:10.0.0.1"); n != 1 {
		t.Fatalf("expected the fresh row kept, got %d", n)
	}
}

func TestPostgresLimiter_ConcurrentNeverOverAdmits(t *testing.T) {
	t.Parallel()

	pool := pgtest.MustOpenPool(t)
	defer pool.Close()
	schema := pgtest.MustCreateSchema(t, pool, "chatgate_rl_it", SchemaSQL)

	l, err := NewPostgresLimiter(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Allow(context.Background(), "burst", 5, time.Minute)
			if err != nil {
				t.Errorf("allow: %v", err)
				return
			}
			if ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 5 {
		t.Fatalf("expected exactly 5 admitted, got %d", got)
	}
}
