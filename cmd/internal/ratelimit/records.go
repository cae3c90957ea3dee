package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Record is one admitted event.
type Record struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

// RecordStore persists the flat record list as a whole.
type RecordStore interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

// RecordLimiter is the list-backed sliding-window limiter.
type RecordLimiter struct {
	store RecordStore
	now   func() time.Time
}

// RecordOption configures RecordLimiter.
type RecordOption func(*RecordLimiter)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) RecordOption {
	return func(l *RecordLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewRecordLimiter constructs a RecordLimiter. A nil store falls back to an in-memory list.
func NewRecordLimiter(store RecordStore, opts ...RecordOption) *RecordLimiter {
	if store == nil {
		store = NewMemoryRecordStore()
	}
	l := &RecordLimiter{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Allow prunes every record older than the window, counts survivors for key, and appends
// a new record only when the count is below limit. The pruned list is written back either way.
func (l *RecordLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if err := validate(key, limit, window); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := l.now()
	records, err := l.store.Load(ctx)
	if err != nil {
		return false, err
	}

	cut := now.Add(-window)
	kept := records[:0]
	count := 0
	for _, r := range records {
		if !r.At.After(cut) {
			continue
		}
		kept = append(kept, r)
		if r.Key == key {
			count++
		}
	}

	if count >= limit {
		if err := l.store.Save(ctx, kept); err != nil {
			return false, err
		}
		return false, nil
	}

	kept = append(kept, Record{Key: key, At: now})
	if err := l.store.Save(ctx, kept); err != nil {
		return false, err
	}
	return true, nil
}

// MemoryRecordStore keeps the record list in process memory.
// Load and Save are individually safe; the cycle between them is not.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryRecordStore constructs an empty MemoryRecordStore.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{}
}

// Load returns a copy of the current record list.
func (s *MemoryRecordStore) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...), nil
}

// Save replaces the record list.
func (s *MemoryRecordStore) Save(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records = append(s.records[:0:0], records...)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored records.
func (s *MemoryRecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
