package conversation

import (
	"context"
	"sort"
	"sync"

	"chatgate/cmd/internal/ids"
)

// MemoryStore is a dev-only fallback when DB is not configured.
type MemoryStore struct {
	mu    sync.Mutex
	chats map[string][]StoredMessage
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string][]StoredMessage)}
}

// AppendTurn implements Store.
func (s *MemoryStore) AppendTurn(ctx context.Context, in AppendTurnInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows, err := in.rows(ids.NewULID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.chats[in.ChatID]
	if len(existing) > 0 && existing[0].SessionID != in.SessionID {
		return ErrNotOwner
	}
	s.chats[in.ChatID] = append(existing, rows...)
	return nil
}

// ListConversations implements Store.
func (s *MemoryStore) ListConversations(ctx context.Context, sessionID string) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	out := make([]Summary, 0)
	for chatID, msgs := range s.chats {
		if len(msgs) == 0 || msgs[0].SessionID != sessionID {
			continue
		}
		sum := Summary{ChatID: chatID, MessageCount: len(msgs)}
		for _, m := range msgs {
			if m.CreatedAt.After(sum.LastMessageAt) {
				sum.LastMessageAt = m.CreatedAt
			}
		}
		out = append(out, sum)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

// BelongsToSession implements Store.
func (s *MemoryStore) BelongsToSession(ctx context.Context, chatID, sessionID string) (bool, error) {
	owner, ok, err := s.OwnerOf(ctx, chatID)
	if err != nil || !ok {
		return false, err
	}
	return owner == sessionID, nil
}

// GetMessages implements Store.
func (s *MemoryStore) GetMessages(ctx context.Context, chatID string) ([]StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := append([]StoredMessage(nil), s.chats[chatID]...)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// OwnerOf implements Store.
func (s *MemoryStore) OwnerOf(ctx context.Context, chatID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.chats[chatID]
	if len(msgs) == 0 {
		return "", false, nil
	}
	return msgs[0].SessionID, true, nil
}
