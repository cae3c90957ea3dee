// Package conversation persists chat turns and answers per-session listing and ownership queries.
//
// Rows are append-only. A turn writes the user message (when present) and the assistant reply as
// separate rows sharing one chat id; the session on the first row owns the conversation.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("conversation: invalid input")
	// ErrNotOwner is returned when appending to a chat id that another session already owns.
	ErrNotOwner = errors.New("conversation: chat owned by another session")
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Usage is the token accounting recorded with an assistant row.
type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

// StoredMessage is one persisted row.
type StoredMessage struct {
	ID        string          `json:"id"`
	ChatID    string          `json:"chatId"`
	SessionID string          `json:"-"`
	Role      string          `json:"role"`
	Message   json.RawMessage `json:"message"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Summary aggregates one conversation.
type Summary struct {
	ChatID        string    `json:"chatId"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	MessageCount  int       `json:"messageCount"`
}

// AppendTurnInput describes one finished turn.
type AppendTurnInput struct {
	ChatID    string
	SessionID string
	// UserMessage is the raw latest user message; nil when the request carried none.
	UserMessage   json.RawMessage
	AssistantText string
	Usage         Usage
	// UserAt stamps the user row (request arrival); zero falls back to Now.
	UserAt time.Time
	// Now stamps the assistant row (turn finish).
	Now time.Time
}

// Store persists and queries conversation rows.
type Store interface {
	AppendTurn(ctx context.Context, in AppendTurnInput) error
	// ListConversations returns summaries for sessionID, most recent activity first.
	ListConversations(ctx context.Context, sessionID string) ([]Summary, error)
	BelongsToSession(ctx context.Context, chatID, sessionID string) (bool, error)
	// GetMessages returns all rows of chatID in ascending creation order.
	GetMessages(ctx context.Context, chatID string) ([]StoredMessage, error)
	// OwnerOf returns the owning session, or ok=false when the chat has no rows.
	OwnerOf(ctx context.Context, chatID string) (sessionID string, ok bool, err error)
}

type assistantPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// rows expands a turn into its stored rows. The assistant row sorts after the user row.
func (in AppendTurnInput) rows(newID func(time.Time) (string, error)) ([]StoredMessage, error) {
	if in.ChatID == "" || in.SessionID == "" {
		return nil, ErrInvalidInput
	}
	if len(in.UserMessage) > 0 && !json.Valid(in.UserMessage) {
		return nil, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	out := make([]StoredMessage, 0, 2)
	if len(in.UserMessage) > 0 {
		userAt := in.UserAt
		if userAt.IsZero() || userAt.After(now) {
			userAt = now
		}
		id, err := newID(userAt)
		if err != nil {
			return nil, err
		}
		out = append(out, StoredMessage{
			ID:        id,
			ChatID:    in.ChatID,
			SessionID: in.SessionID,
			Role:      RoleUser,
			Message:   in.UserMessage,
			CreatedAt: userAt,
		})
		if !now.After(userAt) {
			now = userAt.Add(time.Microsecond)
		}
	}

	payload, err := json.Marshal(assistantPayload{Role: RoleAssistant, Content: in.AssistantText, Usage: in.Usage})
	if err != nil {
		return nil, err
	}
	id, err := newID(now)
	if err != nil {
		return nil, err
	}
	out = append(out, StoredMessage{
		ID:        id,
		ChatID:    in.ChatID,
		SessionID: in.SessionID,
		Role:      RoleAssistant,
		Message:   payload,
		CreatedAt: now,
	})
	return out, nil
}
