// Package llm is the boundary to hosted language models.
package llm

import (
	"context"
	"errors"
)

var (
	ErrNoCredentials = errors.New("llm: provider credentials not configured")
	ErrUnknownModel  = errors.New("llm: unknown provider")
)

// Message is one prompt entry.
type Message struct {
	Role    string
	Content string
}

// Request describes one streamed completion.
type Request struct {
	Model     string
	Messages  []Message
	WebSearch bool
}

// Usage is the provider-reported token accounting for a completion.
type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

// Stream yields text deltas. Usage is final once Next has returned false.
type Stream interface {
	Next() bool
	Delta() string
	Usage() Usage
	Err() error
	Close() error
}

// Provider starts streamed completions.
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
