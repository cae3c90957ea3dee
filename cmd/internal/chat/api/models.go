package chatapi

import (
	"time"

	"chatgate/cmd/internal/conversation"
)

type shareRequest struct {
	ChatID string `json:"chatId"`
}

type shareResponse struct {
	ChatID   string `json:"chatId"`
	ShareURL string `json:"shareUrl"`
}

type conversationsResponse struct {
	Conversations []conversation.Summary `json:"conversations"`
}

type messagesResponse struct {
	ChatID   string                       `json:"chatId"`
	Messages []conversation.StoredMessage `json:"messages"`
}

type redeemRequest struct {
	Code string `json:"code"`
}

type redeemResponse struct {
	SessionID      string    `json:"sessionId"`
	TokenQuota     int64     `json:"tokenQuota"`
	TokensConsumed int64     `json:"tokensConsumed"`
	ExpiresAt      time.Time `json:"expiresAt"`
}
