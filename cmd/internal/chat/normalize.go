package chat

import (
	"bytes"
	"encoding/json"
	"strings"

	"chatgate/cmd/internal/catalog"
	"chatgate/cmd/internal/ids"
	"chatgate/cmd/internal/llm"
)

// rawRequest is the inbound POST /chat payload. Unknown fields are ignored so
// richer chat clients can send their own metadata.
type rawRequest struct {
	Messages         []json.RawMessage `json:"messages"`
	Model            string            `json:"model"`
	ChatID           string            `json:"chatId"`
	WebSearchEnabled bool              `json:"webSearchEnabled"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Parts   []textPart      `json:"parts"`
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PreparedRequest is a validated, canonical chat request.
type PreparedRequest struct {
	ChatID string
	Model  catalog.Model
	// AliasRequested is true when the caller named a model explicitly.
	AliasRequested bool
	Messages       []llm.Message
	// LatestUser is the raw last user message, nil when the request has none.
	LatestUser json.RawMessage
	WebSearch  bool
}

// Normalizer validates and canonicalizes inbound chat requests.
type Normalizer struct {
	catalog *catalog.Registry
}

// NewNormalizer constructs a Normalizer over a model catalog.
func NewNormalizer(cat *catalog.Registry) *Normalizer {
	return &Normalizer{catalog: cat}
}

// Normalize parses raw into a PreparedRequest. It fails with INVALID_REQUEST on malformed JSON
// an empty message list, or a message without a role. Invalid chat ids are replaced, never
// rejected; valid ones keep their value in canonical lowercase form.
func (n *Normalizer) Normalize(raw []byte) (PreparedRequest, error) {
	var req rawRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&req); err != nil {
		return PreparedRequest{}, newError(CodeInvalidRequest, "invalid JSON", err)
	}
	if dec.More() {
		return PreparedRequest{}, newError(CodeInvalidRequest, "invalid JSON", nil)
	}
	if len(req.Messages) == 0 {
		return PreparedRequest{}, newError(CodeInvalidRequest, "messages must not be empty", nil)
	}

	out := PreparedRequest{
		Messages:  make([]llm.Message, 0, len(req.Messages)),
		WebSearch: req.WebSearchEnabled,
	}
	for _, m := range req.Messages {
		var rm rawMessage
		if err := json.Unmarshal(m, &rm); err != nil {
			return PreparedRequest{}, newError(CodeInvalidRequest, "invalid message", err)
		}
		role := strings.ToLower(strings.TrimSpace(rm.Role))
		if role == "" {
			return PreparedRequest{}, newError(CodeInvalidRequest, "message role is required", nil)
		}
		out.Messages = append(out.Messages, llm.Message{Role: role, Content: messageText(rm)})
	}
	for i := len(out.Messages) - 1; i >= 0; i-- {
		if out.Messages[i].Role == "user" {
			out.LatestUser = req.Messages[i]
			break
		}
	}

	out.ChatID = strings.TrimSpace(req.ChatID)
	if out.ChatID == "" || !ids.IsChatID(out.ChatID) {
		out.ChatID = ids.NewChatID()
	} else {
		// UUIDs compare case-insensitively; stores key on the canonical lowercase form.
		out.ChatID = strings.ToLower(out.ChatID)
	}

	alias := strings.TrimSpace(req.Model)
	out.AliasRequested = alias != ""
	out.Model = n.catalog.Resolve(alias)
	return out, nil
}

// messageText flattens string content or text parts into one prompt string.
func messageText(m rawMessage) string {
	if len(m.Content) > 0 {
		var s string
		if err := json.Unmarshal(m.Content, &s); err == nil {
			return s
		}
		var parts []textPart
		if err := json.Unmarshal(m.Content, &parts); err == nil {
			return joinText(parts)
		}
	}
	return joinText(m.Parts)
}

func joinText(parts []textPart) string {
	var sb strings.Builder
	for _, p := range parts {
		if p.Type != "" && p.Type != "text" {
			continue
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}
