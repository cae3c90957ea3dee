package chatapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"chatgate/cmd/internal/chat"
	"chatgate/cmd/internal/llm"
)

const (
	eventStart     = "start"
	eventTextDelta = "text-delta"
	eventFinish    = "finish"
	eventError     = "error"

	sseDone = "[DONE]"
)

// streamEvent is one event of a streamed turn, shared by the SSE and WebSocket transports.
type streamEvent struct {
	Type   string     `json:"type"`
	ChatID string     `json:"chatId,omitempty"`
	Model  string     `json:"model,omitempty"`
	Delta  string     `json:"delta,omitempty"`
	Usage  *llm.Usage `json:"usage,omitempty"`
	Code   chat.Code  `json:"code,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// sseSink writes a turn as text/event-stream. Headers are committed on Start.
type sseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w)}
}

func (s *sseSink) Start(chatID, alias string) error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Chat-Id", chatID)
	h.Set("X-Model-Alias", alias)
	// The server write timeout would cut long generations short.
	_ = s.rc.SetWriteDeadline(time.Time{})
	s.w.WriteHeader(http.StatusOK)
	return s.send(streamEvent{Type: eventStart, ChatID: chatID, Model: alias})
}

func (s *sseSink) Delta(text string) error {
	return s.send(streamEvent{Type: eventTextDelta, Delta: text})
}

func (s *sseSink) Finish(usage llm.Usage) error {
	if err := s.send(streamEvent{Type: eventFinish, Usage: &usage}); err != nil {
		return err
	}
	return s.data([]byte(sseDone))
}

func (s *sseSink) Fail(code chat.Code, msg string) error {
	if err := s.send(streamEvent{Type: eventError, Code: code, Error: msg}); err != nil {
		return err
	}
	return s.data([]byte(sseDone))
}

func (s *sseSink) send(ev streamEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.data(b)
}

func (s *sseSink) data(b []byte) error {
	if _, err := io.WriteString(s.w, "data: "); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if _, err := io.WriteString(s.w, "\n\n"); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
