package chatapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"chatgate/cmd/internal/chat"
	"chatgate/cmd/internal/llm"

	"github.com/coder/websocket"
)

const wsFirstFrameTimeout = 30 * time.Second

// handleChatWS runs one chat turn over a WebSocket. The first text frame carries the same payload
// as POST /chat; events are relayed as JSON text frames and the server closes when the turn ends.
func (h *Handler) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// Reject before upgrading so plain HTTP clients get a status code.
	sessionToken := h.sessionToken(r)
	if sessionToken == "" {
		writeError(w, chat.CodeUnauthorized, "invite session required")
		return
	}
	clientID := h.clientID(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.WSOriginPatterns,
	})
	if err != nil {
		h.log.Info("chat.ws.accept.fail", "err", err, "origin", r.Header.Get("Origin"))
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(h.cfg.MaxBodyBytes)

	readCtx, cancel := context.WithTimeout(r.Context(), wsFirstFrameTimeout)
	mt, payload, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		h.log.Info("chat.ws.read.fail", "close_status", websocket.CloseStatus(err), "err", err)
		return
	}
	if mt != websocket.MessageText {
		_ = conn.Close(websocket.StatusUnsupportedData, "text frame required")
		return
	}

	// Further reads only service control frames; ctx ends when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	sink := &wsSink{ctx: ctx, conn: conn, timeout: h.cfg.WSWriteTimeout}

	prep, err := h.normalizer.Normalize(payload)
	if err != nil {
		h.wsReject(sink, err)
		return
	}
	sess, err := h.authorizer.Authorize(ctx, clientID, sessionToken, requestedAlias(prep))
	if err != nil {
		h.log.Info("chat.ws.authorize.fail", "code", chat.AsError(err).Code)
		h.wsReject(sink, err)
		return
	}
	if err := h.orchestrator.Stream(ctx, prep, sess, sink); err != nil {
		h.wsReject(sink, err)
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func (h *Handler) wsReject(sink *wsSink, err error) {
	ce := chat.AsError(err)
	_ = sink.Fail(ce.Code, ce.Msg)
	_ = sink.conn.Close(websocket.StatusPolicyViolation, string(ce.Code))
}

// wsSink writes a turn as JSON text frames.
type wsSink struct {
	ctx     context.Context
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSink) Start(chatID, alias string) error {
	return s.send(streamEvent{Type: eventStart, ChatID: chatID, Model: alias})
}

func (s *wsSink) Delta(text string) error {
	return s.send(streamEvent{Type: eventTextDelta, Delta: text})
}

func (s *wsSink) Finish(usage llm.Usage) error {
	return s.send(streamEvent{Type: eventFinish, Usage: &usage})
}

func (s *wsSink) Fail(code chat.Code, msg string) error {
	return s.send(streamEvent{Type: eventError, Code: code, Error: msg})
}

func (s *wsSink) send(ev streamEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, b)
}
