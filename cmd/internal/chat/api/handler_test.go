package chatapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"chatgate/cmd/internal/catalog"
	"chatgate/cmd/internal/chat"
	"chatgate/cmd/internal/conversation"
	"chatgate/cmd/internal/ids"
	"chatgate/cmd/internal/invite"
	"chatgate/cmd/internal/llm"
	"chatgate/cmd/internal/ratelimit"
	"chatgate/cmd/internal/share"
	"chatgate/cmd/security/token"

	"github.com/coder/websocket"
)

const (
	ownedChat   = "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	foreignChat = "6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f"
)

// scriptedStream replays deltas and then ends with err.
type scriptedStream struct {
	deltas []string
	err    error
	usage  llm.Usage
	i      int
	cur    string
}

func (s *scriptedStream) Next() bool {
	if s.i >= len(s.deltas) {
		return false
	}
	s.cur = s.deltas[s.i]
	s.i++
	return true
}

func (s *scriptedStream) Delta() string { return s.cur }
func (s *scriptedStream) Usage() llm.Usage {
	if s.err != nil {
		return llm.Usage{}
	}
	return s.usage
}
func (s *scriptedStream) Err() error {
	if s.i < len(s.deltas) {
		return nil
	}
	return s.err
}
func (s *scriptedStream) Close() error { return nil }

type scriptedProvider struct {
	deltas []string
	err    error
}

func (p scriptedProvider) Stream(context.Context, llm.Request) (llm.Stream, error) {
	return &scriptedStream{
		deltas: p.deltas,
		err:    p.err,
		usage:  llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}, nil
}

type providerSource struct{ p llm.Provider }

func (s providerSource) For(catalog.Model) (llm.Provider, error) { return s.p, nil }

type testEnv struct {
	srv      *httptest.Server
	cfg      Config
	convs    *conversation.MemoryStore
	sessions *invite.MemoryStore
	invites  *invite.Service
	turns    chan chat.Turn
}

func newTestEnv(t *testing.T, provider llm.Provider, authOpts ...chat.AuthorizerOption) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat := catalog.Default(catalog.WithEnvLookup(func(k string) (string, bool) {
		if k == "OPENAI_API_KEY" {
			return "sk-test", true
		}
		return "", false
	}))

	env := &testEnv{
		convs:    conversation.NewMemoryStore(),
		sessions: invite.NewMemoryStore(),
		turns:    make(chan chat.Turn, 16),
	}
	invites, err := invite.NewService(env.sessions)
	if err != nil {
		t.Fatalf("invite.NewService: %v", err)
	}
	env.invites = invites

	shares, err := share.NewService(bytes.Repeat([]byte("s"), token.MinSecretBytes))
	if err != nil {
		t.Fatalf("share.NewService: %v", err)
	}

	limiter := ratelimit.NewRecordLimiter(ratelimit.NewMemoryRecordStore())
	authOpts = append([]chat.AuthorizerOption{chat.WithAuthorizerLogger(log)}, authOpts...)
	orch := chat.NewOrchestrator(providerSource{p: provider},
		chat.WithOwnerLookup(env.convs),
		chat.WithOrchestratorLogger(log),
		chat.WithFinishHook(func(turn chat.Turn) {
			_ = env.convs.AppendTurn(context.Background(), conversation.AppendTurnInput{
				ChatID:        turn.ChatID,
				SessionID:     turn.SessionID,
				UserMessage:   turn.UserMessage,
				AssistantText: turn.AssistantText,
				Usage:         turn.Usage,
				UserAt:        turn.StartedAt,
				Now:           turn.FinishedAt,
			})
			env.turns <- turn
		}),
	)

	env.cfg = DefaultConfig()
	env.cfg.CookieSecure = false
	env.cfg.PublicBaseURL = "https://chat.example.com"

	h, err := NewHandler(log, env.cfg, Deps{
		Normalizer:    chat.NewNormalizer(cat),
		Authorizer:    chat.NewAuthorizer(limiter, invites, cat, authOpts...),
		Orchestrator:  orch,
		Conversations: env.convs,
		Invites:       invites,
		Shares:        shares,
		Limiter:       limiter,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	env.srv = httptest.NewServer(mux)
	t.Cleanup(env.srv.Close)
	return env
}

// session installs a session and returns its plain token.
func (e *testEnv) session(id string, quota, consumed int64) string {
	now := time.Now().UTC()
	tok := "tok-" + id
	e.sessions.PutSession(token.HashSessionTokenHex(tok, nil), invite.Session{
		ID:             id,
		InviteCodeID:   "code-" + id,
		TokenQuota:     quota,
		TokensConsumed: consumed,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	})
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.AddCookie(&http.Cookie{Name: e.cfg.SessionCookieName, Value: tok})
	}
	res, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, b
}

func mustErrorCode(t *testing.T, res *http.Response, body []byte, status int, code chat.Code) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected status %d, got %d body=%s", status, res.StatusCode, body)
	}
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	if er.Code != code || er.Error == "" {
		t.Fatalf("expected code %s with message, got %+v", code, er)
	}
}

func sseEvents(t *testing.T, body []byte) ([]streamEvent, bool) {
	t.Helper()
	var (
		out  []streamEvent
		done bool
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if line == sseDone {
			done = true
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		out = append(out, ev)
	}
	return out, done
}

const helloBody = `{"messages":[{"role":"user","content":"hi"}]}`

func TestChat_UnauthenticatedIs401(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{deltas: []string{"x"}})

	res, body := env.do(t, http.MethodPost, "/chat", "", helloBody)
	mustErrorCode(t, res, body, http.StatusUnauthorized, chat.CodeUnauthorized)

	res, body = env.do(t, http.MethodPost, "/chat", "tok-unknown", helloBody)
	mustErrorCode(t, res, body, http.StatusUnauthorized, chat.CodeUnauthorized)
}

func TestChat_EmptyMessagesIs400(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{deltas: []string{"x"}})
	tok := env.session("s1", 100, 0)

	for _, body := range []string{`{"messages":[]}`, `{"messages":[null]}`, `{}`, `not json`} {
		res, b := env.do(t, http.MethodPost, "/chat", tok, body)
		mustErrorCode(t, res, b, http.StatusBadRequest, chat.CodeInvalidRequest)
	}
}

func TestChat_ExhaustedQuotaIs403(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{deltas: []string{"x"}})
	tok := env.session("s1", 100, 100)

	res, body := env.do(t, http.MethodPost, "/chat", tok, helloBody)
	mustErrorCode(t, res, body, http.StatusForbidden, chat.CodeInviteExhausted)
}

func TestChat_RateLimitedSetsRetryAfter(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{deltas: []string{"x"}}, chat.WithRateLimit(1, time.Minute))
	tok := env.session("s1", 100, 0)

	res, _ := env.do(t, http.MethodPost, "/chat", tok, helloBody)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected first request to stream, got %d", res.StatusCode)
	}
	res, body := env.do(t, http.MethodPost, "/chat", tok, helloBody)
	mustErrorCode(t, res, body, http.StatusTooManyRequests, chat.CodeRateLimited)
	if got := res.Header.Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After=60, got %q", got)
	}
}

func TestChat_StreamsAndPersistsTurn(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{deltas: []string{"Hel", "lo"}})
	tok := env.session("s1", 100, 0)

	res, body := env.do(t, http.MethodPost, "/chat", tok, `{"messages":[{"role":"user","content":"hi"}],"chatId":"not-a-uuid","model":"pro"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", res.StatusCode, body)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	chatID := res.Header.Get("x-chat-id")
	if !ids.IsChatID(chatID) {
		t.Fatalf("expected generated chat id header, got %q", chatID)
	}
	if alias := res.Header.Get("x-model-alias"); alias != "pro" {
		t.Fatalf("expected alias header pro, got %q", alias)
	}

	events, done := sseEvents(t, body)
	if !done {
		t.Fatalf("stream not terminated with [DONE]: %s", body)
	}
	var types []string
	var text strings.Builder
	for _, ev := range events {
		types = append(types, ev.Type)
		text.WriteString(ev.Delta)
	}
	if got := strings.Join(types, ","); got != "start,text-delta,text-delta,finish" {
		t.Fatalf("unexpected event sequence %s", got)
	}
	if events[0].ChatID != chatID || events[0].Model != "pro" {
		t.Fatalf("unexpected start event %+v", events[0])
	}
	if text.String() != "Hello" {
		t.Fatalf("expected Hello, got %q", text.String())
	}
	if u := events[len(events)-1].Usage; u == nil || u.TotalTokens != 5 {
		t.Fatalf("expected usage on finish, got %+v", u)
	}

	select {
	case turn := <-env.turns:
		if turn.ChatID != chatID || turn.AssistantText != "Hello" || turn.SessionID != "s1" {
			t.Fatalf("unexpected turn %+v", turn)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("finish hook did not fire")
	}

	res, body = env.do(t, http.MethodGet, "/chat/conversations/"+chatID, tok, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected hydrated conversation, got %d body=%s", res.StatusCode, body)
	}
	var mr messagesResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(mr.Messages) != 2 || mr.Messages[0].Role != conversation.RoleUser || mr.Messages[1].Role != conversation.RoleAssistant {
		t.Fatalf("unexpected messages %+v", mr.Messages)
	}
}

func TestChat_UpstreamFailureBeforeFirstByteIs502(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{err: errors.New("boom")})
	tok := env.session("s1", 100, 0)

	res, body := env.do(t, http.MethodPost, "/chat", tok, helloBody)
	mustErrorCode(t, res, body, http.StatusBadGateway, chat.CodeUpstream)
	if strings.Contains(string(body), "boom") {
		t.Fatalf("upstream detail leaked: %s", body)
	}
}

func TestChat_MidStreamFailureEmitsErrorEvent(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{deltas: []string{"par"}, err: errors.New("reset")})
	tok := env.session("s1", 100, 0)

	res, body := env.do(t, http.MethodPost, "/chat", tok, helloBody)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 once streaming began, got %d", res.StatusCode)
	}
	events, done := sseEvents(t, body)
	if !done {
		t.Fatalf("expected [DONE] after error event")
	}
	last := events[len(events)-1]
	if last.Type != eventError || last.Code != chat.CodeUpstream {
		t.Fatalf("expected trailing error event, got %+v", last)
	}
}

func seedConversations(t *testing.T, st conversation.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	user := json.RawMessage(`{"role":"user","content":"hi"}`)

	// ownedChat: 3 rows, older. foreignChat: 1 row owned by s2.
	turns := []conversation.AppendTurnInput{
		{ChatID: ownedChat, SessionID: "s1", UserMessage: user, AssistantText: "a", Now: base},
		{ChatID: ownedChat, SessionID: "s1", AssistantText: "b", Now: base.Add(time.Minute)},
		{ChatID: foreignChat, SessionID: "s2", AssistantText: "c", Now: base.Add(2 * time.Minute)},
	}
	for _, in := range turns {
		if err := st.AppendTurn(ctx, in); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}
}

func TestConversations_SortedByRecency(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{})
	tok := env.session("s1", 100, 0)
	seedConversations(t, env.convs)
	newer := "0b8e3a52-6f7d-4e44-9f5c-2a1b3c4d5e6f"
	if err := env.convs.AppendTurn(context.Background(), conversation.AppendTurnInput{
		ChatID: newer, SessionID: "s1", AssistantText: "d", Now: time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	res, body := env.do(t, http.MethodGet, "/chat/conversations", tok, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var cr conversationsResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cr.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %+v", cr.Conversations)
	}
	if cr.Conversations[0].ChatID != newer || cr.Conversations[0].MessageCount != 1 {
		t.Fatalf("unexpected first summary %+v", cr.Conversations[0])
	}
	if cr.Conversations[1].ChatID != ownedChat || cr.Conversations[1].MessageCount != 3 {
		t.Fatalf("unexpected second summary %+v", cr.Conversations[1])
	}

	res, body = env.do(t, http.MethodGet, "/chat/conversations", "", "")
	mustErrorCode(t, res, body, http.StatusUnauthorized, chat.CodeUnauthorized)
}

func TestConversation_NotOwnedIs403(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{})
	tok := env.session("s1", 100, 0)
	seedConversations(t, env.convs)

	res, body := env.do(t, http.MethodGet, "/chat/conversations/"+foreignChat, tok, "")
	mustErrorCode(t, res, body, http.StatusForbidden, chat.CodeForbidden)

	res, body = env.do(t, http.MethodGet, "/chat/conversations/not-a-uuid", tok, "")
	mustErrorCode(t, res, body, http.StatusBadRequest, chat.CodeInvalidRequest)
}

func TestShare(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{})
	tok := env.session("s1", 100, 0)
	seedConversations(t, env.convs)

	tests := []struct {
		name   string
		tok    string
		body   string
		status int
		code   chat.Code
	}{
		{name: "no session", tok: "", body: `{"chatId":"` + ownedChat + `"}`, status: http.StatusUnauthorized, code: chat.CodeUnauthorized},
		{name: "non uuid", tok: tok, body: `{"chatId":"not-a-uuid"}`, status: http.StatusBadRequest, code: chat.CodeInvalidRequest},
		{name: "unknown field", tok: tok, body: `{"chatId":"` + ownedChat + `","x":1}`, status: http.StatusBadRequest, code: chat.CodeInvalidRequest},
		{name: "foreign chat", tok: tok, body: `{"chatId":"` + foreignChat + `"}`, status: http.StatusForbidden, code: chat.CodeForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, body := env.do(t, http.MethodPost, "/chat/share", tc.tok, tc.body)
			mustErrorCode(t, res, body, tc.status, tc.code)
		})
	}

	res, body := env.do(t, http.MethodPost, "/chat/share", tok, `{"chatId":"`+ownedChat+`"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", res.StatusCode, body)
	}
	var sr shareResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sr.ChatID != ownedChat || !strings.HasPrefix(sr.ShareURL, "https://chat.example.com/chat/shared/"+ownedChat+"?token=") {
		t.Fatalf("unexpected share response %+v", sr)
	}

	u, err := url.Parse(sr.ShareURL)
	if err != nil {
		t.Fatalf("parse share url: %v", err)
	}
	res, body = env.do(t, http.MethodGet, u.RequestURI(), "", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected shared conversation, got %d body=%s", res.StatusCode, body)
	}
	var mr messagesResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mr.ChatID != ownedChat || len(mr.Messages) != 3 {
		t.Fatalf("unexpected shared messages %+v", mr)
	}

	shareTok := u.Query().Get("token")
	res, body = env.do(t, http.MethodGet, "/chat/shared/"+foreignChat+"?token="+url.QueryEscape(shareTok), "", "")
	mustErrorCode(t, res, body, http.StatusForbidden, chat.CodeForbidden)

	res, body = env.do(t, http.MethodGet, "/chat/shared/"+ownedChat+"?token=x"+url.QueryEscape(shareTok), "", "")
	mustErrorCode(t, res, body, http.StatusForbidden, chat.CodeForbidden)
}

func TestRedeem(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{})
	_, plain, err := env.invites.CreateCode(context.Background(), invite.CreateInput{TokenQuota: 500})
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}

	res, body := env.do(t, http.MethodPost, "/invite/redeem", "", `{"code":"`+plain+`"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", res.StatusCode, body)
	}
	var rr redeemResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.SessionID == "" || rr.TokenQuota != 500 || rr.TokensConsumed != 0 {
		t.Fatalf("unexpected redeem response %+v", rr)
	}

	var sessionCookie *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == env.cfg.SessionCookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil || sessionCookie.Value == "" || !sessionCookie.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie, got %+v", sessionCookie)
	}

	res, body = env.do(t, http.MethodGet, "/chat/conversations", sessionCookie.Value, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected redeemed session to authenticate, got %d body=%s", res.StatusCode, body)
	}

	// Single-use by default.
	res, body = env.do(t, http.MethodPost, "/invite/redeem", "", `{"code":"`+plain+`"}`)
	mustErrorCode(t, res, body, http.StatusForbidden, chat.CodeForbidden)

	res, body = env.do(t, http.MethodPost, "/invite/redeem", "", `{"code":"nope"}`)
	mustErrorCode(t, res, body, http.StatusForbidden, chat.CodeForbidden)

	res, body = env.do(t, http.MethodPost, "/invite/redeem", "", `{"code":""}`)
	mustErrorCode(t, res, body, http.StatusBadRequest, chat.CodeInvalidRequest)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/chat"},
		{http.MethodPost, "/chat/conversations"},
		{http.MethodGet, "/chat/share"},
		{http.MethodGet, "/invite/redeem"},
	} {
		res, _ := env.do(t, tc.method, tc.path, "", "")
		if res.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, res.StatusCode)
		}
	}
}

func TestChatWS(t *testing.T) {
	env := newTestEnv(t, scriptedProvider{deltas: []string{"a", "b"}})
	tok := env.session("s1", 100, 0)

	res, body := env.do(t, http.MethodGet, "/chat/ws", "", "")
	mustErrorCode(t, res, body, http.StatusUnauthorized, chat.CodeUnauthorized)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/chat/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": []string{env.cfg.SessionCookieName + "=" + tok}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	if err := conn.Write(ctx, websocket.MessageText, []byte(helloBody)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var types []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("expected normal closure, got %v", err)
			}
			break
		}
		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		types = append(types, ev.Type)
	}
	if got := strings.Join(types, ","); got != "start,text-delta,text-delta,finish" {
		t.Fatalf("unexpected frames %s", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		xff        string
		realIP     string
		trustProxy bool
		want       string
	}{
		{name: "remote addr", remote: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "untrusted xff ignored", remote: "10.0.0.1:1234", xff: "1.2.3.4", want: "10.0.0.1"},
		{name: "trusted xff first valid", remote: "10.0.0.1:1234", xff: "junk, 1.2.3.4, 5.6.7.8", trustProxy: true, want: "1.2.3.4"},
		{name: "trusted real ip", remote: "10.0.0.1:1234", realIP: "9.9.9.9", trustProxy: true, want: "9.9.9.9"},
		{name: "unparseable", remote: "garbage", want: ""},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tc.remote
		if tc.xff != "" {
			r.Header.Set("X-Forwarded-For", tc.xff)
		}
		if tc.realIP != "" {
			r.Header.Set("X-Real-IP", tc.realIP)
		}
		got := clientIP(r, tc.trustProxy)
		gotS := ""
		if got != nil {
			gotS = got.String()
		}
		if gotS != tc.want {
			t.Fatalf("%s: clientIP=%q, want %q", tc.name, gotS, tc.want)
		}
	}
}
