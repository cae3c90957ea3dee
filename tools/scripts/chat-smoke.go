// Package main provides a CI-friendly end-to-end smoke test for a running chatgate server.
//
// It validates:
//   - invite redemption sets a session cookie
//   - a chat turn over /chat/ws streams start, deltas, then finish
//   - the finished turn is persisted and hydrates via /chat/conversations/{chatId}
//
// The server needs a configured model provider; point -model at a cheap alias.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultCookie = "chatgate_session"
	maxReadBytes  = 1 << 20 // 1MiB
)

// event mirrors the JSON frames the server emits on /chat/ws.
type event struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId,omitempty"`
	Model  string `json:"model,omitempty"`
	Delta  string `json:"delta,omitempty"`
	Usage  *struct {
		PromptTokens     int64 `json:"promptTokens"`
		CompletionTokens int64 `json:"completionTokens"`
		TotalTokens      int64 `json:"totalTokens"`
	} `json:"usage,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "chatgate base URL")
		code    = flag.String("code", "", "invite code to redeem (ignored when -session is set)")
		session = flag.String("session", os.Getenv("CHATGATE_SMOKE_SESSION"), "existing session token")
		cookie  = flag.String("cookie", defaultCookie, "session cookie name")
		origin  = flag.String("origin", "", "Origin header to send on the WebSocket handshake")
		model   = flag.String("model", "", "model alias (server default when empty)")
		text    = flag.String("text", "Reply with the single word: pong", "user message")
		timeout = flag.Duration("timeout", 60*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}

	root := context.Background()
	hc := &http.Client{Timeout: *timeout}

	tok := strings.TrimSpace(*session)
	if tok == "" {
		if strings.TrimSpace(*code) == "" {
			fatalf("one of -code or -session is required")
		}
		tok = mustRedeem(root, hc, base, *cookie, *code)
		if *verbose {
			fmt.Println("redeemed invite")
		}
	}

	chatID, reply, total := mustChatTurn(root, base, *cookie, tok, *origin, *model, *text, *timeout)
	if *verbose {
		fmt.Printf("turn: chat_id=%s reply=%q total_tokens=%d\n", chatID, reply, total)
	}

	n := mustHydrate(root, hc, base, *cookie, tok, chatID, *timeout)

	fmt.Printf("OK: chat_id=%s messages=%d total_tokens=%d\n", chatID, n, total)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func endpoint(base *url.URL, path string) string {
	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func wsEndpoint(base *url.URL, path string) string {
	u := *base
	u.Scheme = "ws"
	if base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func mustRedeem(ctx context.Context, hc *http.Client, base *url.URL, cookieName, code string) string {
	body, _ := json.Marshal(map[string]string{"code": code})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(base, "/invite/redeem"), bytes.NewReader(body))
	if err != nil {
		fatalf("redeem request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := hc.Do(req)
	if err != nil {
		fatalf("redeem: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		fatalf("redeem: status=%d body=%s", res.StatusCode, readSnippet(res.Body))
	}
	for _, c := range res.Cookies() {
		if c.Name == cookieName && c.Value != "" {
			return c.Value
		}
	}
	fatalf("redeem: response did not set cookie %q", cookieName)
	return ""
}

func mustChatTurn(parent context.Context, base *url.URL, cookieName, tok, origin, model, text string, stepTimeout time.Duration) (chatID, reply string, total int64) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Cookie", (&http.Cookie{Name: cookieName, Value: tok}).String())
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsEndpoint(base, "/chat/ws"), &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer closeWS(conn)
	conn.SetReadLimit(maxReadBytes)

	frame := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": text}},
	}
	if model != "" {
		frame["model"] = model
	}
	if err := conn.Write(ctx, websocket.MessageText, mustJSON(frame)); err != nil {
		fatalf("send request: %v", err)
	}

	var out strings.Builder
	for i := 0; ; i++ {
		ev := mustReadEvent(ctx, conn)
		if i == 0 && ev.Type != "start" && ev.Type != "error" {
			fatalf("first frame: type=%q want start", ev.Type)
		}
		switch ev.Type {
		case "start":
			if ev.ChatID == "" {
				fatalf("start frame missing chatId")
			}
			chatID = ev.ChatID
		case "text-delta":
			out.WriteString(ev.Delta)
		case "finish":
			if ev.Usage == nil {
				fatalf("finish frame missing usage")
			}
			if strings.TrimSpace(out.String()) == "" {
				fatalf("finished without any text")
			}
			return chatID, out.String(), ev.Usage.TotalTokens
		case "error":
			fatalf("server error: code=%s error=%q", ev.Code, ev.Error)
		default:
			fatalf("unexpected frame type %q", ev.Type)
		}
	}
}

func mustReadEvent(ctx context.Context, conn *websocket.Conn) event {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read: close_status=%d err=%v", websocket.CloseStatus(err), err)
	}
	if mt != websocket.MessageText {
		fatalf("unsupported message type: %v", mt)
	}
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		fatalf("bad json: %v", err)
	}
	return ev
}

// mustHydrate polls until the turn is visible; persistence runs after the stream closes.
func mustHydrate(parent context.Context, hc *http.Client, base *url.URL, cookieName, tok, chatID string, stepTimeout time.Duration) int {
	deadline := time.Now().Add(stepTimeout)
	for {
		n, status := fetchMessages(parent, hc, base, cookieName, tok, chatID)
		if status == http.StatusOK && n >= 2 {
			return n
		}
		if time.Now().After(deadline) {
			fatalf("hydrate: status=%d messages=%d, want at least 2", status, n)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func fetchMessages(ctx context.Context, hc *http.Client, base *url.URL, cookieName, tok, chatID string) (int, int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(base, "/chat/conversations/"+url.PathEscape(chatID)), nil)
	if err != nil {
		fatalf("hydrate request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: cookieName, Value: tok})

	res, err := hc.Do(req)
	if err != nil {
		fatalf("hydrate: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, res.StatusCode
	}

	var body struct {
		ChatID   string            `json:"chatId"`
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		fatalf("hydrate: bad json: %v", err)
	}
	if body.ChatID != chatID {
		fatalf("hydrate: chatId=%q want %q", body.ChatID, chatID)
	}
	return len(body.Messages), res.StatusCode
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.CloseNow()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
