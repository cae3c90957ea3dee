package chat

import (
	"context"
	"errors"
	"sync"

	"chatgate/cmd/internal/catalog"
	"chatgate/cmd/internal/invite"
	"chatgate/cmd/internal/llm"
)

// fakeStream replays deltas, then ends with err (may be nil).
type fakeStream struct {
	deltas []string
	err    error
	usage  llm.Usage
	// gate, when set, is received from before every delta after the first.
	gate chan struct{}

	i      int
	cur    string
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.i >= len(s.deltas) {
		return false
	}
	if s.gate != nil && s.i > 0 {
		<-s.gate
	}
	s.cur = s.deltas[s.i]
	s.i++
	return true
}

func (s *fakeStream) Delta() string { return s.cur }

func (s *fakeStream) Usage() llm.Usage {
	if s.i < len(s.deltas) {
		return llm.Usage{}
	}
	return s.usage
}

func (s *fakeStream) Err() error {
	if s.i < len(s.deltas) {
		return nil
	}
	return s.err
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeProvider struct {
	stream *fakeStream
	err    error
	got    llm.Request
}

func (p *fakeProvider) Stream(_ context.Context, req llm.Request) (llm.Stream, error) {
	p.got = req
	if p.err != nil {
		return nil, p.err
	}
	return p.stream, nil
}

type fakeProviders struct {
	p   llm.Provider
	err error
}

func (f fakeProviders) For(catalog.Model) (llm.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.p, nil
}

// recordingSink captures everything the orchestrator writes.
type recordingSink struct {
	mu       sync.Mutex
	chatID   string
	alias    string
	started  bool
	deltas   []string
	finished *llm.Usage
	failed   Code
	// failAfter makes Delta fail once this many deltas were written (0 = never).
	failAfter int
	onDelta   func(n int)
}

func (s *recordingSink) Start(chatID, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started, s.chatID, s.alias = true, chatID, alias
	return nil
}

func (s *recordingSink) Delta(text string) error {
	s.mu.Lock()
	if s.failAfter > 0 && len(s.deltas) >= s.failAfter {
		s.mu.Unlock()
		return errors.New("client gone")
	}
	s.deltas = append(s.deltas, text)
	n := len(s.deltas)
	cb := s.onDelta
	s.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	return nil
}

func (s *recordingSink) Finish(u llm.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = &u
	return nil
}

func (s *recordingSink) Fail(code Code, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = code
	return nil
}

type fakeResolver struct {
	sessions map[string]invite.Session
	err      error
	calls    int
}

func (r *fakeResolver) Resolve(_ context.Context, tok string) (invite.Session, bool, error) {
	r.calls++
	if r.err != nil {
		return invite.Session{}, false, r.err
	}
	s, ok := r.sessions[tok]
	return s, ok, nil
}

type fakeOwners map[string]string

func (f fakeOwners) OwnerOf(_ context.Context, chatID string) (string, bool, error) {
	s, ok := f[chatID]
	return s, ok, nil
}

func envLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}
