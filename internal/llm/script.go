package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrScriptExhausted is returned when a Script has no replies left.
var ErrScriptExhausted = errors.New("script exhausted")

// Reply is one scripted outcome.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Script is a Generator that returns replies in order. It records every
// request it receives and is safe for concurrent use.
type Script struct {
	mu      sync.Mutex
	replies []Reply
	next    int
	calls   []Request
	// Loop restarts from the first reply after the last one.
	Loop bool
}

// NewScript returns a Script with the given replies.
func NewScript(replies ...Reply) *Script {
	return &Script{replies: replies}
}

// Texts is shorthand for a Script of successful replies.
func Texts(texts ...string) *Script {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return NewScript(replies...)
}

// Generate implements Generator.
func (s *Script) Generate(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	if s.next >= len(s.replies) {
		if !s.Loop || len(s.replies) == 0 {
			s.mu.Unlock()
			return nil, NewFatalError(ErrScriptExhausted)
		}
		s.next = 0
	}
	r := s.replies[s.next]
	s.next++
	s.mu.Unlock()

	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &Response{
		Text:         r.Text,
		InputTokens:  EstimateTokens(req.System + req.User),
		OutputTokens: EstimateTokens(r.Text),
		FinishReason: "stop",
		Model:        "script",
	}, nil
}

// Calls returns a copy of the recorded requests.
func (s *Script) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// CallCount returns the number of Generate calls so far.
func (s *Script) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
