package model

import (
	"context"
	"strings"
	"sync"

	"github.com/hupe1980/streamchat/core"
)

// TokenUsage captures token accounting information returned by a provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request represents a provider-agnostic generation request.
//
// Instructions is the system prompt; Messages is the prior transcript
// followed by the current user message.
type Request struct {
	Instructions string         `json:"instructions,omitempty"`
	Messages     []core.Message `json:"messages"`
	Stream       bool           `json:"stream,omitempty"`
}

// Response is either a partial text delta (Partial=true) or the final
// aggregate of the whole generation.
type Response struct {
	ID           string      `json:"id,omitempty"`
	Partial      bool        `json:"partial,omitempty"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Model is the interface all language model backends implement.
//
// Generate returns a response channel and an error channel. Both are closed
// when generation ends. With Stream=true partial responses precede the final
// one; without it only the final response is sent.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
}

// Collect drains a Generate call and returns the final text.
func Collect(ctx context.Context, m Model, req Request) (string, error) {
	out, errs := m.Generate(ctx, req)

	var b strings.Builder
	final := ""
	done := false
	for resp := range out {
		if resp.Partial {
			b.WriteString(resp.Text)
			continue
		}
		final, done = resp.Text, true
	}
	if err := <-errs; err != nil {
		return "", err
	}
	if done {
		return final, nil
	}
	return b.String(), nil
}

// LastUserText returns the text of the last user message of the request.
func LastUserText(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			return req.Messages[i].Content.Text
		}
	}
	return ""
}

// MockModel is a deterministic Model for tests and offline demos.
//
// Replies are looked up by the last user message. Unknown prompts get the
// fallback reply. Streaming emits the reply word by word.
type MockModel struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]error
	fallback  string
	requests  []Request
}

// NewMockModel creates a MockModel that answers unknown prompts with fallback.
func NewMockModel(fallback string) *MockModel {
	return &MockModel{
		responses: make(map[string]string),
		failures:  make(map[string]error),
		fallback:  fallback,
	}
}

// AddResponse registers the reply for prompt.
func (m *MockModel) AddResponse(prompt, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = reply
}

// AddFailure makes prompt fail with err after the first streamed word.
func (m *MockModel) AddFailure(prompt string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[prompt] = err
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)

	prompt := LastUserText(req)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	reply, ok := m.responses[prompt]
	if !ok {
		reply = m.fallback
	}
	failure := m.failures[prompt]
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)

		if req.Stream {
			for i, chunk := range SplitWords(reply) {
				if failure != nil && i == 1 {
					errCh <- failure
					return
				}
				select {
				case out <- Response{Partial: true, Text: chunk}:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		if failure != nil {
			errCh <- failure
			return
		}
		out <- Response{Text: reply, FinishReason: "stop"}
	}()

	return out, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info {
	return Info{Name: "mock", Provider: "mock"}
}

// SplitWords splits s into chunks that concatenate back to s, each ending
// after a run of whitespace.
func SplitWords(s string) []string {
	var chunks []string
	start := 0
	inSpace := false
	for i, r := range s {
		space := r == ' ' || r == '\n' || r == '\t'
		if inSpace && !space {
			chunks = append(chunks, s[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(s) {
		chunks = append(chunks, s[start:])
	}
	return chunks
}

var _ Model = (*MockModel)(nil)
