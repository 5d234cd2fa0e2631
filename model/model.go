package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/researchmesh/core"
)

// ErrCallLimitExceeded is returned by a Limited model once its call budget is spent.
var ErrCallLimitExceeded = errors.New("model call limit exceeded")

// ErrInvalidRequest is returned when a request does not follow the
// system + user message contract.
var ErrInvalidRequest = errors.New("invalid model request")

// Role identifies the author of a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one plain-text chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON object of arguments
}

// DecodeArguments parses the call arguments into a map. Empty arguments yield an empty map.
func (tc ToolCall) DecodeArguments() (map[string]any, error) {
	args := map[string]any{}
	raw := strings.TrimSpace(string(tc.Function.Arguments))
	if raw == "" || raw == "null" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode arguments for %s: %w", tc.Function.Name, err)
	}
	return args, nil
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request is the normalized model input. The engine only ever sends exactly
// two messages, a system message carrying all research state and a user
// message carrying the turn instruction. Endpoint optionally overrides the
// provider base URL for this call.
type Request struct {
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Endpoint string           `json:"endpoint,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
}

// NewRequest builds a two-message request.
func NewRequest(system, user string, tools []ToolDefinition) Request {
	return Request{
		Messages: []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: user},
		},
		Tools: tools,
	}
}

// Validate checks the system + user contract.
func (r Request) Validate() error {
	if len(r.Messages) != 2 {
		return fmt.Errorf("%w: expected 2 messages, got %d", ErrInvalidRequest, len(r.Messages))
	}
	if r.Messages[0].Role != RoleSystem || r.Messages[1].Role != RoleUser {
		return fmt.Errorf("%w: expected system then user message", ErrInvalidRequest)
	}
	return nil
}

// System returns the system message text.
func (r Request) System() string {
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}

// User returns the user message text.
func (r Request) User() string {
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"` // Indicates if this is a partial response
	Content      string      `json:"content"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// CoreUsage converts the usage into the state's accounting type.
func (r Response) CoreUsage() core.TokenUsage {
	if r.Usage == nil {
		return core.TokenUsage{}
	}
	return core.TokenUsage{
		PromptTokens:     r.Usage.PromptTokens,
		CompletionTokens: r.Usage.CompletionTokens,
		TotalTokens:      r.Usage.TotalTokens,
	}
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "gemini", "local", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the engine to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Call runs a request to completion and returns the final (non-partial)
// response. Partial chunks are accumulated as a fallback when a provider
// closes the stream without a final chunk.
func Call(ctx context.Context, m Model, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	respCh, errCh := m.Generate(ctx, req)

	var (
		final    *Response
		partials strings.Builder
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				partials.WriteString(r.Content)
				continue
			}
			rr := r
			final = &rr
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if final == nil {
		if partials.Len() == 0 {
			return Response{}, errors.New("model returned no response")
		}
		return Response{Content: partials.String(), FinishReason: "stop"}, nil
	}
	return *final, nil
}

// Limited wraps a Model and fails calls once the shared limiter is exhausted.
type Limited struct {
	Model
	limiter *core.CallLimiter
}

// NewLimited returns m guarded by limiter.
func NewLimited(m Model, limiter *core.CallLimiter) *Limited {
	return &Limited{Model: m, limiter: limiter}
}

// Generate implements Model.
func (l *Limited) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	if err := l.limiter.Increment(); err != nil {
		respCh := make(chan Response)
		errCh := make(chan error, 1)
		errCh <- fmt.Errorf("%w: %v", ErrCallLimitExceeded, err)
		close(respCh)
		close(errCh)
		return respCh, errCh
	}
	return l.Model.Generate(ctx, req)
}

// MockModel is a lightweight in‑memory Model useful for tests & examples.
// Responses are chosen by the first registered handler, then by an exact
// user-message match, and otherwise echo the user message.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	handler   func(req Request) (Response, error)
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for a user message.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// SetHandler installs a function that computes responses dynamically.
func (m *MockModel) SetHandler(fn func(req Request) (Response, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Requests returns a copy of all requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	handler := m.handler
	canned, hasCanned := m.responses[req.User()]
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}

		var final Response
		switch {
		case handler != nil:
			r, err := handler(req)
			if err != nil {
				errCh <- err
				return
			}
			final = r
		case hasCanned:
			final = Response{Content: canned}
		default:
			final = Response{Content: fmt.Sprintf("Mock response to: %s", req.User())}
		}
		if final.FinishReason == "" {
			final.FinishReason = "stop"
			if len(final.ToolCalls) > 0 {
				final.FinishReason = "tool_calls"
			}
		}

		if req.Stream {
			for _, r := range final.Content {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: string(r)}:
				}
			}
		}
		final.Partial = false
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- final:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
