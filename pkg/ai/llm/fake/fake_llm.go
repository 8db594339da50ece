// Package fake provides an in-memory LLM implementation for tests.
package fake

import (
	"context"
	"strings"
	"sync"

	"github.com/munivoice/munivoice-go/pkg/ai"
	"github.com/munivoice/munivoice-go/pkg/ai/llm"
)

// FakeLLM cycles through scripted responses and records every request it
// receives so tests can assert on what the model was shown.
type FakeLLM struct {
	mu        sync.Mutex
	responses []string
	requests  []llm.ChatRequest
	failures  int
}

// NewFakeLLM creates a fake LLM provider with scripted responses.
func NewFakeLLM(responses ...string) *FakeLLM {
	if len(responses) == 0 {
		responses = []string{
			"This is a fake response from the fake LLM provider.",
			"I'm a fake assistant. How can I help you?",
		}
	}
	return &FakeLLM{responses: responses}
}

// FailNext makes the next n Chat calls return a recoverable error.
func (f *FakeLLM) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// Requests returns a copy of every request received so far.
func (f *FakeLLM) Requests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Chat returns the next scripted response.
func (f *FakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return llm.ChatResponse{}, ai.NewRecoverableError(context.DeadlineExceeded, "fake llm unavailable")
	}
	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}

	idx := len(f.requests) % len(f.responses)
	f.requests = append(f.requests, req)
	response := f.responses[idx]

	return llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: response,
		},
		TokensUsed:   len(strings.Fields(response)) + 10,
		FinishReason: "stop",
	}, nil
}

// Capabilities returns the fake provider's capabilities.
func (f *FakeLLM) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		MaxTokens:          4096,
		SupportedModels:    []string{"fake-model-1"},
		SupportsSystemRole: true,
	}
}
