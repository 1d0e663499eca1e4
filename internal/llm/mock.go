package llm

import (
	"context"
	"fmt"
	"sync"

	"insightminer/internal/types"
)

// MockGenerator implements types.Generator for tests and dry runs. Responses
// are either produced by CompleteFunc when set, or popped from a scripted
// queue in call order. Safe for concurrent use.
type MockGenerator struct {
	CompleteFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	mu      sync.Mutex
	queue   []string
	errs    []error
	Calls   []string // user prompts, in call order
	callIdx int
}

var _ types.Generator = (*MockGenerator)(nil)

// NewMockGenerator creates an empty mock; script it with Enqueue or set
// CompleteFunc.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Enqueue appends a scripted response.
func (m *MockGenerator) Enqueue(responses ...string) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
	m.errs = append(m.errs, make([]error, len(responses))...)
	return m
}

// EnqueueError appends a scripted failure.
func (m *MockGenerator) EnqueueError(err error) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, "")
	m.errs = append(m.errs, err)
	return m
}

// CallCount returns the number of calls made so far.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIdx
}

func (m *MockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *MockGenerator) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.CompleteFunc != nil {
		m.mu.Lock()
		m.Calls = append(m.Calls, userPrompt)
		m.callIdx++
		m.mu.Unlock()
		return m.CompleteFunc(ctx, systemPrompt, userPrompt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, userPrompt)
	if m.callIdx >= len(m.queue) {
		return "", fmt.Errorf("mock generator exhausted after %d scripted responses", len(m.queue))
	}
	resp, err := m.queue[m.callIdx], m.errs[m.callIdx]
	m.callIdx++
	if err != nil {
		return "", err
	}
	return resp, nil
}
