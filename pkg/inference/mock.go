package inference

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// SendFunc is called when Send is invoked.
	SendFunc func(ctx context.Context, prompt string) (string, error)

	// AvailableFunc is called when IsAvailable is invoked.
	AvailableFunc func(ctx context.Context) bool

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Prompt string
	Time   time.Time
}

// NewMock creates a new mock provider that answers every prompt.
func NewMock(reply string) *Mock {
	return &Mock{
		SendFunc: func(ctx context.Context, prompt string) (string, error) {
			return reply, nil
		},
	}
}

// Name returns the mock's name.
func (m *Mock) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

// Send calls SendFunc and records the call.
func (m *Mock) Send(ctx context.Context, prompt string) (string, error) {
	m.record("Send", prompt)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, prompt)
	}
	return "", WrapError(m.Name(), ErrProviderUnavailable)
}

// IsAvailable calls AvailableFunc and records the call. Defaults to true.
func (m *Mock) IsAvailable(ctx context.Context) bool {
	m.record("IsAvailable", "")
	if m.AvailableFunc != nil {
		return m.AvailableFunc(ctx)
	}
	return true
}

// record adds a call to the tracking list.
func (m *Mock) record(method, prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Prompt: prompt,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastPrompt returns the prompt of the most recent Send, or "".
func (m *Mock) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Method == "Send" {
			return m.calls[i].Prompt
		}
	}
	return ""
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock whose Send always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SendFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", err
		},
	}
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
