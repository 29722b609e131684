package stt

import (
	"context"
	"sync"
)

// Mock implements Transcriber for testing.
type Mock struct {
	// TranscribeFunc overrides the scripted replies when set.
	TranscribeFunc func(ctx context.Context, samples []int16, sampleRate int, language string) (string, error)

	mu      sync.Mutex
	replies []string
	calls   int
}

// NewMock returns a mock that answers with replies in order and repeats the
// last one. No replies means every call returns "".
func NewMock(replies ...string) *Mock {
	return &Mock{replies: replies}
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Transcribe implements Transcriber.
func (m *Mock) Transcribe(ctx context.Context, samples []int16, sampleRate int, language string) (string, error) {
	m.mu.Lock()
	n := m.calls
	m.calls++
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, samples, sampleRate, language)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	if n >= len(m.replies) {
		n = len(m.replies) - 1
	}
	return m.replies[n], nil
}

// CallCount returns the number of Transcribe calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		TranscribeFunc: func(context.Context, []int16, int, string) (string, error) {
			return "", err
		},
	}
}

var _ Transcriber = (*Mock)(nil)
