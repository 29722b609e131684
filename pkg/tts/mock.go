package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Speaker for testing. By default Speak "plays" for
// Duration and can be cut short by Stop.
type Mock struct {
	// SpeakFunc replaces the default playback when set.
	SpeakFunc func(ctx context.Context, text string, mode Mode) error

	// Duration is how long the default playback lasts.
	Duration time.Duration

	// Tracking
	mu     sync.Mutex
	calls  []MockCall
	stops  int
	stopCh chan struct{}
}

// MockCall records a Speak invocation for verification.
type MockCall struct {
	Text string
	Mode Mode
	Time time.Time
}

// NewMock creates a mock whose playback lasts d.
func NewMock(d time.Duration) *Mock {
	return &Mock{Duration: d}
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Speak records the call and plays until Duration elapses, Stop is called
// or ctx ends.
func (m *Mock) Speak(ctx context.Context, text string, mode Mode) error {
	stop := make(chan struct{})
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Text: text, Mode: mode, Time: time.Now()})
	m.stopCh = stop
	m.mu.Unlock()

	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, text, mode)
	}

	timer := time.NewTimer(m.Duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop interrupts the playback in progress.
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	return nil
}

// Calls returns all recorded Speak calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// Texts returns the spoken texts in order.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Text
	}
	return out
}

// StopCount returns how often Stop was called.
func (m *Mock) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.stops = 0
}

// WithError returns a mock whose Speak always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SpeakFunc: func(context.Context, string, Mode) error {
			return err
		},
	}
}

// Verify Mock implements Speaker at compile time.
var _ Speaker = (*Mock)(nil)
