package vad

import (
	"sync"

	"github.com/teslashibe/go-parley/pkg/audioio"
)

// Mock is a scriptable detector for testing.
type Mock struct {
	// SpeakingFunc overrides IsUserSpeaking when set.
	SpeakingFunc func() bool

	mu         sync.Mutex
	speaking   bool
	silence    bool
	processed  int
	resetCount int
}

// NewMock creates a silent mock detector.
func NewMock() *Mock {
	return &Mock{}
}

// SetSpeaking sets the IsUserSpeaking result.
func (m *Mock) SetSpeaking(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speaking = v
}

// SetSilenceExceeded sets the SilenceExceeded result.
func (m *Mock) SetSilenceExceeded(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silence = v
}

// Process records the chunk.
func (m *Mock) Process(audioio.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
}

// IsUserSpeaking implements Detector.
func (m *Mock) IsUserSpeaking() bool {
	if m.SpeakingFunc != nil {
		return m.SpeakingFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaking
}

// SilenceExceeded implements Detector.
func (m *Mock) SilenceExceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.silence
}

// Reset clears the scripted state and counts the call.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speaking = false
	m.silence = false
	m.resetCount++
}

// ResetCount returns how often Reset was called.
func (m *Mock) ResetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCount
}

// Processed returns how many chunks were fed.
func (m *Mock) Processed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed
}

var _ Detector = (*Mock)(nil)
