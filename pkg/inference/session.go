package inference

import (
	"sync"

	"github.com/teslashibe/go-parley/pkg/schema"
)

// Session owns the rolling conversation history of one user. The oldest
// messages are evicted first once the cap is reached.
type Session struct {
	mu       sync.Mutex
	max      int
	messages []schema.Message
}

// NewSession creates a session keeping at most max messages. A max of zero
// or less uses DefaultHistoryMessages.
func NewSession(max int) *Session {
	if max <= 0 {
		max = DefaultHistoryMessages
	}
	return &Session{max: max}
}

// Append records one user/assistant exchange.
func (s *Session) Append(prompt, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages,
		schema.Message{Role: schema.RoleUser, Content: prompt},
		schema.Message{Role: schema.RoleAssistant, Content: reply},
	)
	if over := len(s.messages) - s.max; over > 0 {
		s.messages = append(s.messages[:0:0], s.messages[over:]...)
	}
}

// Messages returns a copy of the history, oldest first.
func (s *Session) Messages() []schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear drops the history.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}
