package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Chain implements Speaker by trying multiple speakers in order.
// The first speaker that runs wins; if all fail, returns an aggregate error.
type Chain struct {
	speakers []Speaker
	logger   *slog.Logger

	mu     sync.Mutex
	active Speaker
}

// NewChain creates a speaker chain that tries speakers in order.
// At least one speaker is required.
func NewChain(speakers ...Speaker) (*Chain, error) {
	if len(speakers) == 0 {
		return nil, ErrProviderUnavailable
	}

	return &Chain{
		speakers: speakers,
		logger:   slog.Default().With("component", "tts.chain"),
	}, nil
}

// NewChainWithLogger creates a speaker chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, speakers ...Speaker) (*Chain, error) {
	chain, err := NewChain(speakers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "tts.chain")
	return chain, nil
}

// Name returns the first speaker's name.
func (c *Chain) Name() string {
	return c.speakers[0].Name()
}

// Speak tries each speaker until one succeeds. A stop or a cancelled
// context ends the chain immediately.
func (c *Chain) Speak(ctx context.Context, text string, mode Mode) error {
	var errs []error

	for i, s := range c.speakers {
		c.mu.Lock()
		c.active = s
		c.mu.Unlock()

		err := s.Speak(ctx, text, mode)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback speaker succeeded",
					"speaker", s.Name(),
					"chars", len(text),
				)
			}
			return nil
		}
		if errors.Is(err, ErrStopped) {
			return err
		}

		errs = append(errs, err)
		c.logger.Warn("speaker failed, trying next",
			"speaker", s.Name(),
			"error", err,
		)

		// Check if context was cancelled
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return &ChainError{Errors: errs}
}

// Stop stops the speaker currently in use.
func (c *Chain) Stop() error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Stop()
}

// Speakers returns the list of speakers in the chain.
func (c *Chain) Speakers() []Speaker {
	return c.speakers
}

// ChainError aggregates errors from all speakers in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "tts chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("tts chain: all %d speakers failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

// Verify Chain implements Speaker at compile time.
var _ Speaker = (*Chain)(nil)
