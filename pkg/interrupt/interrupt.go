// Package interrupt lets the user's voice cut off playback (barge-in).
package interrupt

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/tts"
	"github.com/teslashibe/go-parley/pkg/vad"
)

// Defaults keep the end-to-end barge-in latency under 200ms.
const (
	DefaultCheckInterval = 50 * time.Millisecond
	DefaultJoinTimeout   = 500 * time.Millisecond
)

// Controller speaks through a Speaker while polling a VAD.
type Controller struct {
	speaker  tts.Speaker
	detector vad.Detector
	bus      *events.Bus
	logger   *slog.Logger
	interval time.Duration

	interrupted atomic.Bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithCheckInterval sets the VAD polling interval. Values above 50ms are clamped.
func WithCheckInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 && d <= DefaultCheckInterval {
			c.interval = d
		}
	}
}

// WithEvents publishes tts.start, tts.stop and tts.interrupt on bus.
func WithEvents(bus *events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a controller. A nil detector disables barge-in.
func New(speaker tts.Speaker, detector vad.Detector, opts ...Option) *Controller {
	c := &Controller{
		speaker:  speaker,
		detector: detector,
		interval: DefaultCheckInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "interrupt")
	return c
}

// Speaker returns the wrapped speaker.
func (c *Controller) Speaker() tts.Speaker { return c.speaker }

// SpeakWithInterrupt speaks text and reports whether the user interrupted.
// The VAD is reset first so speech from before the call does not count.
// Playback errors other than an interruption are returned.
func (c *Controller) SpeakWithInterrupt(ctx context.Context, text string, mode tts.Mode, runID string) (bool, error) {
	c.interrupted.Store(false)
	if c.detector != nil {
		c.detector.Reset()
	}

	c.emit(events.TTSStart, map[string]any{"chars": len([]rune(text)), "mode": string(mode), "engine": c.speaker.Name()}, runID)
	start := time.Now()

	done := make(chan error, 1)
	go func() { done <- c.speaker.Speak(ctx, text, mode) }()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if errors.Is(err, tts.ErrStopped) && c.interrupted.Load() {
				return true, nil
			}
			c.emit(events.TTSStop, map[string]any{"duration_ms": time.Since(start).Milliseconds()}, runID)
			return false, err

		case <-ticker.C:
			if c.detector == nil || !c.detector.IsUserSpeaking() {
				continue
			}
			c.interrupted.Store(true)
			if err := c.speaker.Stop(); err != nil {
				c.logger.Warn("stop failed", "error", err)
			}
			latency := time.Since(start)
			c.logger.Info("user interrupted playback", "after_ms", latency.Milliseconds())
			c.emit(events.TTSInterrupt, map[string]any{"after_ms": latency.Milliseconds()}, runID)

			select {
			case <-done:
			case <-time.After(DefaultJoinTimeout):
				c.logger.Warn("speaker did not exit after stop")
			}
			return true, nil

		case <-ctx.Done():
			if err := c.speaker.Stop(); err != nil {
				c.logger.Warn("stop after cancel failed", "error", err)
			}
			<-done
			return false, ctx.Err()
		}
	}
}

// WasInterrupted reports whether the last call was interrupted.
func (c *Controller) WasInterrupted() bool {
	return c.interrupted.Load()
}

func (c *Controller) emit(eventType string, data map[string]any, runID string) {
	if c.bus != nil {
		c.bus.Emit(eventType, data, runID)
	}
}
