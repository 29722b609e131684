//go:build portaudio

package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const portaudioAvailable = true

// PortAudioSource captures from the default input device through PortAudio.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	stream   *portaudio.Stream
	stopCh   chan struct{}
	done     chan struct{}
	streamCh chan Chunk
}

func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	p := &PortAudioSource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio", "backend", "portaudio"),
		streamCh: make(chan Chunk),
	}
	close(p.streamCh)
	return p, nil
}

// Start opens the default input stream for a new session.
func (p *PortAudioSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return io.ErrClosedPipe
	}
	if p.running {
		return nil
	}

	frames := p.cfg.BufferSize()
	buf := make([]int16, frames*p.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(p.cfg.Channels, 0, float64(p.cfg.SampleRate), frames, buf)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}

	p.stream = stream
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.streamCh = make(chan Chunk, streamDepth)

	go p.readLoop(ctx, stream, buf, p.stopCh, p.streamCh, p.done)

	p.logger.Info("audio capture started", "sample_rate", p.cfg.SampleRate, "channels", p.cfg.Channels)
	return nil
}

func (p *PortAudioSource) readLoop(ctx context.Context, stream *portaudio.Stream, buf []int16, stop <-chan struct{}, out chan<- Chunk, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	overflows, dropped := 0, 0
	defer func() {
		if overflows+dropped > 0 {
			p.logger.Warn("capture lost audio", "overflows", overflows, "dropped_chunks", dropped)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				overflows++
				continue
			}
			p.logger.Warn("portaudio read failed", "error", err)
			return
		}

		c := Chunk{
			Samples:    append([]int16(nil), buf...),
			SampleRate: p.cfg.SampleRate,
			Channels:   p.cfg.Channels,
		}
		if !offer(out, c) {
			dropped++
		}
	}
}

// Stop halts capture and closes the device stream.
func (p *PortAudioSource) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	stream, done := p.stream, p.done
	p.mu.Unlock()

	<-done
	if err := stream.Stop(); err != nil {
		p.logger.Warn("stop input stream", "error", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("close input stream: %w", err)
	}
	p.logger.Info("audio capture stopped")
	return nil
}

// Stream returns the chunk channel of the current session.
func (p *PortAudioSource) Stream() <-chan Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamCh
}

func (p *PortAudioSource) Config() Config { return p.cfg }

// Name returns "portaudio".
func (p *PortAudioSource) Name() string { return string(BackendPortAudio) }

// Close stops capture and terminates PortAudio.
func (p *PortAudioSource) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.Stop()
	if terr := portaudio.Terminate(); terr != nil && err == nil {
		err = terr
	}
	return err
}

var _ Source = (*PortAudioSource)(nil)
