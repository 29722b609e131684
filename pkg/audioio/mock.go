package audioio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// MockSource plays a script of signal levels, one per chunk, at the real
// chunk cadence. Capture tests use it to drive endpointing without a
// microphone; without a script it produces silence.
type MockSource struct {
	cfg    Config
	logger *slog.Logger
	levels []float64

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Chunk
	stopCh   chan struct{}
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithLevels scripts the level of each chunk. Chunk i is a square wave
// whose Level is levels[i]; the last entry repeats once the script runs
// out. Each Start replays the script from the beginning.
func WithLevels(levels ...float64) MockSourceOption {
	return func(m *MockSource) {
		m.levels = append([]float64(nil), levels...)
	}
}

// NewMockSource creates a scripted source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio", "backend", "mock"),
		streamCh: make(chan Chunk),
	}
	for _, opt := range opts {
		opt(m)
	}
	close(m.streamCh)
	return m
}

// Start begins a session.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan Chunk, streamDepth)
	go m.play(ctx, m.stopCh, m.streamCh)
	m.logger.Debug("mock capture started", "script", len(m.levels))
	return nil
}

func (m *MockSource) play(ctx context.Context, stop <-chan struct{}, out chan<- Chunk) {
	defer close(out)

	tick := time.NewTicker(m.cfg.BufferDuration)
	defer tick.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.running && m.stopCh == stop {
				m.running = false
				close(m.stopCh)
			}
			m.mu.Unlock()
			return
		case <-stop:
			return
		case <-tick.C:
			if !offer(out, m.chunk(i)) {
				m.logger.Debug("mock capture dropped chunk", "index", i)
			}
		}
	}
}

// chunk renders script entry i.
func (m *MockSource) chunk(i int) Chunk {
	frames := m.cfg.BufferSize()
	channels := max(m.cfg.Channels, 1)
	c := Chunk{
		Samples:    make([]int16, frames*channels),
		SampleRate: m.cfg.SampleRate,
		Channels:   channels,
	}
	if len(m.levels) == 0 {
		return c
	}
	level := m.levels[min(i, len(m.levels)-1)]
	amp := int16(min(max(level, 0), 1) * 32767)
	for f := 0; f < frames; f++ {
		v := amp
		if f%2 == 1 {
			v = -amp
		}
		for ch := 0; ch < channels; ch++ {
			c.Samples[f*channels+ch] = v
		}
	}
	return c
}

// Stop ends the session. The stream closes once playback has exited.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	return nil
}

// Stream returns the chunk channel of the current session. Before the
// first Start it is already closed.
func (m *MockSource) Stream() <-chan Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

func (m *MockSource) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSource) Name() string { return string(BackendMock) }

// Close stops the source for good.
func (m *MockSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

var _ Source = (*MockSource)(nil)
