package audioio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// ArecordBinary is the ALSA capture tool used by the arecord backend.
const ArecordBinary = "arecord"

// ArecordSource captures raw S16_LE frames from arecord(1).
type ArecordSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	streamCh chan Chunk
	done     chan struct{}
}

func newArecordSource(cfg Config, logger *slog.Logger) (*ArecordSource, error) {
	if _, err := exec.LookPath(ArecordBinary); err != nil {
		return nil, fmt.Errorf("arecord backend: %w", err)
	}
	a := &ArecordSource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio", "backend", "arecord"),
		streamCh: make(chan Chunk),
	}
	close(a.streamCh)
	return a, nil
}

func (a *ArecordSource) args() []string {
	args := []string{
		"-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(a.cfg.SampleRate),
		"-c", strconv.Itoa(a.cfg.Channels),
	}
	if a.cfg.Device != "" {
		args = append(args, "-D", a.cfg.Device)
	}
	return args
}

// Start launches arecord for a new session.
func (a *ArecordSource) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return io.ErrClosedPipe
	}
	if a.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, ArecordBinary, a.args()...)
	cmd.WaitDelay = time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("arecord stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start arecord: %w", err)
	}

	a.cmd = cmd
	a.cancel = cancel
	a.running = true
	a.streamCh = make(chan Chunk, streamDepth)
	a.done = make(chan struct{})

	go a.readLoop(stdout, a.streamCh, a.done)

	a.logger.Info("audio capture started",
		"sample_rate", a.cfg.SampleRate,
		"channels", a.cfg.Channels,
		"device", a.cfg.Device,
	)
	return nil
}

func (a *ArecordSource) readLoop(r io.Reader, out chan<- Chunk, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	frame := a.cfg.BufferBytes()
	br := bufio.NewReaderSize(r, frame*4)
	buf := make([]byte, frame)
	dropped := 0
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				a.logger.Warn("arecord read failed", "error", err)
			}
			if dropped > 0 {
				a.logger.Warn("recorder fell behind", "dropped_chunks", dropped)
			}
			return
		}
		if !offer(out, decodeChunk(buf, a.cfg.SampleRate, a.cfg.Channels)) {
			dropped++
		}
	}
}

// Stop terminates arecord. Buffered chunks stay readable until the
// stream closes.
func (a *ArecordSource) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cmd, cancel, done := a.cmd, a.cancel, a.done
	a.mu.Unlock()

	cancel()
	<-done
	// arecord exits on SIGKILL; the resulting error carries no information.
	_ = cmd.Wait()

	a.logger.Info("audio capture stopped")
	return nil
}

// Stream returns the chunk channel of the current session.
func (a *ArecordSource) Stream() <-chan Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streamCh
}

func (a *ArecordSource) Config() Config { return a.cfg }

// Name returns "arecord".
func (a *ArecordSource) Name() string { return string(BackendArecord) }

// Close stops capture. The source cannot be restarted afterwards.
func (a *ArecordSource) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.Stop()
}

var _ Source = (*ArecordSource)(nil)
