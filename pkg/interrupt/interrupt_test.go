package interrupt

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/tts"
	"github.com/teslashibe/go-parley/pkg/vad"
)

func TestSpeakWithInterrupt_Completes(t *testing.T) {
	speaker := tts.NewMock(30 * time.Millisecond)
	det := vad.NewMock()
	bus := events.New()
	c := New(speaker, det, WithEvents(bus))

	interrupted, err := c.SpeakWithInterrupt(context.Background(), "Hallo", tts.ModeShort, "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if interrupted || c.WasInterrupted() {
		t.Error("expected natural completion")
	}
	if det.ResetCount() != 1 {
		t.Errorf("VAD reset %d times, want 1", det.ResetCount())
	}

	var types []string
	for _, ev := range bus.ForRun("run_1") {
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[0] != events.TTSStart || types[1] != events.TTSStop {
		t.Errorf("events = %v, want [tts.start tts.stop]", types)
	}
}

func TestSpeakWithInterrupt_BargeIn(t *testing.T) {
	speaker := tts.NewMock(5 * time.Second)
	det := vad.NewMock()
	bus := events.New()
	c := New(speaker, det, WithEvents(bus))

	go func() {
		time.Sleep(100 * time.Millisecond)
		det.SetSpeaking(true)
	}()

	start := time.Now()
	interrupted, err := c.SpeakWithInterrupt(context.Background(), "Ein langer Text", tts.ModeFull, "run_2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !interrupted {
		t.Fatal("expected interruption")
	}
	if latency := time.Since(start) - 100*time.Millisecond; latency > 200*time.Millisecond {
		t.Errorf("interrupt latency %v exceeds 200ms", latency)
	}
	if speaker.StopCount() == 0 {
		t.Error("speaker was not stopped")
	}
	if len(bus.ForRun("run_2")) != 2 {
		t.Errorf("expected tts.start and tts.interrupt, got %v", bus.ForRun("run_2"))
	}
}

func TestSpeakWithInterrupt_StaleSpeechIgnored(t *testing.T) {
	speaker := tts.NewMock(80 * time.Millisecond)
	det := vad.NewMock()
	det.SetSpeaking(true) // left over from before playback

	c := New(speaker, det)
	interrupted, err := c.SpeakWithInterrupt(context.Background(), "Hallo", tts.ModeShort, "")
	if err != nil {
		t.Fatal(err)
	}
	if interrupted {
		t.Error("stale VAD state should be reset before speaking")
	}
}

func TestSpeakWithInterrupt_SpeakerError(t *testing.T) {
	boom := errors.New("boom")
	c := New(tts.WithError(boom), vad.NewMock())

	interrupted, err := c.SpeakWithInterrupt(context.Background(), "Hallo", tts.ModeShort, "")
	if interrupted {
		t.Error("error must not count as interruption")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestSpeakWithInterrupt_Cancelled(t *testing.T) {
	speaker := tts.NewMock(5 * time.Second)
	c := New(speaker, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	interrupted, err := c.SpeakWithInterrupt(ctx, "Hallo", tts.ModeShort, "")
	if interrupted {
		t.Error("cancellation is not an interruption")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

// stubbornSpeaker ignores ctx and only returns once stopped; its Stop fails.
type stubbornSpeaker struct {
	once    sync.Once
	stopped chan struct{}
}

func (s *stubbornSpeaker) Speak(ctx context.Context, text string, mode tts.Mode) error {
	<-s.stopped
	return tts.ErrStopped
}

func (s *stubbornSpeaker) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return errors.New("device busy")
}

func (s *stubbornSpeaker) Name() string { return "stubborn" }

func TestSpeakWithInterrupt_CancelLogsStopError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := New(&stubbornSpeaker{stopped: make(chan struct{})}, nil, WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := c.SpeakWithInterrupt(ctx, "Hallo", tts.ModeShort, ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !strings.Contains(buf.String(), "device busy") {
		t.Errorf("stop error not logged: %q", buf.String())
	}
}

func TestWithCheckInterval(t *testing.T) {
	c := New(tts.NewMock(0), nil, WithCheckInterval(time.Second))
	if c.interval != DefaultCheckInterval {
		t.Errorf("interval = %v, want clamp to %v", c.interval, DefaultCheckInterval)
	}
	c = New(tts.NewMock(0), nil, WithCheckInterval(10*time.Millisecond))
	if c.interval != 10*time.Millisecond {
		t.Errorf("interval = %v, want 10ms", c.interval)
	}
}
