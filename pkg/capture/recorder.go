// Package capture records utterances from an audio source and decides
// when they end.
//
// A Recorder owns the source stream. Its pump feeds every chunk to the
// attached VAD, so the detector keeps working between recordings (the
// barge-in controller relies on this). While recording, chunks are also
// buffered and a monitor goroutine evaluates the auto-stop policies on
// each tick.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/vad"
)

var (
	// ErrAlreadyRecording is returned by StartRecording while a recording is active.
	ErrAlreadyRecording = errors.New("capture: already recording")

	// ErrMuted is returned when the microphone is muted.
	ErrMuted = errors.New("capture: microphone is muted")

	// ErrNoAudio is returned by Record when the recording captured nothing.
	ErrNoAudio = errors.New("capture: no audio recorded")
)

// StopReason records why a recording ended.
type StopReason string

const (
	StopNone          StopReason = ""
	StopManual        StopReason = "manual"
	StopMaxSeconds    StopReason = "max_seconds"
	StopSilenceVAD    StopReason = "silence_vad"
	StopSilenceEnergy StopReason = "silence_energy"
)

// Config tunes endpointing.
type Config struct {
	// MaxDuration is the hard ceiling for one recording.
	MaxDuration time.Duration `mapstructure:"max_duration" yaml:"max_duration"`

	// SilenceTimeout ends a recording under the energy policy.
	SilenceTimeout time.Duration `mapstructure:"silence_timeout" yaml:"silence_timeout"`

	// SilenceThreshold is the RMS level counted as voice by the energy policy.
	SilenceThreshold float64 `mapstructure:"silence_threshold" yaml:"silence_threshold"`

	// MinDuration is the minimum total recording length before auto-stop.
	MinDuration time.Duration `mapstructure:"min_duration" yaml:"min_duration"`

	// MinSpeech is the minimum speech length before a VAD auto-stop.
	MinSpeech time.Duration `mapstructure:"min_speech" yaml:"min_speech"`

	// MonitorInterval is the auto-stop evaluation tick.
	MonitorInterval time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`
}

// DefaultConfig returns the default endpointing settings.
func DefaultConfig() Config {
	return Config{
		MaxDuration:      60 * time.Second,
		SilenceTimeout:   1200 * time.Millisecond,
		SilenceThreshold: 0.01,
		MinDuration:      time.Second,
		MinSpeech:        150 * time.Millisecond,
		MonitorInterval:  100 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = d.SilenceTimeout
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.MinDuration < 0 {
		c.MinDuration = 0
	}
	if c.MinSpeech < 0 {
		c.MinSpeech = 0
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
}

// Recording is the audio captured between start and stop.
type Recording struct {
	Samples    []int16
	SampleRate int
	Reason     StopReason
	Duration   time.Duration
}

// Seconds returns the audio length.
func (r *Recording) Seconds() float64 {
	if r.SampleRate == 0 {
		return 0
	}
	return float64(len(r.Samples)) / float64(r.SampleRate)
}

// MuteCheck reports whether the microphone is muted.
type MuteCheck func(ctx context.Context) bool

// Option configures a Recorder.
type Option func(*Recorder)

// WithVAD attaches a detector. Without one the energy policy is used.
func WithVAD(d vad.Detector) Option {
	return func(r *Recorder) { r.vad = d }
}

// WithEvents publishes recording and VAD transitions on bus.
func WithEvents(bus *events.Bus) Option {
	return func(r *Recorder) { r.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithMuteCheck sets the mute probe consulted by StartRecording.
func WithMuteCheck(fn MuteCheck) Option {
	return func(r *Recorder) { r.muted = fn }
}

// WithAutoStop registers a callback receiving auto-stopped recordings.
func WithAutoStop(fn func(*Recording)) Option {
	return func(r *Recorder) { r.onAutoStop = fn }
}

// Recorder captures utterances with VAD or energy based auto-stop.
type Recorder struct {
	src        audioio.Source
	cfg        Config
	vad        vad.Detector
	bus        *events.Bus
	logger     *slog.Logger
	muted      MuteCheck
	onAutoStop func(*Recording)
	now        func() time.Time

	// stopMu serializes StartRecording and StopRecording so a manual stop
	// and an auto-stop cannot both consume the buffer.
	stopMu sync.Mutex

	mu          sync.Mutex
	recording   bool
	startedAt   time.Time
	lastVoice   time.Time
	speechStart time.Time
	buf         []int16
	sampleRate  int
	stopReason  StopReason
	lastAudio   *Recording
	stopped     chan struct{}
	cancelMon   context.CancelFunc
	runID       string
	wasSpeaking bool
}

// New creates a recorder reading from src.
func New(src audioio.Source, cfg Config, opts ...Option) *Recorder {
	cfg.applyDefaults()
	r := &Recorder{
		src:        src,
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
		sampleRate: src.Config().SampleRate,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "capture.recorder")
	return r
}

// Config returns the endpointing settings.
func (r *Recorder) Config() Config { return r.cfg }

// VAD returns the attached detector, or nil.
func (r *Recorder) VAD() vad.Detector { return r.vad }

// Run starts the source and pumps chunks until ctx is done or the source
// stream closes.
func (r *Recorder) Run(ctx context.Context) error {
	if err := r.src.Start(ctx); err != nil {
		return err
	}
	defer r.src.Stop()

	stream := r.src.Stream()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return nil
			}
			r.handleChunk(chunk)
		}
	}
}

func (r *Recorder) handleChunk(chunk audioio.Chunk) {
	chunk = chunk.Mono()

	if r.vad != nil {
		r.vad.Process(chunk)
		r.trackVAD()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	if chunk.SampleRate > 0 {
		r.sampleRate = chunk.SampleRate
	}
	r.buf = append(r.buf, chunk.Samples...)
	if r.vad == nil && chunk.Level() >= r.cfg.SilenceThreshold {
		r.lastVoice = r.now()
	}
}

// trackVAD emits vad.speech and vad.silence on transitions.
func (r *Recorder) trackVAD() {
	speaking := r.vad.IsUserSpeaking()

	r.mu.Lock()
	changed := speaking != r.wasSpeaking
	r.wasSpeaking = speaking
	runID := r.runID
	r.mu.Unlock()

	if !changed {
		return
	}
	if speaking {
		r.emit(events.VADSpeech, nil, runID)
	} else {
		r.emit(events.VADSilence, nil, runID)
	}
}

// StartRecording begins buffering. It fails without recording when the
// microphone is muted or a recording is already active.
func (r *Recorder) StartRecording(ctx context.Context, runID string) error {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	r.mu.Lock()
	active := r.recording
	r.mu.Unlock()
	if active {
		r.logger.Warn("already recording")
		return ErrAlreadyRecording
	}

	if r.muted != nil && r.muted(ctx) {
		r.logger.Warn("microphone is muted, not recording")
		return ErrMuted
	}

	if r.vad != nil {
		r.vad.Reset()
	}

	now := r.now()
	monCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.recording = true
	r.startedAt = now
	r.lastVoice = now
	r.speechStart = time.Time{}
	r.stopReason = StopNone
	r.lastAudio = nil
	r.buf = r.buf[:0]
	r.stopped = make(chan struct{})
	r.cancelMon = cancel
	r.runID = runID
	r.mu.Unlock()

	go r.monitor(monCtx)

	r.logger.Info("recording started", "run_id", runID)
	r.emit(events.RecordingStart, map[string]any{"max_seconds": r.cfg.MaxDuration.Seconds()}, runID)
	return nil
}

func (r *Recorder) monitor(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reason := r.shouldAutoStop(r.now()); reason != StopNone {
				r.autoStop(reason)
				return
			}
		}
	}
}

// shouldAutoStop evaluates the hard ceiling and then the active policy.
func (r *Recorder) shouldAutoStop(now time.Time) StopReason {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return StopNone
	}
	elapsed := now.Sub(r.startedAt)
	if elapsed > r.cfg.MaxDuration {
		return StopMaxSeconds
	}

	if r.vad != nil {
		if r.vad.IsUserSpeaking() {
			if r.speechStart.IsZero() {
				r.speechStart = now
			}
			r.lastVoice = now
		}
		if !r.speechStart.IsZero() &&
			r.vad.SilenceExceeded() &&
			now.Sub(r.speechStart) >= r.cfg.MinSpeech &&
			elapsed > r.cfg.MinDuration {
			return StopSilenceVAD
		}
		return StopNone
	}

	if now.Sub(r.lastVoice) > r.cfg.SilenceTimeout && elapsed > r.cfg.MinDuration {
		return StopSilenceEnergy
	}
	return StopNone
}

func (r *Recorder) autoStop(reason StopReason) {
	rec := r.stop(reason)
	if rec != nil && r.onAutoStop != nil {
		r.onAutoStop(rec)
	}
}

// StopRecording ends the active recording and returns its audio, or nil
// when nothing was recording or no audio arrived.
func (r *Recorder) StopRecording() *Recording {
	return r.stop(StopManual)
}

func (r *Recorder) stop(reason StopReason) *Recording {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil
	}
	r.recording = false
	r.stopReason = reason
	duration := r.now().Sub(r.startedAt)
	samples := append([]int16(nil), r.buf...)
	r.buf = r.buf[:0]
	rate := r.sampleRate
	runID := r.runID
	cancel, stopped := r.cancelMon, r.stopped
	r.mu.Unlock()

	cancel()

	var rec *Recording
	if len(samples) > 0 {
		rec = &Recording{Samples: samples, SampleRate: rate, Reason: reason, Duration: duration}
	}

	r.mu.Lock()
	r.lastAudio = rec
	r.mu.Unlock()
	close(stopped)

	r.logger.Info("recording stopped", "reason", reason, "samples", len(samples), "run_id", runID)
	r.emit(events.RecordingStop, map[string]any{
		"reason":   string(reason),
		"duration": duration.Seconds(),
		"samples":  len(samples),
	}, runID)
	return rec
}

// Record starts a recording and blocks until it auto-stops or ctx ends.
// A cancelled ctx stops the recording manually and returns ctx's error.
func (r *Recorder) Record(ctx context.Context, runID string) (*Recording, error) {
	if err := r.StartRecording(ctx, runID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()

	select {
	case <-stopped:
		rec := r.ConsumeLastAudio()
		if rec == nil {
			return nil, ErrNoAudio
		}
		return rec, nil
	case <-ctx.Done():
		r.StopRecording()
		r.ConsumeLastAudio()
		return nil, ctx.Err()
	}
}

// IsRecording reports whether a recording is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// LastStopReason returns why the previous recording stopped and clears it.
func (r *Recorder) LastStopReason() StopReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason := r.stopReason
	r.stopReason = StopNone
	return reason
}

// ConsumeLastAudio returns the previous recording once.
func (r *Recorder) ConsumeLastAudio() *Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.lastAudio
	r.lastAudio = nil
	return rec
}

func (r *Recorder) emit(eventType string, data map[string]any, runID string) {
	if r.bus != nil {
		r.bus.Emit(eventType, data, runID)
	}
}
