// Package vad decides whether the user is currently speaking.
//
// Detectors are fed audio chunks by whoever owns the microphone stream and
// are polled by the endpointing recorder and the barge-in controller.
package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/pkg/audioio"
)

// Detector is the voice activity contract the pipeline depends on.
type Detector interface {
	// Process feeds one chunk of captured audio.
	Process(chunk audioio.Chunk)

	// IsUserSpeaking reports whether speech is in progress.
	IsUserSpeaking() bool

	// SilenceExceeded reports whether speech was followed by enough silence
	// to consider the utterance finished.
	SilenceExceeded() bool

	// Reset clears all state so stale speech does not carry over.
	Reset()
}

// Engine names a detector implementation.
type Engine string

const (
	EngineEnergy Engine = "energy"
	EngineRMS    Engine = "rms"
	EngineNone   Engine = "none"
)

// Defaults for the energy detector.
const (
	DefaultThreshold       = 0.01
	DefaultSilenceDuration = 2 * time.Second
)

// Config selects and tunes a detector.
type Config struct {
	Engine          Engine        `mapstructure:"engine" yaml:"engine"`
	Threshold       float64       `mapstructure:"threshold" yaml:"threshold"`
	SilenceDuration time.Duration `mapstructure:"silence_duration" yaml:"silence_duration"`
}

// DefaultConfig returns the energy detector defaults.
func DefaultConfig() Config {
	return Config{
		Engine:          EngineEnergy,
		Threshold:       DefaultThreshold,
		SilenceDuration: DefaultSilenceDuration,
	}
}

// New builds the detector named by cfg. EngineNone returns a nil Detector,
// which makes the recorder fall back to its energy policy.
func New(cfg Config) (Detector, error) {
	switch cfg.Engine {
	case EngineEnergy, "":
		return NewEnergy(cfg.Threshold, cfg.SilenceDuration), nil
	case EngineRMS:
		return NewRMS(), nil
	case EngineNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("vad: unknown engine %q", cfg.Engine)
	}
}

// Energy is a threshold detector on chunk RMS. Speech starts on the first
// loud chunk; silence is measured from the first quiet chunk after speech.
type Energy struct {
	threshold float64
	silence   time.Duration
	now       func() time.Time

	mu           sync.Mutex
	speaking     bool
	silenceStart time.Time
}

// NewEnergy creates an energy detector. Non-positive arguments use defaults.
func NewEnergy(threshold float64, silence time.Duration) *Energy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if silence <= 0 {
		silence = DefaultSilenceDuration
	}
	return &Energy{threshold: threshold, silence: silence, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (e *Energy) WithClock(now func() time.Time) *Energy {
	e.now = now
	return e
}

// Process implements Detector.
func (e *Energy) Process(chunk audioio.Chunk) {
	level := chunk.Level()

	e.mu.Lock()
	defer e.mu.Unlock()

	if level > e.threshold {
		e.speaking = true
		e.silenceStart = time.Time{}
		return
	}
	if e.speaking && e.silenceStart.IsZero() {
		e.silenceStart = e.now()
	}
}

// IsUserSpeaking implements Detector. It stays true through short pauses
// until Reset.
func (e *Energy) IsUserSpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking && e.silenceStart.IsZero()
}

// SilenceExceeded implements Detector.
func (e *Energy) SilenceExceeded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.silenceStart.IsZero() {
		return false
	}
	return e.now().Sub(e.silenceStart) > e.silence
}

// Reset implements Detector.
func (e *Energy) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speaking = false
	e.silenceStart = time.Time{}
}

var _ Detector = (*Energy)(nil)
