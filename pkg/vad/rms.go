package vad

import (
	"sync"

	"github.com/teslashibe/go-parley/pkg/audioio"
)

// RMS is a frame-counting detector with hysteresis, suited to 20-30ms
// frames at 16kHz. Separate start and end thresholds avoid flicker.
type RMS struct {
	speechThreshold  float64
	silenceThreshold float64
	speechFrames     int
	silenceFrames    int

	mu           sync.Mutex
	inSpeech     bool
	heardSpeech  bool
	speechCount  int
	silenceCount int
}

// RMSOption tunes an RMS detector.
type RMSOption func(*RMS)

// WithThresholds sets the start and end levels.
func WithThresholds(speech, silence float64) RMSOption {
	return func(v *RMS) {
		v.speechThreshold = speech
		v.silenceThreshold = silence
	}
}

// WithFrames sets how many consecutive frames start and end speech.
func WithFrames(speech, silence int) RMSOption {
	return func(v *RMS) {
		v.speechFrames = speech
		v.silenceFrames = silence
	}
}

// NewRMS returns a detector with 0.015/0.008 thresholds, 3 frames to start
// and 30 frames to end.
func NewRMS(opts ...RMSOption) *RMS {
	v := &RMS{
		speechThreshold:  0.015,
		silenceThreshold: 0.008,
		speechFrames:     3,
		silenceFrames:    30,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Process implements Detector.
func (v *RMS) Process(chunk audioio.Chunk) {
	level := chunk.Level()

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.inSpeech {
		if level < v.silenceThreshold {
			v.silenceCount++
			if v.silenceCount >= v.silenceFrames {
				v.inSpeech = false
				v.silenceCount = 0
			}
		} else {
			v.silenceCount = 0
		}
		return
	}

	if level >= v.speechThreshold {
		v.speechCount++
		if v.speechCount >= v.speechFrames {
			v.inSpeech = true
			v.heardSpeech = true
			v.speechCount = 0
		}
	} else {
		v.speechCount = 0
	}
}

// IsUserSpeaking implements Detector.
func (v *RMS) IsUserSpeaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inSpeech
}

// SilenceExceeded is true once speech has ended after being heard.
func (v *RMS) SilenceExceeded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.heardSpeech && !v.inSpeech
}

// Reset implements Detector.
func (v *RMS) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inSpeech = false
	v.heardSpeech = false
	v.speechCount = 0
	v.silenceCount = 0
}

var _ Detector = (*RMS)(nil)
