// Package audioio provides microphone capture for the voice pipeline.
//
// This package supports multiple backends:
//   - PortAudio - cross-platform capture, compiled in with the "portaudio" build tag
//   - arecord - ALSA capture through the arecord(1) subprocess on Linux
//   - Mock - CI/Testing without hardware
//
// The backend is selected automatically based on build tags and the
// binaries on PATH, or can be explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform capture.
	BackendPortAudio Backend = "portaudio"
	// BackendArecord streams raw PCM from the arecord subprocess.
	BackendArecord Backend = "arecord"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// DefaultSampleRate is the rate speech recognition expects.
const DefaultSampleRate = 16000

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (selects best available for platform)
	Backend Backend `yaml:"backend" json:"backend" mapstructure:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000
	SampleRate int `yaml:"sample_rate" json:"sample_rate" mapstructure:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels" mapstructure:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 30ms (480 samples at 16kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration" mapstructure:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - arecord: "default", "plughw:1,0"
	//   - PortAudio: ignored, the default input device is used
	//   - Mock: ignored
	Device string `yaml:"device" json:"device" mapstructure:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     DefaultSampleRate,
		Channels:       1,
		BufferDuration: 30 * time.Millisecond,
		Device:         "",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	switch c.Backend {
	case "", BackendAuto, BackendPortAudio, BackendArecord, BackendMock:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// BufferSize returns the number of samples per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2 // 2 bytes per int16 sample
}
