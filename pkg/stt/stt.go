// Package stt turns recorded speech into text.
//
// The recognizer itself is an external collaborator. WhisperCLI runs
// whisper.cpp's command line tool on a temporary WAV file; Mock serves tests.
package stt

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Sentinel errors.
var (
	// ErrUnavailable is returned when the recognizer cannot run.
	ErrUnavailable = errors.New("stt: recognizer unavailable")

	// ErrNoModel is returned when no model path is configured.
	ErrNoModel = errors.New("stt: model path required")
)

// Transcriber is the speech-to-text contract. An empty string with a nil
// error means no speech was recognized.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int, language string) (string, error)
	Name() string
}

// markerPattern matches non-speech annotations such as [BLANK_AUDIO] or (Musik).
var markerPattern = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

// CleanTranscript strips recognizer annotations and collapses whitespace.
func CleanTranscript(s string) string {
	s = markerPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
