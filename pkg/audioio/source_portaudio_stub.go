//go:build !portaudio

package audioio

import (
	"errors"
	"log/slog"
)

const portaudioAvailable = false

// ErrPortAudioNotCompiled is returned when the binary was built without the portaudio tag.
var ErrPortAudioNotCompiled = errors.New("audioio: portaudio backend not compiled in (build with -tags portaudio)")

func newPortAudioSource(_ Config, _ *slog.Logger) (Source, error) {
	return nil, ErrPortAudioNotCompiled
}
