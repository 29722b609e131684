package audioio

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// NewSource creates a new audio source with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto || backend == "" {
		backend = detectBestBackend()
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendArecord:
		return newArecordSource(cfg, logger)
	case BackendPortAudio:
		return newPortAudioSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend prefers PortAudio when compiled in, then arecord.
func detectBestBackend() Backend {
	for _, b := range AvailableBackends() {
		if b != BackendMock {
			return b
		}
	}
	return BackendMock
}

// AvailableBackends returns the backends usable in this process, best first.
func AvailableBackends() []Backend {
	var backends []Backend
	if portaudioAvailable {
		backends = append(backends, BackendPortAudio)
	}
	if _, err := exec.LookPath(ArecordBinary); err == nil {
		backends = append(backends, BackendArecord)
	}
	return append(backends, BackendMock)
}
