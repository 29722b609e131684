package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-parley/pkg/audioio"
)

// Defaults for the whisper.cpp CLI.
const (
	DefaultBinary     = "whisper-cli"
	DefaultLanguage   = "de"
	DefaultTimeout    = 60 * time.Second
	DefaultSampleRate = 16000
)

// Argument placeholders substituted per call.
const (
	PlaceholderModel   = "{model}"
	PlaceholderLang    = "{lang}"
	PlaceholderFile    = "{file}"
	PlaceholderThreads = "{threads}"
)

// DefaultArgs prints plain text without timestamps or progress.
var DefaultArgs = []string{"-m", PlaceholderModel, "-l", PlaceholderLang, "-t", PlaceholderThreads, "-nt", "-np", "-f", PlaceholderFile}

// Config configures WhisperCLI.
type Config struct {
	Binary   string        `mapstructure:"binary" yaml:"binary"`
	Model    string        `mapstructure:"model" yaml:"model"`
	Language string        `mapstructure:"language" yaml:"language"`
	Threads  int           `mapstructure:"threads" yaml:"threads"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Args     []string      `mapstructure:"args" yaml:"args"`
}

// DefaultConfig returns whisper-cli settings for German.
func DefaultConfig() Config {
	return Config{
		Binary:   DefaultBinary,
		Language: DefaultLanguage,
		Threads:  4,
		Timeout:  DefaultTimeout,
	}
}

// WhisperCLI transcribes by running whisper-cli on a temporary WAV file.
type WhisperCLI struct {
	cfg    Config
	logger *slog.Logger
}

// NewWhisperCLI creates a transcriber. The model is only required when the
// default argument list is used.
func NewWhisperCLI(cfg Config, logger *slog.Logger) (*WhisperCLI, error) {
	d := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = d.Binary
	}
	if cfg.Language == "" {
		cfg.Language = d.Language
	}
	if cfg.Threads <= 0 {
		cfg.Threads = d.Threads
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if len(cfg.Args) == 0 {
		if cfg.Model == "" {
			return nil, ErrNoModel
		}
		cfg.Args = DefaultArgs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhisperCLI{cfg: cfg, logger: logger.With("component", "stt.whisper")}, nil
}

// Name returns "whisper-cli".
func (w *WhisperCLI) Name() string { return filepath.Base(w.cfg.Binary) }

// Transcribe implements Transcriber. Audio is resampled to 16kHz first.
func (w *WhisperCLI) Transcribe(ctx context.Context, samples []int16, sampleRate int, language string) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if language == "" {
		language = w.cfg.Language
	}
	samples = audioio.Resample(samples, sampleRate, DefaultSampleRate)

	tmp, err := os.CreateTemp("", "parley-stt-*.wav")
	if err != nil {
		return "", fmt.Errorf("stt: temp file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := audioio.WriteWAV(path, samples, DefaultSampleRate); err != nil {
		return "", fmt.Errorf("stt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, w.cfg.Binary, w.args(path, language)...)
	cmd.WaitDelay = 500 * time.Millisecond
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	switch {
	case ctx.Err() != nil:
		return "", fmt.Errorf("stt: transcription timed out: %w", ctx.Err())
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("%w: %s", ErrUnavailable, w.cfg.Binary)
	case err != nil:
		return "", fmt.Errorf("stt: %s failed: %w: %s", w.Name(), err, clip(stderr.String(), 200))
	}

	text := CleanTranscript(stdout.String())
	w.logger.Debug("transcribed",
		"seconds", float64(len(samples))/DefaultSampleRate,
		"chars", len(text),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

func (w *WhisperCLI) args(file, lang string) []string {
	r := strings.NewReplacer(
		PlaceholderModel, w.cfg.Model,
		PlaceholderLang, lang,
		PlaceholderFile, file,
		PlaceholderThreads, strconv.Itoa(w.cfg.Threads),
	)
	out := make([]string, len(w.cfg.Args))
	for i, a := range w.cfg.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// Available reports whether the binary is on PATH.
func (w *WhisperCLI) Available() bool {
	_, err := exec.LookPath(w.cfg.Binary)
	return err == nil
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

var _ Transcriber = (*WhisperCLI)(nil)
