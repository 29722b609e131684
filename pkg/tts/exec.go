package tts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Defaults for the subprocess speaker.
const (
	DefaultBinary  = "espeak-ng"
	DefaultVoice   = "de"
	DefaultRate    = 170
	DefaultTimeout = 60 * time.Second
)

// TextPlaceholder in Args is replaced by the text to speak. Without it the
// text is written to the process's stdin.
const TextPlaceholder = "{text}"

// Config configures an ExecSpeaker.
type Config struct {
	Binary  string        `mapstructure:"binary" yaml:"binary"`
	Voice   string        `mapstructure:"voice" yaml:"voice"`
	Rate    int           `mapstructure:"rate" yaml:"rate"`
	Args    []string      `mapstructure:"args" yaml:"args"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	Logger *slog.Logger `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns espeak-ng settings for German.
func DefaultConfig() Config {
	return Config{
		Binary:  DefaultBinary,
		Voice:   DefaultVoice,
		Rate:    DefaultRate,
		Timeout: DefaultTimeout,
	}
}

// Option is a functional option for configuring an ExecSpeaker.
type Option func(*Config)

// WithBinary sets the program to run.
func WithBinary(bin string) Option {
	return func(c *Config) { c.Binary = bin }
}

// WithVoice sets the voice passed as -v.
func WithVoice(voice string) Option {
	return func(c *Config) { c.Voice = voice }
}

// WithRate sets the speaking rate passed as -s.
func WithRate(wpm int) Option {
	return func(c *Config) { c.Rate = wpm }
}

// WithArgs replaces the generated espeak-ng arguments.
func WithArgs(args ...string) Option {
	return func(c *Config) { c.Args = args }
}

// WithTimeout bounds a single Speak call.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// ExecSpeaker speaks by running a TTS program once per utterance.
// Stop kills the running process.
type ExecSpeaker struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
}

// NewExec creates a subprocess speaker.
func NewExec(opts ...Option) *ExecSpeaker {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSpeaker{cfg: cfg, logger: logger.With("component", "tts.exec")}
}

// Name returns the binary name.
func (s *ExecSpeaker) Name() string { return s.cfg.Binary }

func (s *ExecSpeaker) args(text string) (args []string, stdin bool) {
	if len(s.cfg.Args) == 0 {
		args = []string{"-v", s.cfg.Voice, "-s", strconv.Itoa(s.cfg.Rate), "--stdin"}
		return args, true
	}
	stdin = true
	for _, a := range s.cfg.Args {
		if strings.Contains(a, TextPlaceholder) {
			stdin = false
			a = strings.ReplaceAll(a, TextPlaceholder, text)
		}
		args = append(args, a)
	}
	return args, stdin
}

// Speak runs the TTS program and waits for it to exit.
func (s *ExecSpeaker) Speak(ctx context.Context, text string, mode Mode) error {
	text = strings.TrimSpace(Shorten(text, mode))
	if text == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	args, stdin := s.args(text)
	cmd := exec.CommandContext(ctx, s.cfg.Binary, args...)
	cmd.WaitDelay = 500 * time.Millisecond
	if stdin {
		cmd.Stdin = strings.NewReader(text)
	}

	s.mu.Lock()
	s.stopped = false
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return WrapError(s.Name(), ErrProviderUnavailable)
		}
		return WrapError(s.Name(), err)
	}
	s.cmd = cmd
	s.mu.Unlock()

	s.logger.Debug("speaking", "chars", len(text), "mode", mode)
	err := cmd.Wait()

	s.mu.Lock()
	stopped := s.stopped
	s.cmd = nil
	s.mu.Unlock()

	switch {
	case stopped:
		return ErrStopped
	case ctx.Err() != nil:
		return WrapError(s.Name(), ctx.Err())
	case err != nil:
		return WrapError(s.Name(), fmt.Errorf("speak: %w", err))
	}
	return nil
}

// Stop kills the running TTS process, if any.
func (s *ExecSpeaker) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	s.stopped = true
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return WrapError(s.Name(), err)
	}
	return nil
}

// Available reports whether the binary is on PATH.
func (s *ExecSpeaker) Available() bool {
	_, err := exec.LookPath(s.cfg.Binary)
	return err == nil
}

var _ Speaker = (*ExecSpeaker)(nil)
