// Package output delivers the final text to the desktop: the clipboard,
// simulated typing into the focused window, or both.
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Mode selects the delivery target.
type Mode string

const (
	ModeNone      Mode = "none"
	ModeClipboard Mode = "clipboard"
	ModeType      Mode = "type"
	ModeBoth      Mode = "both"
)

// ErrToolMissing is returned when the required desktop tool is not installed.
var ErrToolMissing = errors.New("output: desktop tool not installed")

// DefaultTimeout bounds each tool invocation.
const DefaultTimeout = 10 * time.Second

// Runner executes a tool with optional stdin.
type Runner func(ctx context.Context, name string, args []string, stdin string) error

// Option configures a Deliverer.
type Option func(*Deliverer)

// WithRunner replaces process execution, for tests.
func WithRunner(r Runner) Option {
	return func(d *Deliverer) { d.run = r }
}

// WithGetenv replaces environment lookup, for tests.
func WithGetenv(fn func(string) string) Option {
	return func(d *Deliverer) { d.getenv = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deliverer) { d.logger = l }
}

// Deliverer copies or types text with wl-copy/wtype on Wayland and
// xclip/xdotool on X11.
type Deliverer struct {
	mode   Mode
	run    Runner
	getenv func(string) string
	logger *slog.Logger
}

// New creates a deliverer for mode.
func New(mode Mode, opts ...Option) (*Deliverer, error) {
	switch mode {
	case "":
		mode = ModeNone
	case ModeNone, ModeClipboard, ModeType, ModeBoth:
	default:
		return nil, fmt.Errorf("output: unknown mode %q", mode)
	}
	d := &Deliverer{
		mode:   mode,
		run:    execRunner,
		getenv: os.Getenv,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "output")
	return d, nil
}

// Mode returns the delivery mode.
func (d *Deliverer) Mode() Mode { return d.mode }

func (d *Deliverer) wayland() bool {
	return d.getenv("WAYLAND_DISPLAY") != ""
}

// Deliver sends text to the configured targets. Blank text is ignored.
func (d *Deliverer) Deliver(ctx context.Context, text string) error {
	if d.mode == ModeNone || strings.TrimSpace(text) == "" {
		return nil
	}
	var errs []error
	if d.mode == ModeClipboard || d.mode == ModeBoth {
		errs = append(errs, d.Copy(ctx, text))
	}
	if d.mode == ModeType || d.mode == ModeBoth {
		errs = append(errs, d.Type(ctx, text))
	}
	return errors.Join(errs...)
}

// Copy places text on the clipboard.
func (d *Deliverer) Copy(ctx context.Context, text string) error {
	if d.wayland() {
		return d.exec(ctx, "wl-copy", nil, text)
	}
	return d.exec(ctx, "xclip", []string{"-selection", "clipboard"}, text)
}

// Type simulates keyboard input of text into the focused window.
func (d *Deliverer) Type(ctx context.Context, text string) error {
	if d.wayland() {
		return d.exec(ctx, "wtype", []string{"--", text}, "")
	}
	return d.exec(ctx, "xdotool", []string{"type", "--clearmodifiers", "--", text}, "")
}

func (d *Deliverer) exec(ctx context.Context, name string, args []string, stdin string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if err := d.run(ctx, name, args, stdin); err != nil {
		d.logger.Warn("delivery failed", "tool", name, "error", err)
		return fmt.Errorf("output: %s: %w", name, err)
	}
	d.logger.Debug("delivered", "tool", name, "chars", len([]rune(args2text(args, stdin))))
	return nil
}

func args2text(args []string, stdin string) string {
	if stdin != "" || len(args) == 0 {
		return stdin
	}
	return args[len(args)-1]
}

func execRunner(ctx context.Context, name string, args []string, stdin string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ErrToolMissing
	case err != nil:
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
