package inference

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ModelPlaceholder in CLI arguments is replaced by the configured model.
const ModelPlaceholder = "{model}"

const (
	probeTimeout   = 5 * time.Second
	killWaitDelay  = 500 * time.Millisecond
	maxStderrChars = 200
)

// DefaultCLIArgs passes the model and reads the prompt from stdin so it
// never shows up in the process list.
var DefaultCLIArgs = []string{"-m", ModelPlaceholder, "-p", "-"}

// CLI runs a command-line model client as a subprocess per prompt.
type CLI struct {
	path  string
	model string
	args  []string
	name  string

	mu        sync.Mutex
	available *bool
}

// CLIOption configures a CLI backend.
type CLIOption func(*CLI)

// WithArgs replaces the argument template. ModelPlaceholder is substituted.
func WithArgs(args ...string) CLIOption {
	return func(c *CLI) { c.args = args }
}

// WithName overrides the backend name.
func WithName(name string) CLIOption {
	return func(c *CLI) { c.name = name }
}

// NewCLI creates a subprocess backend for the binary at path.
func NewCLI(path, model string, opts ...CLIOption) *CLI {
	c := &CLI{
		path:  path,
		model: model,
		args:  DefaultCLIArgs,
		name:  "cli:" + model,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the backend name.
func (c *CLI) Name() string { return c.name }

// Model returns the configured model.
func (c *CLI) Model() string { return c.model }

// Send writes prompt to the subprocess's stdin and returns its stdout.
// The process is killed when ctx expires.
func (c *CLI) Send(ctx context.Context, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, c.path, c.buildArgs()...)
	cmd.Stdin = strings.NewReader(prompt)
	// Children holding the pipes open must not keep Wait blocked after a kill.
	cmd.WaitDelay = killWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			c.setAvailable(false)
			return "", ErrProviderUnavailable
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExitError{Code: exitErr.ExitCode(), Stderr: clip(strings.TrimSpace(stderr.String()), maxStderrChars)}
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsAvailable runs the binary with --version once and caches the result.
func (c *CLI) IsAvailable(ctx context.Context) bool {
	c.mu.Lock()
	if c.available != nil {
		ok := *c.available
		c.mu.Unlock()
		return ok
	}
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	cmd := exec.CommandContext(probeCtx, c.path, "--version")
	cmd.WaitDelay = killWaitDelay
	ok := cmd.Run() == nil

	c.setAvailable(ok)
	return ok
}

func (c *CLI) setAvailable(ok bool) {
	c.mu.Lock()
	c.available = &ok
	c.mu.Unlock()
}

func (c *CLI) buildArgs() []string {
	out := make([]string, len(c.args))
	for i, a := range c.args {
		out[i] = strings.ReplaceAll(a, ModelPlaceholder, c.model)
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Verify CLI implements Provider at compile time.
var _ Provider = (*CLI)(nil)
