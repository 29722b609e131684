package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/tokens"
)

// Request is one prompt delivered through the gateway.
type Request struct {
	// Prompt is the user text.
	Prompt string

	// Context is optional system context placed before the history.
	Context string

	// RunID correlates emitted events.
	RunID string
}

// Response is the outcome of a gateway send. Text is always set: it holds
// the backend reply or, when every backend failed, the apology.
type Response struct {
	Text     string
	Provider string
	Attempts int
	Fallback bool
	Apology  bool
	Latency  time.Duration

	// Err aggregates the failed attempts when Apology is set.
	Err error
}

// Gateway dispatches prompts to a primary backend with retries, then to
// an optional fallback and local backend.
type Gateway struct {
	primary  Provider
	fallback Provider
	local    Provider
	cfg      *Config
	logger   *slog.Logger

	// sleep waits between primary attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// GatewayOption configures the backends of a Gateway.
type GatewayOption func(*Gateway)

// WithFallback sets the backend tried after the primary's retries are spent.
func WithFallback(p Provider) GatewayOption {
	return func(g *Gateway) { g.fallback = p }
}

// WithLocal sets the offline backend tried last.
func WithLocal(p Provider) GatewayOption {
	return func(g *Gateway) { g.local = p }
}

// WithConfig applies gateway configuration options.
func WithConfig(opts ...Option) GatewayOption {
	return func(g *Gateway) { g.cfg.Apply(opts...) }
}

// NewGateway creates a gateway around primary.
func NewGateway(primary Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		primary: primary,
		cfg:     DefaultConfig(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.cfg.normalize()
	g.logger = g.cfg.Logger.With("component", "inference.gateway")
	return g
}

// Primary returns the primary backend.
func (g *Gateway) Primary() Provider { return g.primary }

// Config returns the gateway configuration.
func (g *Gateway) Config() Config { return *g.cfg }

// IsAvailable reports whether any configured backend is reachable.
func (g *Gateway) IsAvailable(ctx context.Context) bool {
	for _, p := range g.chain() {
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// Status reports availability of every configured backend, primary first.
func (g *Gateway) Status(ctx context.Context) []Status {
	chain := g.chain()
	out := make([]Status, 0, len(chain))
	for _, p := range chain {
		out = append(out, Status{Name: p.Name(), Available: p.IsAvailable(ctx)})
	}
	return out
}

func (g *Gateway) chain() []Provider {
	var out []Provider
	for _, p := range []Provider{g.primary, g.fallback, g.local} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// BuildPrompt joins context, the session history and the user text, then
// truncates the result to the context budget.
func (g *Gateway) BuildPrompt(sess *Session, req Request) string {
	var parts []string
	if req.Context != "" {
		parts = append(parts, req.Context)
	}
	if sess != nil && g.cfg.HistoryMessages > 0 {
		msgs := sess.Messages()
		if len(msgs) > g.cfg.HistoryMessages {
			msgs = msgs[len(msgs)-g.cfg.HistoryMessages:]
		}
		if len(msgs) > 0 {
			lines := make([]string, len(msgs))
			for i, m := range msgs {
				lines[i] = m.Role + ": " + m.Content
			}
			parts = append(parts, strings.Join(lines, "\n"))
		}
	}
	parts = append(parts, "User: "+req.Prompt)
	return tokens.TruncateToBudget(strings.Join(parts, "\n\n"), g.cfg.MaxContextChars)
}

// Send delivers req and never fails: when every backend is exhausted the
// response carries the apology text and the aggregated error.
func (g *Gateway) Send(ctx context.Context, sess *Session, req Request) *Response {
	start := time.Now()
	prompt := g.BuildPrompt(sess, req)
	resp := &Response{}
	var errs []error

	finish := func(p Provider, text string) *Response {
		resp.Text = text
		resp.Provider = p.Name()
		resp.Latency = time.Since(start)
		if sess != nil {
			sess.Append(req.Prompt, text)
		}
		return resp
	}

	if g.primary != nil {
		for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
			timeout := g.cfg.Timeout + time.Duration(attempt)*g.cfg.RetryStep
			resp.Attempts++
			text, err := g.call(ctx, g.primary, prompt, timeout, attempt, req.RunID)
			if err == nil {
				return finish(g.primary, text)
			}
			errs = append(errs, err)
			if ctx.Err() != nil {
				return g.apologize(resp, start, errs)
			}
			if attempt < g.cfg.MaxRetries {
				wait := g.cfg.Backoff * time.Duration(1<<(attempt+1))
				g.logger.Info("retrying primary", "provider", g.primary.Name(), "wait", wait)
				if err := g.sleep(ctx, wait); err != nil {
					errs = append(errs, err)
					return g.apologize(resp, start, errs)
				}
			}
		}
	}

	if g.fallback != nil {
		g.logger.Warn("provider failed, trying next", "provider", g.fallback.Name(), "stage", "fallback")
		resp.Attempts++
		resp.Fallback = true
		text, err := g.call(ctx, g.fallback, prompt, g.cfg.Timeout+g.cfg.FallbackExtra, 0, req.RunID)
		if err == nil {
			return finish(g.fallback, text)
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			return g.apologize(resp, start, errs)
		}
	}

	if g.local != nil && g.local.IsAvailable(ctx) {
		g.logger.Warn("provider failed, trying next", "provider", g.local.Name(), "stage", "local")
		resp.Attempts++
		resp.Fallback = true
		text, err := g.call(ctx, g.local, prompt, g.cfg.LocalTimeout, 0, req.RunID)
		if err == nil {
			return finish(g.local, text)
		}
		errs = append(errs, err)
	}

	return g.apologize(resp, start, errs)
}

func (g *Gateway) apologize(resp *Response, start time.Time, errs []error) *Response {
	if len(errs) == 0 {
		errs = append(errs, ErrProviderUnavailable)
	}
	resp.Text = g.cfg.Apology
	resp.Apology = true
	resp.Latency = time.Since(start)
	resp.Err = &ChainError{Errors: errs}
	g.logger.Error("all providers failed", "attempts", resp.Attempts, "error", resp.Err)
	return resp
}

func (g *Gateway) call(ctx context.Context, p Provider, prompt string, timeout time.Duration, attempt int, runID string) (string, error) {
	g.emit(events.ProviderRequest, map[string]any{
		"provider":  p.Name(),
		"attempt":   attempt,
		"timeout_s": timeout.Seconds(),
		"chars":     len(prompt),
	}, runID)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, err := p.Send(callCtx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	elapsed := time.Since(start)

	if err != nil {
		err = WrapError(p.Name(), err)
		if IsTimeout(err) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			g.logger.Warn("provider timeout", "provider", p.Name(), "attempt", attempt, "timeout", timeout)
			g.emit(events.ProviderTimeout, map[string]any{
				"provider":  p.Name(),
				"attempt":   attempt,
				"timeout_s": timeout.Seconds(),
			}, runID)
		} else {
			g.logger.Warn("provider error", "provider", p.Name(), "attempt", attempt, "error", err)
			g.emit(events.ProviderError, map[string]any{
				"provider": p.Name(),
				"attempt":  attempt,
				"error":    err.Error(),
			}, runID)
		}
		return "", err
	}

	text = strings.TrimSpace(text)
	g.logger.Debug("provider ok", "provider", p.Name(), "latency", elapsed, "chars", len(text))
	g.emit(events.ProviderResponse, map[string]any{
		"provider":   p.Name(),
		"attempt":    attempt,
		"latency_ms": elapsed.Milliseconds(),
		"chars":      len(text),
	}, runID)
	return text, nil
}

func (g *Gateway) emit(eventType string, data map[string]any, runID string) {
	if g.cfg.Events != nil {
		g.cfg.Events.Emit(eventType, data, runID)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	}
}
