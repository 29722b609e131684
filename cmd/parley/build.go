package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/pkg/confirm"
	"github.com/teslashibe/go-parley/pkg/engine"
	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/output"
	"github.com/teslashibe/go-parley/pkg/refiner"
	"github.com/teslashibe/go-parley/pkg/router"
	"github.com/teslashibe/go-parley/pkg/runs"
	"github.com/teslashibe/go-parley/pkg/safety"
	"github.com/teslashibe/go-parley/pkg/stt"
)

// pipeline bundles the long-lived components one command works with.
type pipeline struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	runs     *runs.Manager
	gateway  *inference.Gateway
	engine   *engine.Engine
	registry *prometheus.Registry
	flow     *confirm.Flow
	mirror   *events.RedisMirror
}

// pipelineOptions carries the interactive hooks of the caller.
type pipelineOptions struct {
	speak       confirm.SpeakFunc
	listen      confirm.ListenFunc
	transcriber stt.Transcriber
	noRuns      bool
}

// buildGateway creates the provider chain described by cfg.
func buildGateway(cfg *config.Config, bus *events.Bus, logger *slog.Logger) (*inference.Gateway, error) {
	p := cfg.Providers

	var (
		primary  inference.Provider
		fallback inference.Provider
	)
	switch p.Primary {
	case config.BackendGeminiCLI:
		primary = inference.NewCLI(p.Binary, p.Model, inference.WithName(p.Primary))
		if p.FallbackModel != "" && p.FallbackModel != p.Model {
			fallback = inference.NewCLI(p.Binary, p.FallbackModel, inference.WithName(p.Primary+":"+p.FallbackModel))
		}
	case config.BackendOllama:
		primary = inference.NewOllama(p.OllamaURL, p.Model)
		if p.FallbackModel != "" && p.FallbackModel != p.Model {
			fallback = inference.NewOllama(p.OllamaURL, p.FallbackModel)
		}
	case config.BackendOpenAI:
		o, err := inference.NewOpenAI(p.OpenAI.APIKey, p.OpenAI.Model, inference.WithOpenAIBaseURL(p.OpenAI.BaseURL))
		if err != nil {
			return nil, err
		}
		primary = o
	case config.BackendMock:
		primary = &inference.Mock{SendFunc: func(ctx context.Context, prompt string) (string, error) {
			return "echo: " + lastLine(prompt), nil
		}}
	default:
		return nil, fmt.Errorf("unknown primary backend %q", p.Primary)
	}

	opts := []inference.GatewayOption{
		inference.WithConfig(
			inference.WithTimeout(p.Timeout),
			inference.WithRetry(p.MaxRetries, p.Backoff),
			inference.WithRetryStep(p.RetryStep),
			inference.WithFallbackExtra(p.FallbackTimeoutExtra),
			inference.WithLocalTimeout(p.LocalTimeout),
			inference.WithMaxContextChars(cfg.Tokens.MaxContextChars),
			inference.WithHistoryMessages(p.HistoryMessages),
			inference.WithLogger(logger),
			inference.WithEvents(bus),
		),
	}
	if fallback != nil {
		opts = append(opts, inference.WithFallback(fallback))
	}
	if p.Local == config.BackendOllama && p.Primary != config.BackendOllama {
		opts = append(opts, inference.WithLocal(inference.NewOllama(p.OllamaURL, p.OllamaModel)))
	}
	return inference.NewGateway(primary, opts...), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimPrefix(s, "User: ")
}

// buildPipeline wires the engine and its collaborators from cfg.
func buildPipeline(cfg *config.Config, po pipelineOptions) (*pipeline, error) {
	logger := slog.Default()
	p := &pipeline{
		cfg:      cfg,
		logger:   logger,
		bus:      events.New(events.WithHistorySize(cfg.Events.History), events.WithLogger(logger)),
		registry: prometheus.NewRegistry(),
	}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Events.RedisURL != "" {
		m, err := events.NewRedisMirror(cfg.Events.RedisURL, cfg.Events.RedisChannel, logger)
		if err != nil {
			return nil, fmt.Errorf("redis mirror: %w", err)
		}
		m.Attach(p.bus)
		p.mirror = m
	}

	gw, err := buildGateway(cfg, p.bus, logger)
	if err != nil {
		return nil, err
	}
	p.gateway = gw

	rt := router.New(cfg.Router)
	ref := refiner.New(
		inference.NewOllama(cfg.Refiner.URL, cfg.Refiner.Model),
		refiner.Config{Model: cfg.Refiner.Model, Timeout: cfg.Refiner.Timeout},
		logger,
	)

	listen := po.listen
	if listen == nil {
		listen = waitForOverride
	}
	p.flow = confirm.New(p.bus, po.speak, listen, cfg.Confirmation, logger)

	deliver, err := output.New(output.Mode(cfg.Output.Mode), output.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	ecfg := engine.DefaultConfig()
	ecfg.RefinerEnabled = cfg.Refiner.Enabled
	ecfg.ConfirmationEnabled = cfg.Confirmation.Enabled
	ecfg.RedactSecrets = cfg.Safety.RedactSecrets
	ecfg.Budget = cfg.Tokens
	ecfg.Language = cfg.STT.Language
	ecfg.Profile = cfg.Profile

	opts := []engine.Option{
		engine.WithConfig(ecfg),
		engine.WithBus(p.bus),
		engine.WithSafety(safety.New(cfg.Safety, logger)),
		engine.WithRouter(rt),
		engine.WithRefiner(ref),
		engine.WithConfirmation(p.flow),
		engine.WithOutput(deliver),
		engine.WithMetrics(engine.NewMetricsCollector(p.registry)),
		engine.WithLogger(logger),
	}
	if !po.noRuns {
		p.runs = runs.NewManager(cfg.Runs.Dir, runs.WithLogger(logger))
		opts = append(opts, engine.WithRuns(p.runs))
	}
	if po.transcriber != nil {
		opts = append(opts, engine.WithTranscriber(po.transcriber))
	}
	p.engine = engine.New(gw, opts...)
	return p, nil
}

// Close releases background resources.
func (p *pipeline) Close() {
	if p.mirror != nil {
		if err := p.mirror.Close(); err != nil {
			p.logger.Warn("close redis mirror", "error", err)
		}
	}
}

// waitForOverride is the listener used without a microphone: only a UI
// override or the timeout resolves a confirmation.
func waitForOverride(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
