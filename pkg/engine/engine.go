// Package engine runs the voice command pipeline.
//
// One call to Process takes an utterance through safety screening, intent
// routing, optional refinement and confirmation, then dispatches it to the
// provider gateway. Every stage emits events on the bus and the whole
// execution is recorded as a run. Ordinary failures never surface as Go
// errors; they are encoded in the returned EngineResult.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/router"
	"github.com/teslashibe/go-parley/pkg/runs"
	"github.com/teslashibe/go-parley/pkg/safety"
	"github.com/teslashibe/go-parley/pkg/schema"
	"github.com/teslashibe/go-parley/pkg/stt"
	"github.com/teslashibe/go-parley/pkg/tokens"
)

// ErrBusy is returned when a run is already in progress.
var ErrBusy = errors.New("engine: pipeline busy")

// CommandPrefix starts the acknowledgement returned for command routes.
const CommandPrefix = "Kommando: "

// Run outcomes recorded in run summaries and metrics.
const (
	OutcomeSent    = "sent"
	OutcomeCommand = "command"
	OutcomeBlocked = "blocked"
	OutcomeApology = "apology"
	OutcomeNoInput = "no_input"
	OutcomeError   = "error"
)

// Refiner rewrites raw text. Model failures fall back to a passthrough
// result; an error means the text cannot be refined and ends the run.
type Refiner interface {
	Refine(ctx context.Context, raw string) (schema.RefinerResult, error)
}

// Confirmer asks the user to approve refined text.
type Confirmer interface {
	Run(ctx context.Context, refined schema.RefinerResult, runID string) (schema.ConfirmationOutcome, error)
	SetOverride(outcome schema.ConfirmationOutcome) bool
	State() string
	Pending() bool
}

// Deliverer hands the final response to the desktop.
type Deliverer interface {
	Deliver(ctx context.Context, text string) error
}

// Config holds engine settings.
type Config struct {
	RefinerEnabled      bool
	ConfirmationEnabled bool
	RedactSecrets       bool
	Budget              tokens.Budget

	// Language is passed to the transcriber.
	Language string

	// Profile is the active configuration profile, reported in Status.
	Profile string
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		RefinerEnabled:      true,
		ConfirmationEnabled: true,
		RedactSecrets:       true,
		Budget:              tokens.DefaultBudget(),
		Language:            "de",
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine settings.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithBus sets the event bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithRuns persists every run through m. The manager is attached to the
// engine's bus by New.
func WithRuns(m *runs.Manager) Option {
	return func(e *Engine) { e.runs = m }
}

// WithSafety sets the safety policy.
func WithSafety(p *safety.Policy) Option {
	return func(e *Engine) { e.safety = p }
}

// WithRouter sets the intent router.
func WithRouter(r *router.Router) Option {
	return func(e *Engine) { e.router = r }
}

// WithRefiner sets the prompt refiner.
func WithRefiner(r Refiner) Option {
	return func(e *Engine) { e.refiner = r }
}

// WithConfirmation sets the confirmation flow.
func WithConfirmation(c Confirmer) Option {
	return func(e *Engine) { e.confirmer = c }
}

// WithTranscriber sets the speech recognizer used by ProcessAudio.
func WithTranscriber(t stt.Transcriber) Option {
	return func(e *Engine) { e.stt = t }
}

// WithOutput delivers every successful response through d.
func WithOutput(d Deliverer) Option {
	return func(e *Engine) { e.output = d }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSession sets the conversation history shared across runs.
func WithSession(s *inference.Session) Option {
	return func(e *Engine) { e.session = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine orchestrates one pipeline run at a time.
type Engine struct {
	cfg       Config
	gateway   *inference.Gateway
	bus       *events.Bus
	runs      *runs.Manager
	safety    *safety.Policy
	router    *router.Router
	refiner   Refiner
	confirmer Confirmer
	stt       stt.Transcriber
	output    Deliverer
	metrics   *MetricsCollector
	session   *inference.Session
	logger    *slog.Logger

	busy      atomic.Bool
	refineOn  atomic.Bool
	started   time.Time
	mu        sync.Mutex
	lastRunID string
}

// New creates an engine dispatching to gateway. Components that are not
// configured get their defaults; refinement and confirmation are skipped
// when no refiner or confirmer is set.
func New(gateway *inference.Gateway, opts ...Option) *Engine {
	e := &Engine{
		cfg:     DefaultConfig(),
		gateway: gateway,
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")

	if e.bus == nil {
		e.bus = events.New(events.WithLogger(e.logger))
	}
	if e.safety == nil {
		e.safety = safety.New(safety.DefaultConfig(), e.logger)
	}
	if e.router == nil {
		e.router = router.New(router.DefaultConfig())
	}
	if e.metrics == nil {
		e.metrics = NewMetricsCollector(nil)
	}
	if e.session == nil {
		e.session = inference.NewSession(gateway.Config().HistoryMessages)
	}
	if e.cfg.Budget.MaxContextChars <= 0 {
		e.cfg.Budget = tokens.DefaultBudget()
	}
	if e.runs != nil {
		e.runs.Attach(e.bus)
	}
	e.refineOn.Store(e.cfg.RefinerEnabled)
	return e
}

// Request is one pipeline input.
type Request struct {
	Utterance        schema.Utterance
	SkipConfirmation bool
}

// ProcessText runs the pipeline for typed text.
func (e *Engine) ProcessText(ctx context.Context, text string, skipConfirmation bool) (*schema.EngineResult, error) {
	return e.Process(ctx, Request{
		Utterance:        schema.Utterance{Text: text, Origin: schema.OriginText},
		SkipConfirmation: skipConfirmation,
	})
}

// Process runs the pipeline for req. It returns ErrBusy when another run
// is in progress; every other failure is reported in the result.
func (e *Engine) Process(ctx context.Context, req Request) (*schema.EngineResult, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.busy.Store(false)

	rs := e.open()
	defer e.close(rs)
	e.run(ctx, rs, req)
	return rs.result, nil
}

// ProcessAudio transcribes samples and runs the pipeline on the text.
// A recording without recognizable speech ends the run early with an
// empty transcript and no error.
func (e *Engine) ProcessAudio(ctx context.Context, samples []int16, sampleRate int) (*schema.EngineResult, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.busy.Store(false)

	rs := e.open()
	defer e.close(rs)

	if rs.run != nil {
		if _, err := rs.run.SaveAudio(runs.AudioFile, samples, sampleRate); err != nil {
			e.logger.Warn("save audio failed", "run_id", rs.id, "error", err)
		}
	}

	if e.stt == nil {
		rs.fail(OutcomeError, "no transcriber configured")
		e.emitError(rs.id, "stt", rs.result.Error)
		return rs.result, nil
	}

	text, err := e.stt.Transcribe(ctx, samples, sampleRate, e.cfg.Language)
	e.metrics.Mark(StageTranscribe)
	if err != nil {
		rs.fail(OutcomeError, fmt.Sprintf("stt: %v", err))
		e.emitError(rs.id, "stt", err.Error())
		return rs.result, nil
	}
	text = strings.TrimSpace(text)
	e.bus.Emit(events.STTResult, map[string]any{
		"text":     text,
		"provider": e.stt.Name(),
		"samples":  len(samples),
	}, rs.id)

	if text == "" {
		rs.outcome = OutcomeNoInput
		e.logger.Info("no speech recognized", "run_id", rs.id)
		return rs.result, nil
	}

	e.run(ctx, rs, Request{Utterance: schema.Utterance{Text: text, Origin: schema.OriginVoice}})
	return rs.result, nil
}

// runState carries one run through the pipeline.
type runState struct {
	id      string
	run     *runs.Run
	started time.Time
	result  *schema.EngineResult
	outcome string
}

func (rs *runState) fail(outcome, msg string) {
	rs.outcome = outcome
	rs.result.Error = msg
}

func (e *Engine) open() *runState {
	rs := &runState{started: time.Now(), outcome: OutcomeError}
	if e.runs != nil {
		run, err := e.runs.Start()
		if err != nil {
			e.logger.Warn("open run failed, continuing unpersisted", "error", err)
		} else {
			rs.run = run
			rs.id = run.ID()
		}
	}
	if rs.id == "" {
		rs.id = runs.NewRunID(rs.started)
	}
	rs.result = &schema.EngineResult{RunID: rs.id}

	e.mu.Lock()
	e.lastRunID = rs.id
	e.mu.Unlock()

	e.metrics.Begin(rs.id)
	e.bus.Emit(events.RunStart, map[string]any{}, rs.id)
	return rs
}

func (e *Engine) close(rs *runState) {
	res := rs.result
	m := e.metrics.Finish(res.Route, rs.outcome)

	data := map[string]any{
		"outcome":     rs.outcome,
		"route":       string(res.Route),
		"duration_ms": m.TotalLatency.Milliseconds(),
	}
	if res.Error != "" {
		data["error"] = res.Error
	}
	e.bus.Emit(events.RunEnd, data, rs.id)

	if rs.run == nil {
		return
	}
	if _, err := rs.run.SaveArtifact("result.json", res); err != nil {
		e.logger.Warn("save result failed", "run_id", rs.id, "error", err)
	}
	extra := map[string]any{
		"route":          string(res.Route),
		"response_chars": len([]rune(res.ResponseText)),
		"latency":        m.FormatLatency(),
	}
	if res.Error != "" {
		extra["error"] = res.Error
	}
	if _, err := rs.run.End(rs.outcome, extra); err != nil {
		e.logger.Warn("close run failed", "run_id", rs.id, "error", err)
	}
}

// run executes Safety, Route, Refine, Confirm and Dispatch in order.
func (e *Engine) run(ctx context.Context, rs *runState, req Request) {
	res := rs.result
	text := strings.TrimSpace(req.Utterance.Text)
	res.Transcript = text
	logger := e.logger.With("run_id", rs.id)

	if text == "" {
		rs.fail(OutcomeError, schema.ErrEmptyText.Error())
		e.emitError(rs.id, "input", res.Error)
		return
	}

	verdict := e.safety.CheckText(text)
	res.Safety = &verdict
	e.bus.Emit(events.SafetyCheck, map[string]any{
		"risk_level": string(verdict.Level),
		"risk_score": verdict.Score,
		"message":    verdict.Message,
	}, rs.id)
	e.metrics.Mark(StageSafety)
	if verdict.Blocked() {
		e.bus.Emit(events.SafetyBlocked, map[string]any{
			"risk_score": verdict.Score,
			"message":    verdict.Message,
		}, rs.id)
		e.metrics.Blocked()
		rs.fail(OutcomeBlocked, "blocked: "+verdict.Message)
		logger.Warn("utterance blocked", "score", verdict.Score)
		return
	}

	routed := e.router.Route(text)
	res.Route = routed.Route
	res.Router = &routed
	data := map[string]any{
		"route":      string(routed.Route),
		"confidence": routed.Confidence,
		"notes":      routed.Notes,
	}
	if routed.Command != nil {
		data["command"] = routed.Command.Name
	}
	e.bus.Emit(events.RouterResult, data, rs.id)
	e.metrics.Mark(StageRoute)

	if routed.Route == schema.RouteCommand && routed.Command != nil {
		res.ResponseText = CommandPrefix + routed.Command.Name
		rs.outcome = OutcomeCommand
		logger.Info("command recognized", "command", routed.Command.Name)
		return
	}

	final := text
	refined := schema.Passthrough(text)
	confirmOn := !req.SkipConfirmation && e.confirmer != nil && e.cfg.ConfirmationEnabled
	refineOn := e.refiner != nil && e.refineOn.Load()
	needsConfirm := false

	switch {
	case routed.Route == schema.RouteRefine && refineOn:
		out, err := e.refiner.Refine(ctx, text)
		if err != nil {
			rs.fail(OutcomeError, err.Error())
			e.emitError(rs.id, "refiner", err.Error())
			return
		}
		refined = out
		e.bus.Emit(events.RefinerResult, map[string]any{
			"intent":        refined.Intent,
			"improved_text": refined.ImprovedText,
			"do":            string(refined.Action),
			"questions":     refined.Questions,
		}, rs.id)
		e.metrics.Mark(StageRefine)
		res.Refiner = &refined
		res.ImprovedText = refined.ImprovedText
		final = refined.ImprovedText
		needsConfirm = true
	case !refineOn && confirmOn:
		// With refinement off every dispatched utterance is read back raw.
		e.bus.Emit(events.RefinerSkipped, map[string]any{
			"reason": "disabled",
		}, rs.id)
		res.Refiner = &refined
		res.ImprovedText = text
		needsConfirm = true
	}

	if needsConfirm && confirmOn {
		outcome, err := e.confirmer.Run(ctx, refined, rs.id)
		e.metrics.Mark(StageConfirm)
		if err != nil {
			rs.fail(OutcomeError, fmt.Sprintf("confirmation: %v", err))
			e.emitError(rs.id, "confirmation", err.Error())
			return
		}
		res.Outcome = outcome
		if !outcome.Proceeds() {
			rs.fail(string(outcome), "confirmation "+string(outcome))
			logger.Info("run stopped by confirmation", "outcome", outcome)
			return
		}
	}

	prompt := final
	if e.cfg.RedactSecrets {
		prompt = tokens.RedactSensitive(prompt)
	}
	prompt = tokens.TruncateToBudget(prompt, e.cfg.Budget.MaxContextChars)

	resp := e.gateway.Send(ctx, e.session, inference.Request{
		Prompt:  prompt,
		Context: req.Utterance.Context,
		RunID:   rs.id,
	})
	e.metrics.Mark(StageProvider)

	res.ResponseText = resp.Text
	metrics := tokens.Measure(prompt, resp.Text, resp.Latency)
	res.Metrics = &metrics
	e.metrics.Provider(resp.Provider, resp.Latency, metrics, resp.Apology)
	e.bus.Emit(events.MetricsUpdate, map[string]any{
		"chars_in":      metrics.CharsIn,
		"chars_out":     metrics.CharsOut,
		"token_est_in":  metrics.TokenEstIn,
		"token_est_out": metrics.TokenEstOut,
		"latency_ms":    metrics.LatencyMs,
		"provider":      resp.Provider,
	}, rs.id)

	if resp.Apology {
		rs.fail(OutcomeApology, resp.Err.Error())
		e.emitError(rs.id, "provider", res.Error)
		return
	}
	rs.outcome = OutcomeSent

	if e.output != nil {
		if err := e.output.Deliver(ctx, resp.Text); err != nil {
			logger.Warn("output delivery failed", "error", err)
			e.emitError(rs.id, "output", err.Error())
		}
		e.metrics.Mark(StageOutput)
	}
}

func (e *Engine) emitError(runID, stage, msg string) {
	e.bus.Emit(events.Error, map[string]any{
		"stage": stage,
		"error": msg,
	}, runID)
}

// SetRefinerEnabled switches refinement on or off for later runs.
func (e *Engine) SetRefinerEnabled(enabled bool) {
	old := e.refineOn.Swap(enabled)
	if old == enabled {
		return
	}
	e.logger.Info("refiner toggled", "enabled", enabled)
	e.bus.Emit(events.RefinerToggle, map[string]any{"enabled": enabled}, "")
}

// RefinerEnabled reports whether refinement is on.
func (e *Engine) RefinerEnabled() bool {
	return e.refineOn.Load()
}

// OverrideConfirmation resolves a pending confirmation with outcome. It
// reports false when no confirmation flow is configured or the override
// was not accepted.
func (e *Engine) OverrideConfirmation(outcome schema.ConfirmationOutcome) bool {
	if e.confirmer == nil {
		return false
	}
	return e.confirmer.SetOverride(outcome)
}

// Busy reports whether a run is in progress.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// State names what the engine is doing: the confirmation phase while a
// confirmation is pending, "processing" during any other run, else "idle".
func (e *Engine) State() string {
	if e.confirmer != nil && e.confirmer.Pending() {
		return e.confirmer.State()
	}
	if e.busy.Load() {
		return "processing"
	}
	return string(schema.PhaseIdle)
}

// Status is a snapshot of the engine for status endpoints.
type Status struct {
	State          string             `json:"state"`
	Busy           bool               `json:"busy"`
	RefinerEnabled bool               `json:"refiner_enabled"`
	Provider       string             `json:"provider"`
	Providers      []inference.Status `json:"providers"`
	Profile        string             `json:"config_profile"`
	LastRunID      string             `json:"last_run_id,omitempty"`
	UptimeS        float64            `json:"uptime_s"`
	RecentEvents   []schema.RunEvent  `json:"recent_events"`
}

// Status reports the engine state. Probing backends may block up to their
// availability timeouts.
func (e *Engine) Status(ctx context.Context, recent int) Status {
	e.mu.Lock()
	last := e.lastRunID
	e.mu.Unlock()

	st := Status{
		State:          e.State(),
		Busy:           e.Busy(),
		RefinerEnabled: e.RefinerEnabled(),
		Providers:      e.gateway.Status(ctx),
		Profile:        e.cfg.Profile,
		LastRunID:      last,
		UptimeS:        time.Since(e.started).Seconds(),
		RecentEvents:   e.bus.Recent(recent),
	}
	if p := e.gateway.Primary(); p != nil {
		st.Provider = p.Name()
	}
	return st
}

// Bus returns the event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Runs returns the run manager, or nil when runs are not persisted.
func (e *Engine) Runs() *runs.Manager { return e.runs }

// Metrics returns the metrics collector.
func (e *Engine) Metrics() *MetricsCollector { return e.metrics }

// Session returns the conversation history.
func (e *Engine) Session() *inference.Session { return e.session }

// Uptime returns the time since the engine was created.
func (e *Engine) Uptime() time.Duration { return time.Since(e.started) }
