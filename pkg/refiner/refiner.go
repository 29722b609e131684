// Package refiner rewrites raw speech transcripts into cleaner prompts
// using a local model, and falls back to passing the text through
// unchanged whenever that fails.
package refiner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/schema"
)

// SystemPrompt instructs the model to answer with the refiner JSON object.
const SystemPrompt = `Du bist ein Prompt-Optimierer. Du erhältst einen rohen Sprachtext und verbesserst ihn.

REGELN:
- Entferne Füllwörter (ähm, also, halt, sozusagen)
- Korrigiere Grammatik und Interpunktion
- Füge fehlenden Kontext hinzu wenn offensichtlich
- Behalte die ursprüngliche Absicht bei
- Antworte IMMER im folgenden JSON-Format, NICHTS anderes:

{
  "intent": "<kurze Absichtsbeschreibung>",
  "improved_text": "<verbesserter Text>",
  "do": "send|ask|edit",
  "questions": [],
  "token_budget": {"max_output_tokens": 2048}
}

"do" Regeln:
- "send": Text ist klar, kann direkt gesendet werden
- "ask": Text ist unklar, questions enthält Rückfragen
- "edit": Text braucht manuelle Überarbeitung`

const promptPrefix = "Verbessere diesen Sprachtext:\n\n"

// DefaultTimeout bounds one refinement call.
const DefaultTimeout = 30 * time.Second

// Kind classifies refinement failures.
type Kind string

const (
	KindUnreachable  Kind = "unreachable"
	KindMalformed    Kind = "malformed"
	KindMissingField Kind = "missing_field"
	KindEmptyInput   Kind = "empty_input"
)

// Error is a refinement failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("refiner: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrEmptyInput is returned for blank transcripts.
var ErrEmptyInput = errors.New("refiner: empty input")

// Generator produces a completion from the local model.
type Generator interface {
	Generate(ctx context.Context, req inference.GenerateRequest) (string, error)
}

// Config holds refiner settings.
type Config struct {
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Refiner calls the local rewriting model.
type Refiner struct {
	gen    Generator
	cfg    Config
	logger *slog.Logger
}

// New creates a refiner. A nil logger uses slog.Default.
func New(gen Generator, cfg Config, logger *slog.Logger) *Refiner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refiner{
		gen:    gen,
		cfg:    cfg,
		logger: logger.With("component", "refiner"),
	}
}

// Refine returns the refined result, or a passthrough of raw when the
// model is unreachable or its reply unusable. Blank input has nothing to
// pass through and fails with a KindEmptyInput *Error.
func (r *Refiner) Refine(ctx context.Context, raw string) (schema.RefinerResult, error) {
	res, err := r.TryRefine(ctx, raw)
	if err == nil {
		return res, nil
	}

	var rerr *Error
	switch {
	case errors.As(err, &rerr) && rerr.Kind == KindEmptyInput:
		return schema.RefinerResult{}, err
	case errors.As(err, &rerr) && rerr.Kind == KindUnreachable:
		r.logger.Warn("refiner unreachable, using passthrough", "error", rerr.Err)
	case errors.As(err, &rerr):
		r.logger.Warn("refiner reply unusable, using passthrough", "kind", rerr.Kind, "error", rerr.Err)
	default:
		r.logger.Debug("refinement skipped", "error", err)
	}
	return schema.Passthrough(raw), nil
}

// TryRefine calls the model and reports failures instead of recovering.
func (r *Refiner) TryRefine(ctx context.Context, raw string) (schema.RefinerResult, error) {
	if strings.TrimSpace(raw) == "" {
		return schema.RefinerResult{}, &Error{Kind: KindEmptyInput, Err: ErrEmptyInput}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	reply, err := r.gen.Generate(ctx, inference.GenerateRequest{
		Model:  r.cfg.Model,
		Prompt: promptPrefix + raw,
		System: SystemPrompt,
		Format: "json",
		Options: map[string]any{
			"temperature": 0.3,
			"num_predict": 512,
		},
	})
	if err != nil {
		return schema.RefinerResult{}, &Error{Kind: KindUnreachable, Err: err}
	}
	return Parse(reply)
}

type reply struct {
	Intent       string   `json:"intent"`
	ImprovedText string   `json:"improved_text"`
	Do           string   `json:"do"`
	Questions    []string `json:"questions"`
	TokenBudget  *struct {
		MaxOutputTokens int `json:"max_output_tokens"`
	} `json:"token_budget"`
}

// Parse decodes the model's JSON reply. improved_text is required; intent
// defaults to "unknown" and an unknown action to send.
func Parse(s string) (schema.RefinerResult, error) {
	var rp reply
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &rp); err != nil {
		return schema.RefinerResult{}, &Error{Kind: KindMalformed, Err: err}
	}
	if strings.TrimSpace(rp.ImprovedText) == "" {
		return schema.RefinerResult{}, &Error{Kind: KindMissingField, Err: errors.New("improved_text")}
	}

	res := schema.RefinerResult{
		Intent:       strings.TrimSpace(rp.Intent),
		ImprovedText: strings.TrimSpace(rp.ImprovedText),
		Action:       schema.ParseAction(rp.Do),
		Questions:    rp.Questions,
		TokenBudget:  schema.DefaultTokenBudget,
	}
	if res.Intent == "" {
		res.Intent = "unknown"
	}
	if res.Questions == nil {
		res.Questions = []string{}
	}
	if rp.TokenBudget != nil && rp.TokenBudget.MaxOutputTokens > 0 {
		res.TokenBudget.MaxOutputTokens = rp.TokenBudget.MaxOutputTokens
	}
	return res, nil
}
