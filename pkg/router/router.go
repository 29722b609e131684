// Package router classifies an utterance into a command, a refinement
// request, or a language-model prompt. Routing has no side effects and is
// deterministic.
package router

import (
	"regexp"
	"strings"

	"github.com/teslashibe/go-parley/pkg/schema"
)

// Confidence values assigned by each routing rule.
const (
	ConfidenceCommand       = 0.95
	ConfidenceRefineKey     = 0.7
	ConfidenceShort         = 0.6
	ConfidenceLanguageModel = 0.8
)

// Command is a named voice command and the phrases that trigger it.
type Command struct {
	Name     string
	Keywords []string
}

// DefaultCommands is evaluated in order; the first match wins.
var DefaultCommands = []Command{
	{"send", []string{"abschicken", "senden", "send", "schick ab", "ja", "passt", "go", "los"}},
	{"cancel", []string{"stop", "abbrechen", "cancel", "nein", "vergiss es", "stopp"}},
	{"redo", []string{"nochmal", "von vorn", "neu", "von vorne", "redo"}},
	{"edit", []string{"verändern", "ändern", "bearbeiten", "edit"}},
	{"readback", []string{"lies vor", "vorlesen", "lies mir vor", "nochmal vorlesen"}},
	{"pause", []string{"wanda pause", "pause"}},
	{"resume", []string{"wanda weiter", "hey wanda", "resume"}},
}

// DefaultRefineKeywords mark utterances that benefit from rewriting.
var DefaultRefineKeywords = []string{
	"brainstorm", "ideen", "optionen", "möglichkeiten", "vorschläge",
	"recherchiere", "research", "finde", "suche",
	"fix", "bug", "error", "fehler", "debug",
	"diktieren", "schreibe auf", "notiere",
}

// Config holds router settings.
type Config struct {
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	ShortUtteranceWords int      `mapstructure:"short_utterance_words" yaml:"short_utterance_words"`
	WakeWord            string   `mapstructure:"wake_word" yaml:"wake_word"`
	WakeWordVariants    []string `mapstructure:"wake_word_variants" yaml:"wake_word_variants"`
}

// DefaultConfig returns the default router settings.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.6,
		ShortUtteranceWords: 5,
		WakeWord:            "wanda",
		WakeWordVariants:    []string{"wunder", "wander"},
	}
}

// Router routes utterances.
type Router struct {
	cfg            Config
	commands       []Command
	refineKeywords []string
}

// Option configures a Router.
type Option func(*Router)

// WithCommands replaces the command table.
func WithCommands(cmds []Command) Option {
	return func(r *Router) { r.commands = cmds }
}

// WithRefineKeywords replaces the refine keyword list.
func WithRefineKeywords(kws []string) Option {
	return func(r *Router) { r.refineKeywords = kws }
}

// New creates a router.
func New(cfg Config, opts ...Option) *Router {
	if cfg.ShortUtteranceWords <= 0 {
		cfg.ShortUtteranceWords = 5
	}
	r := &Router{
		cfg:            cfg,
		commands:       DefaultCommands,
		refineKeywords: DefaultRefineKeywords,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route classifies text.
func (r *Router) Route(text string) schema.RouterResult {
	if strings.TrimSpace(text) == "" {
		return schema.RouterResult{Route: schema.RouteLanguageModel, Confidence: 0.0, Notes: "empty input"}
	}

	normalized := r.Normalize(text)

	if match := r.matchCommand(normalized); match != nil {
		return schema.RouterResult{
			Route:      schema.RouteCommand,
			Confidence: ConfidenceCommand,
			Command:    match,
			Notes:      "command: " + match.Name,
		}
	}

	for _, kw := range r.refineKeywords {
		if strings.Contains(normalized, kw) {
			return schema.RouterResult{
				Route:      schema.RouteRefine,
				Confidence: ConfidenceRefineKey,
				Notes:      "keyword match -> refine",
			}
		}
	}

	if len(strings.Fields(normalized)) < r.cfg.ShortUtteranceWords {
		return schema.RouterResult{
			Route:      schema.RouteRefine,
			Confidence: ConfidenceShort,
			Notes:      "short input -> refine for clarity",
		}
	}

	return schema.RouterResult{
		Route:      schema.RouteLanguageModel,
		Confidence: ConfidenceLanguageModel,
		Notes:      "default -> llm",
	}
}

// Confident reports whether a result meets the configured confidence threshold.
func (r *Router) Confident(res schema.RouterResult) bool {
	return res.Confidence >= r.cfg.ConfidenceThreshold
}

func (r *Router) matchCommand(text string) *schema.CommandMatch {
	for _, cmd := range r.commands {
		for _, kw := range cmd.Keywords {
			if text == kw || strings.HasPrefix(text, kw+" ") || strings.HasSuffix(text, " "+kw) {
				return &schema.CommandMatch{Name: cmd.Name, Keyword: kw}
			}
		}
	}
	return nil
}

var (
	disallowed = regexp.MustCompile(`[^a-z0-9äöüß\s]`)
	spaces     = regexp.MustCompile(`\s+`)
)

// Normalize lowercases text, folds wake word mishearings to the canonical
// wake word, strips punctuation and collapses whitespace.
func (r *Router) Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	if r.cfg.WakeWord != "" {
		for _, v := range r.cfg.WakeWordVariants {
			text = strings.ReplaceAll(text, v, r.cfg.WakeWord)
		}
	}
	text = disallowed.ReplaceAllString(text, "")
	return strings.TrimSpace(spaces.ReplaceAllString(text, " "))
}
