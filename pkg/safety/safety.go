// Package safety scores text and shell-like commands for risk before they
// reach a provider or executor.
package safety

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/teslashibe/go-parley/pkg/schema"
)

// Default confirmation thresholds.
const (
	DefaultVoiceThreshold = 3
	DefaultGUIThreshold   = 6
)

// scored pairs a pattern with its risk score.
type scored struct {
	re    *regexp.Regexp
	score int
}

// Zero-tolerance patterns, score 10.
var denylist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\s+/(?:\s|$|\*)`),
	regexp.MustCompile(`(?i)dd\s+if=/dev/zero\s+of=/dev/sd`),
	regexp.MustCompile(`(?i)mkfs\.\w+\s+/dev/sd`),
	regexp.MustCompile(`(?i)curl\s+.*\|\s*(?:bash|sh)`),
	regexp.MustCompile(`(?i)wget\s+.*\|\s*(?:bash|sh)`),
	regexp.MustCompile(`(?i)nc\s+-e\s+/bin/(?:ba)?sh`),
	regexp.MustCompile(`(?i)cat\s+~?/.ssh/id_rsa`),
	regexp.MustCompile(`(?i)cat\s+/etc/shadow`),
	regexp.MustCompile(`(?i)chmod\s+777\s+/`),
	regexp.MustCompile(`:\(\)\{\s*:\|:\s*&\s*\};:`), // fork bomb
}

var dangerous = []scored{
	{regexp.MustCompile(`(?i)rm\s+-rf?\s+`), 7},
	{regexp.MustCompile(`(?i)find\s+.*-delete`), 7},
	{regexp.MustCompile(`(?i)git\s+push\s+--force`), 8},
	{regexp.MustCompile(`(?i)git\s+reset\s+--hard`), 7},
	{regexp.MustCompile(`(?i)git\s+clean\s+-fdx`), 7},
	{regexp.MustCompile(`(?i)docker\s+system\s+prune\s+-a`), 7},
}

var caution = []scored{
	{regexp.MustCompile(`(?i)sudo\s+`), 5},
	{regexp.MustCompile(`(?i)shutdown`), 5},
	{regexp.MustCompile(`(?i)reboot`), 5},
	{regexp.MustCompile(`(?i)systemctl\s+(?:stop|restart)`), 4},
	{regexp.MustCompile(`(?i)npm\s+publish`), 4},
	{regexp.MustCompile(`(?i)pip\s+install\s+--user`), 3},
	{regexp.MustCompile(`(?i)git\s+push(?:\s|$)`), 3},
}

var allowlist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:ls|cat|head|tail|grep|tree|pwd)(?:\s|$)`),
	regexp.MustCompile(`(?i)^git\s+(?:status|log|diff|branch)(?:\s|$)`),
	regexp.MustCompile(`(?i)^npm\s+(?:install|run|test)(?:\s|$)`),
	regexp.MustCompile(`(?i)^python\s+-m\s+pytest`),
	regexp.MustCompile(`(?i)^(?:eslint|prettier|black|mypy)(?:\s|$)`),
}

// Instruction-override phrasing.
var injection = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)system\s*prompt\s*:`),
	regexp.MustCompile(`(?i)<\s*/?system\s*>`),
}

// Config holds policy settings.
type Config struct {
	CommandExecution bool `mapstructure:"command_execution" yaml:"command_execution"`
	VoiceThreshold   int  `mapstructure:"risk_threshold_voice" yaml:"risk_threshold_voice"`
	GUIThreshold     int  `mapstructure:"risk_threshold_gui" yaml:"risk_threshold_gui"`
	RedactSecrets    bool `mapstructure:"redact_secrets" yaml:"redact_secrets"`
}

// DefaultConfig returns the default policy settings.
func DefaultConfig() Config {
	return Config{
		VoiceThreshold: DefaultVoiceThreshold,
		GUIThreshold:   DefaultGUIThreshold,
		RedactSecrets:  true,
	}
}

// Policy evaluates risk with an ordered cascade of pattern tables.
type Policy struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a policy. A nil logger uses slog.Default.
func New(cfg Config, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		cfg:    cfg,
		logger: logger.With("component", "safety"),
	}
}

// Config returns the policy settings.
func (p *Policy) Config() Config {
	return p.cfg
}

// CheckCommand scores a shell command. The cascade is denylist, dangerous,
// caution, allowlist. Unmatched commands default to caution with score 4.
func (p *Policy) CheckCommand(cmd string) schema.SafetyResult {
	cmd = strings.TrimSpace(cmd)

	for _, re := range denylist {
		if re.MatchString(cmd) {
			p.logger.Warn("command blocked", "pattern", re.String())
			return blocked("BLOCKED: matches denylist pattern")
		}
	}

	for _, d := range dangerous {
		if d.re.MatchString(cmd) {
			return schema.SafetyResult{
				Level:                schema.RiskDangerous,
				Score:                d.score,
				Message:              "DANGEROUS: " + clip(cmd, 50),
				RequiresVoiceConfirm: true,
				RequiresGUIConfirm:   true,
			}
		}
	}

	for _, c := range caution {
		if c.re.MatchString(cmd) {
			return schema.SafetyResult{
				Level:                schema.RiskCaution,
				Score:                c.score,
				Message:              "Requires confirmation: " + clip(cmd, 50),
				RequiresVoiceConfirm: c.score >= p.cfg.VoiceThreshold,
				RequiresGUIConfirm:   c.score >= p.cfg.GUIThreshold,
			}
		}
	}

	for _, re := range allowlist {
		if re.MatchString(cmd) {
			return schema.SafetyResult{Level: schema.RiskSafe, Score: 0}
		}
	}

	return schema.SafetyResult{
		Level:                schema.RiskCaution,
		Score:                4,
		Message:              "Unknown command, confirmation required",
		RequiresVoiceConfirm: true,
	}
}

// CheckText screens free text for prompt injection and for embedded
// denylisted commands. Both are blocked outright.
func (p *Policy) CheckText(text string) schema.SafetyResult {
	for _, re := range injection {
		if re.MatchString(text) {
			p.logger.Warn("prompt injection detected", "pattern", re.String())
			return schema.SafetyResult{
				Level:   schema.RiskBlocked,
				Score:   9,
				Message: "Potential prompt injection detected",
			}
		}
	}
	for _, re := range denylist {
		if re.MatchString(text) {
			p.logger.Warn("text contains blocked command", "pattern", re.String())
			return blocked("BLOCKED: text contains a denylisted command")
		}
	}
	return schema.SafetyResult{Level: schema.RiskSafe, Score: 0}
}

// IsSafeForVoice reports whether the result may proceed without voice confirmation.
func (p *Policy) IsSafeForVoice(r schema.SafetyResult) bool {
	return r.Score < p.cfg.VoiceThreshold
}

// IsSafeForAuto reports whether the result may proceed without any confirmation.
func (p *Policy) IsSafeForAuto(r schema.SafetyResult) bool {
	return r.Level == schema.RiskSafe
}

func blocked(msg string) schema.SafetyResult {
	return schema.SafetyResult{Level: schema.RiskBlocked, Score: 10, Message: msg}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
