// Package tokens keeps prompts within budget and strips sensitive content
// before text leaves the process.
//
// All functions are pure and safe for concurrent use. Lengths are measured in
// runes so multi-byte letters are never split.
package tokens

import (
	"regexp"
	"strings"
	"time"

	"github.com/teslashibe/go-parley/pkg/schema"
)

// Hard caps used when no explicit budget is configured.
const (
	DefaultMaxContextChars = 8000
	DefaultMaxTurns        = 12
	DefaultMaxOutputTokens = 2048

	// CharsPerToken approximates German text.
	CharsPerToken = 3.5

	// maxMessageChars caps a single history entry inside a context summary.
	maxMessageChars = 500
)

// Budget bundles the configured limits.
type Budget struct {
	MaxContextChars int `mapstructure:"max_context_chars" yaml:"max_context_chars" json:"max_context_chars"`
	MaxTurns        int `mapstructure:"max_turns" yaml:"max_turns" json:"max_turns"`
	MaxOutputTokens int `mapstructure:"max_output_tokens" yaml:"max_output_tokens" json:"max_output_tokens"`
}

// DefaultBudget returns the default caps.
func DefaultBudget() Budget {
	return Budget{
		MaxContextChars: DefaultMaxContextChars,
		MaxTurns:        DefaultMaxTurns,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

// EstimateTokens returns a character-count based token estimate, never below 1.
func EstimateTokens(text string) int {
	n := int(float64(runeLen(text)) / CharsPerToken)
	if n < 1 {
		return 1
	}
	return n
}

// CheckBudget reports whether text fits within maxTokens.
func CheckBudget(text string, maxTokens int) bool {
	return EstimateTokens(text) <= maxTokens
}

// TruncateToBudget cuts text to at most maxChars runes. It prefers the last
// sentence boundary beyond 70% of the limit and otherwise hard-cuts and
// appends "...". The result never exceeds maxChars+3 runes and applying it
// twice yields the same string.
func TruncateToBudget(text string, maxChars int) string {
	if maxChars < 0 {
		maxChars = 0
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	cut := runes[:maxChars]
	if i := lastIndexRune(cut, '.'); float64(i) > float64(maxChars)*0.7 {
		return string(cut[:i+1])
	}
	return string(cut) + "..."
}

// SummarizeContext renders the most recent messages as "role: content" lines
// that fit within maxChars. Only the last maxTurns exchanges are considered
// and the oldest entries are dropped first.
func SummarizeContext(messages []schema.Message, maxChars, maxTurns int) string {
	if len(messages) == 0 {
		return ""
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if limit := maxTurns * 2; len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	var parts []string
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		role := messages[i].Role
		if role == "" {
			role = schema.RoleUser
		}
		content := messages[i].Content
		if r := []rune(content); len(r) > maxMessageChars {
			content = string(r[:maxMessageChars]) + "..."
		}
		entry := role + ": " + content
		n := runeLen(entry)
		if total+n > maxChars {
			break
		}
		parts = append(parts, entry)
		total += n + 1
	}

	// parts were collected newest first
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "\n")
}

// Measure builds the size and latency metrics for one exchange.
func Measure(in, out string, latency time.Duration) schema.TokenMetrics {
	return schema.TokenMetrics{
		CharsIn:     runeLen(in),
		CharsOut:    runeLen(out),
		TokenEstIn:  EstimateTokens(in),
		TokenEstOut: EstimateTokens(out),
		LatencyMs:   latency.Milliseconds(),
	}
}

func runeLen(s string) int {
	return len([]rune(s))
}

func lastIndexRune(r []rune, target rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == target {
			return i
		}
	}
	return -1
}

// redaction is one replacement rule applied by RedactSensitive.
type redaction struct {
	re          *regexp.Regexp
	replacement string
}

const redactedPrefix = "[REDACTED_"

var (
	redactions = []redaction{
		{regexp.MustCompile(`\bsk-[a-zA-Z0-9]{20,}\b`), "[REDACTED_KEY]"},
		{regexp.MustCompile(`\b[a-f0-9]{40,}\b`), "[REDACTED_HEX]"},
		{regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`), "[REDACTED_B64]"},
		{regexp.MustCompile(`-----BEGIN [A-Z ]+-----[\s\S]*?-----END [A-Z ]+-----`), "[REDACTED_CERT]"},
	}

	secretAssignment = regexp.MustCompile(`(?i)(?:password|passwd|secret|token)\s*[:=]\s*(\S+)`)
	hexValue         = regexp.MustCompile(`^[a-f0-9]{40,}`)

	// A Python traceback header, its indented frame lines, and the final exception line.
	stackTrace = regexp.MustCompile(`Traceback \(most recent call last\):(?:\n[ \t][^\n]*)*(?:\n[^\s][^\n]*)?`)
)

// RedactSensitive replaces API-key shaped strings, long hex and base64 blobs,
// PEM blocks, secret assignments and stack traces with placeholders.
// It is idempotent.
func RedactSensitive(text string) string {
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.replacement)
	}
	text = secretAssignment.ReplaceAllStringFunc(text, func(match string) string {
		sub := secretAssignment.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		if strings.HasPrefix(sub[1], redactedPrefix) || hexValue.MatchString(sub[1]) {
			return match
		}
		return "[REDACTED_SECRET]"
	})
	return stackTrace.ReplaceAllString(text, "[REDACTED_STACKTRACE]")
}
