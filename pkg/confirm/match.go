package confirm

import (
	"strings"

	"github.com/teslashibe/go-parley/pkg/schema"
)

// Similarity thresholds for fuzzy command recognition. Keywords of up to
// three runes only match exactly or on word boundaries.
const (
	WholeRatio   = 0.8
	WordRatio    = 0.85
	minFuzzyRune = 4
)

// Keywords maps each outcome to its spoken trigger phrases.
type Keywords struct {
	Outcome schema.ConfirmationOutcome
	Phrases []string
}

// DefaultKeywords are checked in order; the first match wins.
var DefaultKeywords = []Keywords{
	{schema.OutcomeSend, []string{
		"abschicken", "abschike", "abschik", "abschick", "senden", "send",
		"ja", "passt", "go", "los", "schick ab", "schick", "ok", "das passt",
	}},
	{schema.OutcomeEdit, []string{"verändern", "ändern", "bearbeiten", "edit", "editieren"}},
	{schema.OutcomeRedo, []string{"nochmal", "von vorn", "neu", "von vorne", "redo", "restart"}},
	{schema.OutcomeCancel, []string{"stop", "abbrechen", "cancel", "nein", "vergiss es", "stopp"}},
}

// Detect recognizes a confirmation command in text using DefaultKeywords.
func Detect(text string) (schema.ConfirmationOutcome, bool) {
	return DetectWith(DefaultKeywords, text)
}

// DetectWith recognizes a confirmation command in text. For each keyword
// it tries an exact match, a word-boundary match, then a similarity ratio
// against the whole utterance and against each word.
func DetectWith(table []Keywords, text string) (schema.ConfirmationOutcome, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return schema.OutcomeNone, false
	}
	words := strings.Fields(normalized)

	for _, entry := range table {
		for _, kw := range entry.Phrases {
			if normalized == kw ||
				strings.HasPrefix(normalized, kw+" ") ||
				strings.HasSuffix(normalized, " "+kw) ||
				strings.Contains(normalized, " "+kw+" ") {
				return entry.Outcome, true
			}

			if runeLen(kw) < minFuzzyRune {
				continue
			}
			if Ratio(normalized, kw) > WholeRatio {
				return entry.Outcome, true
			}
			for _, w := range words {
				if runeLen(w) >= minFuzzyRune && Ratio(w, kw) > WordRatio {
					return entry.Outcome, true
				}
			}
		}
	}
	return schema.OutcomeNone, false
}

// Ratio returns the Ratcliff/Obershelp similarity of a and b in [0, 1]:
// twice the number of matching runes divided by the total rune count.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(ra, rb)) / float64(total)
}

// matchingRunes sums the longest common blocks found recursively to the
// left and right of each match.
func matchingRunes(a, b []rune) int {
	i, j, k := longestMatch(a, b)
	if k == 0 {
		return 0
	}
	return k + matchingRunes(a[:i], b[:j]) + matchingRunes(a[i+k:], b[j+k:])
}

// longestMatch finds the earliest longest common substring of a and b.
func longestMatch(a, b []rune) (besti, bestj, bestk int) {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := range a {
		for j := range b {
			if a[i] == b[j] {
				k := prev[j] + 1
				cur[j+1] = k
				if k > bestk {
					besti, bestj, bestk = i-k+1, j-k+1, k
				}
			} else {
				cur[j+1] = 0
			}
		}
		prev, cur = cur, prev
	}
	return besti, bestj, bestk
}

func runeLen(s string) int {
	return len([]rune(s))
}
