// Package tts speaks pipeline replies aloud.
//
// Speech engines are external programs (espeak-ng, piper, a player fed by a
// synthesizer) wrapped by ExecSpeaker. Every Speaker can be stopped from
// another goroutine, which is what barge-in needs.
//
// Example usage:
//
//	speaker := tts.NewExec(tts.WithVoice("de"))
//	go func() {
//	    time.Sleep(time.Second)
//	    speaker.Stop() // user started talking
//	}()
//	err := speaker.Speak(ctx, reply, tts.ModeShort)
//	if errors.Is(err, tts.ErrStopped) { ... }
package tts

import (
	"context"
	"strings"
)

// Mode selects how much of a text is spoken.
type Mode string

const (
	// ModeShort speaks roughly the first sentences of long replies.
	ModeShort Mode = "short"
	// ModeFull speaks everything.
	ModeFull Mode = "full"
)

// Speaker is the text-to-speech contract the pipeline depends on.
type Speaker interface {
	// Speak blocks until the text has been spoken. It returns ErrStopped when
	// Stop cut playback short.
	Speak(ctx context.Context, text string, mode Mode) error

	// Stop terminates any playback in progress. It is safe to call when idle.
	Stop() error

	// Name identifies the engine in logs and events.
	Name() string
}

// Short mode limits.
const (
	shortLimit    = 300
	sentenceFrom  = 100
	sentenceUntil = 400
)

// Shorten applies mode to text. In short mode a text longer than 300 runes
// is cut after the first sentence end found between rune 100 and 400, or
// hard-cut at 300 runes with an ellipsis.
func Shorten(text string, mode Mode) string {
	r := []rune(text)
	if mode != ModeShort || len(r) <= shortLimit {
		return text
	}
	for _, end := range []string{". ", "! ", "? ", "\n"} {
		e := []rune(end)
		for i := sentenceFrom; i < len(r)-len(e)+1 && i < sentenceUntil; i++ {
			if string(r[i:i+len(e)]) == end {
				return string(r[:i+1])
			}
		}
	}
	return strings.TrimSpace(string(r[:shortLimit])) + "..."
}
