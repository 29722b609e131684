// Package inference delivers prompts to language-model backends.
//
// Backends implement the Provider interface: a subprocess CLI, the Ollama
// HTTP API and any OpenAI-compatible endpoint are supported. The Gateway
// wraps a primary backend with timed retries and escalates to a fallback
// and a local backend before giving up with an apology.
//
// Example usage:
//
//	primary := inference.NewCLI("gemini", "flash")
//	fallback := inference.NewCLI("gemini", "pro")
//	local := inference.NewOllama("http://localhost:11434", "qwen3:8b")
//
//	gw := inference.NewGateway(primary,
//	    inference.WithFallback(fallback),
//	    inference.WithLocal(local),
//	)
//	sess := inference.NewSession(24)
//	resp := gw.Send(ctx, sess, inference.Request{Prompt: "Hallo"})
//	fmt.Println(resp.Text)
package inference

import "context"

// Provider is a language-model backend.
type Provider interface {
	// Name identifies the backend in logs and events.
	Name() string

	// Send delivers a fully built prompt and returns the reply text.
	Send(ctx context.Context, prompt string) (string, error)

	// IsAvailable reports whether the backend can currently be reached.
	IsAvailable(ctx context.Context) bool
}

// Status describes a provider for status endpoints.
type Status struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}
