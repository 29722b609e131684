package inference

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-parley/internal/httpc"
)

// Ollama defaults.
const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "qwen3:8b"

	ollamaProbeTimeout = 3 * time.Second
)

// GenerateRequest is the body of Ollama's /api/generate.
type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Ollama talks to a local Ollama server over HTTP.
type Ollama struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewOllama creates an Ollama backend. Empty arguments use the defaults.
// Request deadlines come from the caller's context.
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		http:    httpc.NewClient(0),
	}
}

// Name returns the backend name.
func (o *Ollama) Name() string { return "ollama:" + o.model }

// Model returns the configured model.
func (o *Ollama) Model() string { return o.model }

// Send generates a completion for prompt.
func (o *Ollama) Send(ctx context.Context, prompt string) (string, error) {
	return o.Generate(ctx, GenerateRequest{Prompt: prompt})
}

// Generate calls /api/generate without streaming. An empty model uses the
// backend's model.
func (o *Ollama) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if req.Model == "" {
		req.Model = o.model
	}
	req.Stream = false

	var out generateResponse
	if err := httpc.PostJSON(ctx, o.http, o.baseURL+"/api/generate", req, &out); err != nil {
		var se *httpc.StatusError
		if errors.As(err, &se) {
			return "", &APIError{StatusCode: se.StatusCode, Message: se.Body, Provider: "ollama"}
		}
		return "", err
	}
	if out.Error != "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: out.Error, Provider: "ollama"}
	}
	return strings.TrimSpace(out.Response), nil
}

// Models lists the locally installed models.
func (o *Ollama) Models(ctx context.Context) ([]string, error) {
	var out tagsResponse
	if err := httpc.GetJSON(ctx, o.http, o.baseURL+"/api/tags", &out); err != nil {
		return nil, err
	}
	names := make([]string, len(out.Models))
	for i, m := range out.Models {
		names[i] = m.Name
	}
	return names, nil
}

// IsAvailable probes /api/tags with a short timeout.
func (o *Ollama) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()
	return httpc.GetJSON(ctx, o.http, o.baseURL+"/api/tags", nil) == nil
}

// Verify Ollama implements Provider at compile time.
var _ Provider = (*Ollama)(nil)
