package inference

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

const openaiProbeTimeout = 3 * time.Second

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client openai.Client
	model  string
	system string
}

// OpenAIOption configures an OpenAI backend.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL string
	http    *http.Client
	system  string
}

// WithOpenAIBaseURL points the backend at a compatible server.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithOpenAIHTTPClient sets the HTTP client used for requests.
func WithOpenAIHTTPClient(h *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.http = h }
}

// WithSystemPrompt sets a system message sent before every prompt.
func WithSystemPrompt(s string) OpenAIOption {
	return func(c *openAIConfig) { c.system = s }
}

// NewOpenAI creates an OpenAI-compatible backend.
func NewOpenAI(apiKey, model string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	var cfg openAIConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries belong to the gateway.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.http != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.http))
	}

	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  model,
		system: cfg.system,
	}, nil
}

// Name returns the backend name.
func (o *OpenAI) Name() string { return "openai:" + o.model }

// Send runs one chat completion with prompt as the user message.
func (o *OpenAI) Send(ctx context.Context, prompt string) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if o.system != "" {
		msgs = append(msgs, openai.SystemMessage(o.system))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(o.model),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Provider: "openai"}
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// IsAvailable lists models with a short timeout.
func (o *OpenAI) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, openaiProbeTimeout)
	defer cancel()
	_, err := o.client.Models.List(ctx)
	return err == nil
}

// Verify OpenAI implements Provider at compile time.
var _ Provider = (*OpenAI)(nil)
