package refiner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/schema"
)

type fakeGenerator struct {
	reply string
	err   error
	req   inference.GenerateRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req inference.GenerateRequest) (string, error) {
	f.req = req
	return f.reply, f.err
}

func TestRefineParsesReply(t *testing.T) {
	gen := &fakeGenerator{reply: `{
		"intent": "Recherche",
		"improved_text": "Recherchiere die Geschichte von Berlin.",
		"do": "ask",
		"questions": ["Welcher Zeitraum?"],
		"token_budget": {"max_output_tokens": 512}
	}`}
	r := New(gen, Config{Model: "qwen3:8b"}, nil)

	res, err := r.Refine(context.Background(), "ähm recherchiere halt berlin geschichte")
	if err != nil {
		t.Fatal(err)
	}

	if res.Intent != "Recherche" || res.Action != schema.ActionAsk {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.ImprovedText != "Recherchiere die Geschichte von Berlin." {
		t.Errorf("ImprovedText = %q", res.ImprovedText)
	}
	if len(res.Questions) != 1 || res.TokenBudget.MaxOutputTokens != 512 {
		t.Errorf("questions/budget = %v / %+v", res.Questions, res.TokenBudget)
	}

	if gen.req.Format != "json" || gen.req.System != SystemPrompt || gen.req.Model != "qwen3:8b" {
		t.Errorf("unexpected request: %+v", gen.req)
	}
	if !strings.HasPrefix(gen.req.Prompt, "Verbessere diesen Sprachtext:\n\n") {
		t.Errorf("prompt = %q", gen.req.Prompt)
	}
}

func TestRefineFallsBackToPassthrough(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		kind  Kind
	}{
		{"unreachable", "", errors.New("connection refused"), KindUnreachable},
		{"malformed", "kein json", nil, KindMalformed},
		{"missing improved_text", `{"intent":"x","do":"send"}`, nil, KindMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(&fakeGenerator{reply: tt.reply, err: tt.err}, Config{}, nil)

			res, err := r.Refine(context.Background(), "roher text")
			if err != nil {
				t.Fatalf("Refine error = %v, want passthrough", err)
			}
			if res.Intent != schema.IntentPassthrough || res.ImprovedText != "roher text" || res.Action != schema.ActionSend {
				t.Errorf("expected passthrough, got %+v", res)
			}

			_, err = r.TryRefine(context.Background(), "roher text")
			var rerr *Error
			if !errors.As(err, &rerr) || rerr.Kind != tt.kind {
				t.Errorf("TryRefine error = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestParseDefaults(t *testing.T) {
	res, err := Parse(`{"improved_text":"X","do":"fly"}`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if res.Intent != "unknown" || res.Action != schema.ActionSend {
		t.Errorf("unexpected defaults: %+v", res)
	}
	if res.TokenBudget != schema.DefaultTokenBudget || res.Questions == nil {
		t.Errorf("unexpected budget/questions: %+v", res)
	}
}

func TestRefineEmptyInput(t *testing.T) {
	gen := &fakeGenerator{reply: `{"improved_text":"X"}`}
	r := New(gen, Config{}, nil)

	for _, in := range []string{"", "   "} {
		res, err := r.Refine(context.Background(), in)
		var rerr *Error
		if !errors.As(err, &rerr) || rerr.Kind != KindEmptyInput || !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Refine(%q) error = %v, want empty_input", in, err)
		}
		if res.ImprovedText != "" {
			t.Errorf("Refine(%q) = %+v, want zero result", in, res)
		}
		if _, err := r.TryRefine(context.Background(), in); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("TryRefine(%q) error = %v", in, err)
		}
	}
	if gen.req.Prompt != "" {
		t.Error("model called for blank input")
	}
}

func TestRefineAgainstOllamaServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req inference.GenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Format != "json" || req.Stream {
			t.Errorf("unexpected request: %+v", req)
		}
		inner, _ := json.Marshal(map[string]any{"intent": "send", "improved_text": "X", "do": "send"})
		json.NewEncoder(w).Encode(map[string]any{"response": string(inner), "done": true})
	}))
	defer srv.Close()

	r := New(inference.NewOllama(srv.URL, "qwen3:8b"), Config{Timeout: 5 * time.Second}, nil)
	res, _ := r.Refine(context.Background(), "x")
	if res.ImprovedText != "X" || res.Action != schema.ActionSend {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRefineTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := New(inference.NewOllama(srv.URL, ""), Config{Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	res, _ := r.Refine(context.Background(), "roh")
	if res.Intent != schema.IntentPassthrough {
		t.Errorf("expected passthrough, got %+v", res)
	}
	if time.Since(start) > time.Second {
		t.Error("refiner did not honor its timeout")
	}
}
