package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI("", "gpt-4o-mini"); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestOpenAISend(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing auth header")
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "local-model",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": " Servus "}}]
		}`))
	}))
	defer srv.Close()

	o, err := NewOpenAI("sk-test", "local-model",
		WithOpenAIBaseURL(srv.URL+"/v1/"),
		WithSystemPrompt("Sei knapp."),
	)
	if err != nil {
		t.Fatal(err)
	}

	got, err := o.Send(context.Background(), "Hallo")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got != "Servus" {
		t.Errorf("Send = %q", got)
	}
	if body["model"] != "local-model" {
		t.Errorf("model = %v", body["model"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("expected system and user messages, got %v", body["messages"])
	}
	if o.Name() != "openai:local-model" {
		t.Errorf("Name = %q", o.Name())
	}
}

func TestOpenAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	o, _ := NewOpenAI("sk-test", "m", WithOpenAIBaseURL(srv.URL+"/"))
	_, err := o.Send(context.Background(), "x")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsRetryable() {
		t.Errorf("503 should be retryable: %+v", apiErr)
	}
}
