package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaGenerate(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{"response": "  Hallo zurück \n", "done": true})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL+"/", "qwen3:8b")
	text, err := o.Send(context.Background(), "Hallo")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if text != "Hallo zurück" {
		t.Errorf("Send = %q", text)
	}
	if got.Model != "qwen3:8b" || got.Prompt != "Hallo" || got.Stream {
		t.Errorf("unexpected request: %+v", got)
	}
}

func TestOllamaHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "").Send(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 APIError, got %v", err)
	}
}

func TestOllamaModelsAndAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[{"name":"qwen3:8b"},{"name":"llama3"}]}`))
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "")
	if !o.IsAvailable(context.Background()) {
		t.Error("expected available")
	}
	models, err := o.Models(context.Background())
	if err != nil || len(models) != 2 || models[0] != "qwen3:8b" {
		t.Errorf("Models = %v, %v", models, err)
	}

	srv.Close()
	if o.IsAvailable(context.Background()) {
		t.Error("closed server should be unavailable")
	}
}
