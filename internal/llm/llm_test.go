package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllamaGenerate(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		if req.Model != "sqlcoder" {
			t.Errorf("model = %q", req.Model)
		}
		if req.Options["num_predict"] != float64(256) {
			t.Errorf("num_predict = %v", req.Options["num_predict"])
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "SELECT 1"})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "sqlcoder", 5*time.Second)
	out, err := c.Generate(context.Background(), "prompt", 256)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "SELECT 1" {
		t.Errorf("got %q", out)
	}
	if calls != 1 {
		t.Errorf("expected exactly one upstream call, got %d", calls)
	}
}

func TestOllamaGenerate_EmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "   "})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "sqlcoder", 5*time.Second)
	_, err := c.Generate(context.Background(), "prompt", 0)
	if !errors.Is(err, ErrEmptyOutput) {
		t.Errorf("expected ErrEmptyOutput, got %v", err)
	}
}

func TestOllamaGenerate_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "sqlcoder", 5*time.Second)
	if _, err := c.Generate(context.Background(), "prompt", 0); err == nil {
		t.Error("expected error on non-200 status")
	}
}

func TestOpenRouterGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"SELECT COUNT(*) FROM comments"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenRouterClientWithBaseURL("test-key", "some/model", srv.URL, 5*time.Second)
	out, err := c.Generate(context.Background(), "prompt", 512)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "SELECT COUNT(*) FROM comments" {
		t.Errorf("got %q", out)
	}
}

func TestOpenRouterGenerate_RateLimitSurfaces(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenRouterClientWithBaseURL("test-key", "some/model", srv.URL, 5*time.Second)
	if _, err := c.Generate(context.Background(), "prompt", 0); err == nil {
		t.Fatal("expected error on 429")
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestNew_BackendSelection(t *testing.T) {
	g, err := New(Options{Backend: BackendOllama, BaseURL: "http://localhost:11434", Model: "m"})
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if _, ok := g.(*OllamaClient); !ok {
		t.Errorf("expected *OllamaClient, got %T", g)
	}

	if _, err := New(Options{Backend: BackendOpenRouter, Model: "m"}); err == nil {
		t.Error("openrouter without key should fail")
	}

	g, err = New(Options{Backend: BackendOpenRouter, Model: "m", APIKey: "k"})
	if err != nil {
		t.Fatalf("openrouter: %v", err)
	}
	if _, ok := g.(*OpenRouterClient); !ok {
		t.Errorf("expected *OpenRouterClient, got %T", g)
	}

	if _, err := New(Options{Backend: "mystery"}); err == nil {
		t.Error("unknown backend should fail")
	}
}
