package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newStubOllama returns an httptest server that mimics the Ollama endpoints
// used by OllamaProvider.
func newStubOllama(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			resp.Embeddings[i] = []float32{0.1, 0.2, float32(i)}
		}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{ //nolint:errcheck
			Message:    ollamaChatMessage{Role: "assistant", Content: "hello"},
			DoneReason: "stop",
			Done:       true,
		})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return httptest.NewServer(mux)
}

func TestOllamaProvider_Embed_Batch(t *testing.T) {
	t.Parallel()

	srv := newStubOllama(t)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", "llama3.2:3b")
	resp, err := p.Embed(context.Background(), EmbedRequest{Texts: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(resp.Embeddings) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(resp.Embeddings))
	}
}

func TestOllamaProvider_Embed_EmptyInput(t *testing.T) {
	t.Parallel()

	// No HTTP call should happen for an empty batch.
	p := NewOllamaProvider("http://127.0.0.1:1", "m", "c")
	resp, err := p.Embed(context.Background(), EmbedRequest{})
	if err != nil {
		t.Fatalf("Embed with empty input failed: %v", err)
	}
	if len(resp.Embeddings) != 0 {
		t.Errorf("expected no vectors, got %d", len(resp.Embeddings))
	}
}

func TestOllamaProvider_ChatCompletion(t *testing.T) {
	t.Parallel()

	srv := newStubOllama(t)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", "llama3.2:3b")
	resp, err := p.ChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("expected content hello, got %q", resp.Content)
	}
	if resp.StopReason != "stop" {
		t.Errorf("expected stop reason, got %q", resp.StopReason)
	}
}

func TestOllamaProvider_HealthCheck(t *testing.T) {
	t.Parallel()

	srv := newStubOllama(t)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m", "c")
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}

	down := NewOllamaProvider("http://127.0.0.1:1", "m", "c")
	if err := down.HealthCheck(context.Background()); err == nil {
		t.Error("expected HealthCheck error for unreachable server")
	}
}

func TestBuildChatOptions(t *testing.T) {
	t.Parallel()

	if opts := buildChatOptions(ChatRequest{}); opts != nil {
		t.Errorf("expected nil options for zero request, got %v", opts)
	}

	opts := buildChatOptions(ChatRequest{Temperature: 0.2, MaxTokens: 512})
	if opts["temperature"] != float32(0.2) {
		t.Errorf("unexpected temperature: %v", opts["temperature"])
	}
	if opts["num_predict"] != 512 {
		t.Errorf("unexpected num_predict: %v", opts["num_predict"])
	}
}
