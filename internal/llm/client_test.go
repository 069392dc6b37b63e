package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fifthdraft/fifthdraft/internal/apperr"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient("test-key", WithBaseURL(url), WithModel("test-model"), WithMaxTokens(256))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.backoff = time.Millisecond
	return c
}

func TestNewClient_MissingKey(t *testing.T) {
	_, err := NewClient("")
	var cfgErr *apperr.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("NewClient(\"\") error = %v, want *apperr.ConfigError", err)
	}
}

func TestClientModel(t *testing.T) {
	c, err := NewClient("k")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Model() != DefaultModel {
		t.Errorf("Model() = %q, want %q", c.Model(), DefaultModel)
	}
	if got := newTestClient(t, "http://unused").Model(); got != "test-model" {
		t.Errorf("Model() = %q, want test-model", got)
	}
}

func TestGenerate_SendsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", got)
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header not set")
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "test-model" || req.MaxTokens != 256 {
			t.Errorf("request = %+v, want model test-model, max_tokens 256", req)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "hello" {
			t.Errorf("messages = %+v, want one user message", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"hi there"}],"stop_reason":"end_turn"}`)
	}))
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "hi there" {
		t.Errorf("Generate() = %q, want %q", got, "hi there")
	}
}

func TestGenerate_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), "hello")
	var pe *apperr.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *apperr.ProviderError", err)
	}
	if pe.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", pe.Status)
	}
}

func TestGenerate_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"content":[{"type":"text","text":"ok"}]}`)
	}))
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "ok" {
		t.Errorf("Generate() = %q, want ok", got)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestGenerate_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), "hello")
	if apperr.CategoryOf(err) != apperr.CategoryProvider {
		t.Fatalf("error = %v, want provider category", err)
	}
	if calls.Load() != maxRetries {
		t.Errorf("calls = %d, want %d", calls.Load(), maxRetries)
	}
}

func TestGenerate_NoTextBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[{"type":"tool_use"}]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error for response without text")
	}
}
