package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestOpenRouter(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := Open(Options{
		Provider: "openrouter",
		BaseURL:  srv.URL,
		Model:    "test-model",
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Shrink backoff so retry tests stay fast.
	c.(*openRouterClient).retry = Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return c
}

func chatBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func TestOpenRouter_Complete(t *testing.T) {
	var gotAuth string
	var gotReq orChatRequest
	c := newTestOpenRouter(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(chatBody("hello back")))
	})

	out, err := c.Complete(context.Background(), "hello", false)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hello back" {
		t.Errorf("Complete = %q, want %q", out, "hello back")
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.ResponseFormat != nil {
		t.Error("response_format should be absent when jsonMode is false")
	}
}

func TestOpenRouter_JSONMode(t *testing.T) {
	var gotReq orChatRequest
	c := newTestOpenRouter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(chatBody(`{"ok":true}`)))
	})

	if _, err := c.Complete(context.Background(), "give me json", true); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v, want json_object", gotReq.ResponseFormat)
	}
}

func TestOpenRouter_RetriesRateLimit(t *testing.T) {
	calls := 0
	c := newTestOpenRouter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(chatBody("finally")))
	})

	out, err := c.Complete(context.Background(), "p", false)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "finally" {
		t.Errorf("Complete = %q, want %q", out, "finally")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestOpenRouter_ServerErrorNotRetried(t *testing.T) {
	calls := 0
	c := newTestOpenRouter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := c.Complete(context.Background(), "p", false); err == nil {
		t.Fatal("Complete should fail on 500")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (500 is not retryable)", calls)
	}
}

func TestOllama_JSONFormat(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaMessage{Role: "assistant", Content: "[]"}})
	}))
	defer srv.Close()

	c, err := Open(Options{Provider: "ollama", BaseURL: srv.URL, Model: "llama3", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	out, err := c.Complete(context.Background(), "extract", true)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "[]" {
		t.Errorf("Complete = %q, want %q", out, "[]")
	}
	if gotReq.Format != "json" {
		t.Errorf("Format = %q, want json", gotReq.Format)
	}
	if gotReq.Model != "llama3" {
		t.Errorf("Model = %q, want llama3", gotReq.Model)
	}
}
