package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benchay1999/find-the-ai/internal/types"
)

func chatOK(text string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": text}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestOpenAIComplete(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		w.Write([]byte(chatOK("hello there")))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m", Timeout: time.Second})
	out, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "hi"})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("got %q", out)
	}
	if gotAuth != "Bearer k" {
		t.Fatalf("missing auth header, got %q", gotAuth)
	}
}

func TestOpenAIRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatOK("after retry")))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{BaseURL: srv.URL, Model: "m", Timeout: time.Second})
	out, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if out != "after retry" {
		t.Fatalf("got %q", out)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestOpenAIPersistentFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{BaseURL: srv.URL, Model: "m", Timeout: time.Second})
	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	if !types.Is(err, types.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestOpenAIClientErrorDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{BaseURL: srv.URL, Model: "m", Timeout: time.Second})
	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("4xx retried: %d calls", calls)
	}
}

func TestGeminiComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "gemini says hi"}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewGeminiClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "gemini-2.0-flash", Timeout: time.Second})
	out, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "hi"})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if out != "gemini says hi" {
		t.Fatalf("got %q", out)
	}
}

func TestProviderSelection(t *testing.T) {
	if p, err := New(Config{Provider: "openai"}); err != nil || p == nil {
		t.Fatalf("openai: %v", err)
	}
	if p, err := New(Config{Provider: "gemini"}); err != nil || p == nil {
		t.Fatalf("gemini: %v", err)
	}
	if p, err := New(Config{}); err != nil || p == nil {
		t.Fatalf("default: %v", err)
	}
	if _, err := New(Config{Provider: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
