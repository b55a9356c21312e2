package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

func newTestClient(url string) *Client {
	exec := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 1, RetryInitialBackoff: time.Millisecond}, nil)
	return New(Config{BaseURL: url, APIKey: "secret", Model: "test-model", Timeout: time.Second}, exec, nil)
}

func request() ports.CompletionRequest {
	return ports.CompletionRequest{
		Template: domain.Template{Name: "t", RowFields: []domain.FieldSpec{{Name: "item"}}},
		Pages:    []domain.Page{{Number: 1, Text: "Coffee 3.50"}},
	}
}

func TestCompleteParsesChatResponse(t *testing.T) {
	var auth string
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":"{\"rows\":[{\"item\":\"Coffee\"}],\"fields\":{}}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":200,"completion_tokens":40}
		}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Complete(context.Background(), request())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if format, _ := body["response_format"].(map[string]any); format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %#v", body["response_format"])
	}
	if resp.PromptTokens != 200 || resp.CompletionTokens != 40 || resp.Payload.Rows[0]["item"] != "Coffee" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCompleteTruncatedIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"rows\":[{"},"finish_reason":"length"}]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), request())
	if kind := domain.CompletionKindOf(err); kind != domain.CompletionMalformed {
		t.Fatalf("expected malformed, got %s (%v)", kind, err)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), request())
	if kind := domain.CompletionKindOf(err); kind != domain.CompletionMalformed {
		t.Fatalf("expected malformed, got %s (%v)", kind, err)
	}
}

func TestCompleteRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), request())
	if kind := domain.CompletionKindOf(err); kind != domain.CompletionRateLimited {
		t.Fatalf("expected rate_limited, got %s (%v)", kind, err)
	}
}
