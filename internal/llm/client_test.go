package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skypro1111/voice-dialogue-service/internal/conversation"
	"github.com/skypro1111/voice-dialogue-service/internal/pipeline"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func completionResponse(content string) string {
	return `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": ` + jsonString(content) + `}, "finish_reason": "stop"}]
	}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestRespondSuccess(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionResponse("こんにちは！")))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/v1")
	reply, err := client.Respond(context.Background(), "こんにちは", nil)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if reply != "こんにちは！" {
		t.Errorf("Unexpected reply: %q", reply)
	}

	messages, ok := gotBody["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("Expected system + user messages, got %v", gotBody["messages"])
	}
	first := messages[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("Expected system message first, got %v", first["role"])
	}
	last := messages[1].(map[string]any)
	if last["role"] != "user" || last["content"] != "こんにちは" {
		t.Errorf("Unexpected user message: %v", last)
	}
}

func TestRespondIncludesHistory(t *testing.T) {
	var gotMessages []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []map[string]any `json:"messages"`
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		gotMessages = body.Messages
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionResponse("reply")))
	}))
	defer server.Close()

	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "first question"},
		{Role: conversation.RoleAssistant, Content: "first answer"},
	}

	client := newTestClient(t, server.URL+"/v1")
	if _, err := client.Respond(context.Background(), "followup", history); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	// system, two history turns, current user message
	if len(gotMessages) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(gotMessages))
	}
	if gotMessages[1]["role"] != "user" || gotMessages[1]["content"] != "first question" {
		t.Errorf("Unexpected history message: %v", gotMessages[1])
	}
	if gotMessages[2]["role"] != "assistant" || gotMessages[2]["content"] != "first answer" {
		t.Errorf("Unexpected history message: %v", gotMessages[2])
	}
	if gotMessages[3]["content"] != "followup" {
		t.Errorf("Unexpected final message: %v", gotMessages[3])
	}
}

func TestRespondRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/v1")
	_, err := client.Respond(context.Background(), "hello", nil)

	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Expected typed error, got %v", err)
	}
	if perr.Code != pipeline.CodeLLMRateLimited {
		t.Errorf("Expected %s, got %s", pipeline.CodeLLMRateLimited, perr.Code)
	}
	if perr.RetryAfter != 60 {
		t.Errorf("Expected RetryAfter 60, got %d", perr.RetryAfter)
	}
	if perr.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", perr.HTTPStatus())
	}
}

func TestRespondRateLimitedConfiguredHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    server.URL + "/v1",
		RetryAfter: 25,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Respond(context.Background(), "hello", nil)

	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Expected typed error, got %v", err)
	}
	if perr.RetryAfter != 25 {
		t.Errorf("Expected configured RetryAfter 25, got %d", perr.RetryAfter)
	}
}

func TestRespondServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "internal error", "type": "server_error"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/v1")
	_, err := client.Respond(context.Background(), "hello", nil)

	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Expected typed error, got %v", err)
	}
	if perr.Code != pipeline.CodeLLMServiceUnavailable {
		t.Errorf("Expected %s, got %s", pipeline.CodeLLMServiceUnavailable, perr.Code)
	}
}

func TestRespondConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Nothing is listening anymore.

	client := newTestClient(t, server.URL+"/v1")
	_, err := client.Respond(context.Background(), "hello", nil)

	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Expected typed error, got %v", err)
	}
	if perr.Code != pipeline.CodeLLMConnectionError {
		t.Errorf("Expected %s, got %s", pipeline.CodeLLMConnectionError, perr.Code)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error for missing API key")
	}
}
