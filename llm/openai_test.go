package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		Name:    "coder",
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gpt-4o-mini",
	}, nil)
}

func TestCompletionSuccess(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody ChatRequest

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"model":   "gpt-4o-mini",
			"created": 1700000000,
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]string{"role": "assistant", "content": "hello back"},
				},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	})

	resp, err := client.Completion(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	// Default model filled in when the request leaves it empty.
	assert.Equal(t, "gpt-4o-mini", gotBody.Model)

	assert.Equal(t, "hello back", resp.Content())
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.False(t, resp.CreatedAt.IsZero())
}

func TestCompletionRequestModelWins(t *testing.T) {
	var gotBody ChatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "deepseek-chat",
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "ok"}}},
		})
	})

	_, err := client.Completion(context.Background(), &ChatRequest{
		Model:    "deepseek-chat",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", gotBody.Model)
}

func TestCompletionEmptyRequest(t *testing.T) {
	client := NewClient(ClientConfig{Name: "coder"}, nil)

	_, err := client.Completion(context.Background(), nil)
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrInvalidRequest, llmErr.Code)

	_, err = client.Completion(context.Background(), &ChatRequest{})
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrInvalidRequest, llmErr.Code)
}

func TestCompletionStatusMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantCode  ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, ErrUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited, true},
		{"bad request", http.StatusBadRequest, ErrInvalidRequest, false},
		{"server error", http.StatusInternalServerError, ErrUpstreamError, true},
		{"bad gateway", http.StatusBadGateway, ErrUpstreamError, true},
		{"unexpected", http.StatusNotFound, ErrUpstreamError, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "upstream said no", "type": "test"},
				})
			})

			_, err := client.Completion(context.Background(), &ChatRequest{
				Messages: []Message{{Role: RoleUser, Content: "hi"}},
			})
			var llmErr *Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tc.wantCode, llmErr.Code)
			assert.Equal(t, tc.retryable, llmErr.Retryable)
			assert.Equal(t, tc.status, llmErr.HTTPStatus)
			assert.Equal(t, "upstream said no", llmErr.Message)
			assert.Equal(t, "coder", llmErr.Provider)
		})
	}
}

func TestCompletionMalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	})

	_, err := client.Completion(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrUpstreamError, llmErr.Code)
}

func TestContentEmpty(t *testing.T) {
	var r *ChatResponse
	assert.Empty(t, r.Content())
	assert.Empty(t, (&ChatResponse{}).Content())
}
