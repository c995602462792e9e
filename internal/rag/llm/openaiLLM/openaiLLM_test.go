package openaiLLM

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string, check func(r *http.Request)) llm.Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New("test-key", srv.URL+"/", "gpt-4o-mini")
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
		"choices": []any{map[string]any{
			"index": 0, "finish_reason": "stop",
			"message": map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 8, "total_tokens": 128},
	})
	return string(b)
}

func TestGenerate(t *testing.T) {
	p := serve(t, http.StatusOK, completion("  Thirty days [1].  "), func(r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxCompletionTokens int `json:"max_completion_tokens"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "Answer from the context only.", body.Messages[0].Content)
		assert.Equal(t, "user", body.Messages[1].Role)
		assert.Equal(t, 256, body.MaxCompletionTokens)
	})

	res, err := p.Generate(context.Background(), llm.Request{
		System:    "Answer from the context only.",
		Prompt:    "What is the refund window?",
		MaxTokens: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, "Thirty days [1].", res.Text)
	assert.Equal(t, 120, res.TokensIn)
	assert.Equal(t, 8, res.TokensOut)
}

func TestGenerate_EmptyCompletion(t *testing.T) {
	p := serve(t, http.StatusOK, completion("   "), nil)

	_, err := p.Generate(context.Background(), llm.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrEmptyCompletion))
	assert.Equal(t, ragErrors.CodeLLMFailed, ragErrors.CodeOf(err))
}

func TestGenerate_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := serve(t, tt.status, `{"error":{"message":"nope","type":"x","param":null,"code":null}}`, nil)
			_, err := p.Generate(context.Background(), llm.Request{Prompt: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, ragErrors.IsTransient(err))
		})
	}
}
