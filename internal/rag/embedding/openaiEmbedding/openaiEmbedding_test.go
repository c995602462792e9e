package openaiEmbedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string, check func(r *http.Request)) embedding.Provider {
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
	return New("test-key", srv.URL+"/", "text-embedding-3-small", 2)
}

func TestEmbed_RestoresInputOrder(t *testing.T) {
	p := serve(t, http.StatusOK, `{"object":"list","model":"text-embedding-3-small",
		"data":[{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}],
		"usage":{"prompt_tokens":4,"total_tokens":4}}`,
		func(r *http.Request) {
			assert.Equal(t, "/embeddings", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.EqualValues(t, 2, body["dimensions"])
			assert.Equal(t, []any{"first", "second"}, body["input"])
		})

	vectors, err := p.Embed(context.Background(), []string{"first", "second"}, embedding.TaskDocument)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
	assert.Equal(t, 2, p.Dimension())
}

func TestEmbed_ClassifiesErrors(t *testing.T) {
	t.Run("bad request is a rejected input", func(t *testing.T) {
		p := serve(t, http.StatusBadRequest, `{"error":{"message":"input too long","type":"invalid_request_error","param":null,"code":null}}`, nil)
		_, err := p.Embed(context.Background(), []string{"x"}, embedding.TaskDocument)
		require.Error(t, err)
		assert.True(t, errors.Is(err, embedding.ErrRejectedInput))
		assert.False(t, ragErrors.IsTransient(err))
	})

	t.Run("unavailable is transient", func(t *testing.T) {
		p := serve(t, http.StatusServiceUnavailable, `{"error":{"message":"overloaded","type":"server_error","param":null,"code":null}}`, nil)
		_, err := p.Embed(context.Background(), []string{"x"}, embedding.TaskDocument)
		require.Error(t, err)
		assert.Equal(t, ragErrors.CodeEmbeddingFailed, ragErrors.CodeOf(err))
		assert.True(t, ragErrors.IsTransient(err))
	})
}
