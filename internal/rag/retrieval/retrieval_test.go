package retrieval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/embedding"
	"github.com/akolanti/GoRAG/internal/rag/embedding/hashEmbedding"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB/memoryDB"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmbedder struct {
	model   string
	OnEmbed func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return m.OnEmbed(ctx, text)
}

func (m *mockEmbedder) Model() string { return m.model }

// flakyIndex fails the first failures queries with err, then delegates.
type flakyIndex struct {
	*memoryDB.Index
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyIndex) Query(ctx context.Context, ns vectorDB.Namespace, vector []float32, topK int, filter *vectorDB.Filter) ([]vectorDB.Match, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return f.Index.Query(ctx, ns, vector, topK, filter)
}

func seed(t *testing.T, g *embedding.Generator, index vectorDB.Index, projectId, docId string, texts ...string) {
	t.Helper()
	ns, err := vectorDB.NewNamespace(projectId)
	require.NoError(t, err)
	result, err := g.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	chunks := make([]commonModels.DocChunk, len(texts))
	for i, text := range texts {
		chunks[i] = commonModels.DocChunk{
			Id:             vectorDB.ChunkID(ns, docId, "g1", i),
			DocumentId:     docId,
			ProjectId:      projectId,
			Ordinal:        i,
			Text:           text,
			PageNum:        1,
			Generation:     "g1",
			EmbeddingModel: g.Model(),
			Vector:         result.Vectors[i],
		}
	}
	require.NoError(t, index.ReplaceDocument(context.Background(), ns, docId, chunks))
}

func TestRetrieve_StaysInsideProject(t *testing.T) {
	g := embedding.NewGenerator(hashEmbedding.New(128), embedding.WithRateLimit(0))
	index := memoryDB.New()
	same := "The launch code for the rocket is kept in the blue safe."
	seed(t, g, index, "p1", "d1", same, "Lunch is served at noon.")
	seed(t, g, index, "p2", "d1", same, "Secret project two notes.")

	engine := New(g, index, config.RetrievalSettings{TopK: 10})
	matches, err := engine.Retrieve(context.Background(), Request{ProjectId: "p1", Query: same})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, "p1", m.Chunk.ProjectId)
	}
	assert.Equal(t, same, matches[0].Chunk.Text)
}

func TestRetrieve_MinScoreAndTopK(t *testing.T) {
	g := embedding.NewGenerator(hashEmbedding.New(128), embedding.WithRateLimit(0))
	index := memoryDB.New()
	seed(t, g, index, "p1", "d1", "paid leave policy", "office parking rules", "leave carry over limits")

	engine := New(g, index, config.RetrievalSettings{TopK: 3})
	matches, err := engine.Retrieve(context.Background(), Request{ProjectId: "p1", Query: "paid leave policy", TopK: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "paid leave policy", matches[0].Chunk.Text)

	matches, err = engine.Retrieve(context.Background(), Request{ProjectId: "p1", Query: "paid leave policy", MinScore: 0.99})
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestRetrieve_EmptyProjectReturnsNothing(t *testing.T) {
	g := embedding.NewGenerator(hashEmbedding.New(32), embedding.WithRateLimit(0))
	engine := New(g, memoryDB.New(), config.RetrievalSettings{})
	matches, err := engine.Retrieve(context.Background(), Request{ProjectId: "empty", Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRetrieve_ModelMismatchIsNeverDegraded(t *testing.T) {
	g := embedding.NewGenerator(hashEmbedding.New(32), embedding.WithRateLimit(0))
	index := memoryDB.New()
	seed(t, g, index, "p1", "d1", "some indexed text")

	other := &mockEmbedder{model: "other-model", OnEmbed: func(ctx context.Context, text string) ([]float32, error) {
		return g.EmbedQuery(ctx, text)
	}}
	_, err := New(other, index, config.RetrievalSettings{}).Retrieve(context.Background(), Request{ProjectId: "p1", Query: "text"})
	assert.Equal(t, ragErrors.CodeEmbeddingModelMismatch, ragErrors.CodeOf(err))
	assert.True(t, ragErrors.IsKind(err, ragErrors.KindConfiguration))
}

func TestRetrieve_Validation(t *testing.T) {
	failing := &mockEmbedder{model: "m", OnEmbed: func(ctx context.Context, text string) ([]float32, error) {
		return nil, ragErrors.E(ragErrors.CodeEmbeddingFailed, "mock", errors.New("503"))
	}}
	engine := New(failing, memoryDB.New(), config.RetrievalSettings{})

	_, err := engine.Retrieve(context.Background(), Request{ProjectId: "p1", Query: "   "})
	assert.Equal(t, ragErrors.CodeInvalidRequest, ragErrors.CodeOf(err))

	_, err = engine.Retrieve(context.Background(), Request{Query: "q"})
	assert.Equal(t, ragErrors.CodeInvalidRequest, ragErrors.CodeOf(err))

	_, err = engine.Retrieve(context.Background(), Request{ProjectId: "p1", Query: "q"})
	assert.Equal(t, ragErrors.CodeEmbeddingFailed, ragErrors.CodeOf(err))
}

func TestRetrieve_RetriesTransientIndexFailures(t *testing.T) {
	g := embedding.NewGenerator(hashEmbedding.New(64), embedding.WithRateLimit(0))
	timeout := ragErrors.E(ragErrors.CodeIndexFailed, "qdrant.Query", context.DeadlineExceeded)

	tests := []struct {
		name         string
		failures     int32
		err          error
		expectedCode ragErrors.Code
		expectedCall int32
	}{
		{"one timeout is absorbed", 1, timeout, "", 2},
		{"budget runs out", 10, timeout, ragErrors.CodeIndexFailed, 3},
		{"integrity failures are not retried", 10, ragErrors.E(ragErrors.CodeIntegrityViolation, "qdrant.Query", nil), ragErrors.CodeIntegrityViolation, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := &flakyIndex{Index: memoryDB.New(), failures: tt.failures, err: tt.err}
			seed(t, g, index.Index, "p1", "d1", "paid leave policy")
			engine := New(g, index, config.RetrievalSettings{}, WithRetry(3, time.Millisecond, 2*time.Millisecond))

			matches, err := engine.Retrieve(context.Background(), Request{ProjectId: "p1", Query: "paid leave policy"})
			assert.Equal(t, tt.expectedCall, index.calls.Load())
			if tt.expectedCode == "" {
				require.NoError(t, err)
				assert.Len(t, matches, 1)
				return
			}
			assert.Equal(t, tt.expectedCode, ragErrors.CodeOf(err))
		})
	}
}
