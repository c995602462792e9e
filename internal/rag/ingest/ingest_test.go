package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/data/store"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/chunker"
	"github.com/akolanti/GoRAG/internal/rag/embedding"
	"github.com/akolanti/GoRAG/internal/rag/embedding/hashEmbedding"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB/memoryDB"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handbook = "Employees accrue twenty days of paid leave per year. Leave requests go to the line manager.\n\n" +
	"Remote work is allowed three days per week. Equipment is provided by the office.\n\n" +
	"Expense reports are due by the fifth of each month and need a receipt for every item."

// --- Mocks ---

type mockFetcher struct {
	mu      sync.Mutex
	files   map[string]string
	OnFetch func(ctx context.Context, ref string) (io.ReadCloser, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	if m.OnFetch != nil {
		return m.OnFetch(ctx, ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.files[ref]
	if !ok {
		return nil, ragErrors.E(ragErrors.CodeContentNotFound, "mock.Fetch", nil)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *mockFetcher) put(ref, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[ref] = body
}

type mockEmbedder struct {
	OnEmbed func(ctx context.Context, texts []string) (embedding.BatchResult, error)
}

func (m *mockEmbedder) EmbedDocuments(ctx context.Context, texts []string) (embedding.BatchResult, error) {
	return m.OnEmbed(ctx, texts)
}

func (m *mockEmbedder) Model() string { return "mock-model" }

// flakyIndex fails the first failures swaps, then delegates to the wrapped index.
type flakyIndex struct {
	*memoryDB.Index
	failures int32
	calls    atomic.Int32
}

func (f *flakyIndex) ReplaceDocument(ctx context.Context, ns vectorDB.Namespace, documentId string, chunks []commonModels.DocChunk) error {
	if f.calls.Add(1) <= f.failures {
		return ragErrors.E(ragErrors.CodeIndexFailed, "mock.ReplaceDocument", context.DeadlineExceeded)
	}
	return f.Index.ReplaceDocument(ctx, ns, documentId, chunks)
}

// --- Harness ---

type harness struct {
	pipeline  *Pipeline
	docs      *store.InMemoryCatalogStore
	index     *memoryDB.Index
	fetcher   *mockFetcher
	generator *embedding.Generator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	return newHarnessWith(t, nil, opts...)
}

func newHarnessWith(t *testing.T, embedder Embedder, opts ...Option) *harness {
	t.Helper()
	return buildHarness(t, embedder, nil, opts...)
}

// buildHarness retries with millisecond delays; wrap, when set, decorates the index the pipeline writes to.
func buildHarness(t *testing.T, embedder Embedder, wrap func(*memoryDB.Index) vectorDB.Index, opts ...Option) *harness {
	t.Helper()
	c, err := chunker.New(chunker.WithChunkSize(80), chunker.WithOverlap(10), chunker.WithTolerance(30))
	require.NoError(t, err)

	h := &harness{
		docs:      store.InitInMemoryCatalogStore(),
		index:     memoryDB.New(),
		fetcher:   &mockFetcher{files: make(map[string]string)},
		generator: embedding.NewGenerator(hashEmbedding.New(64), embedding.WithRateLimit(0)),
	}
	if embedder == nil {
		embedder = h.generator
	}
	var index vectorDB.Index = h.index
	if wrap != nil {
		index = wrap(h.index)
	}
	opts = append([]Option{WithRetry(3, time.Millisecond, 2*time.Millisecond)}, opts...)
	h.pipeline, err = New(Deps{
		Documents: h.docs,
		Fetcher:   h.fetcher,
		Chunker:   c,
		Embedder:  embedder,
		Index:     index,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.pipeline.Close(5 * time.Second) })
	return h
}

func (h *harness) upload(t *testing.T, projectId, docId, ref, body string) {
	t.Helper()
	if body != "" {
		h.fetcher.put(ref, body)
	}
	require.NoError(t, h.docs.CreateDocument(context.Background(), commonModels.Document{
		Id: docId, ProjectId: projectId, Name: ref, StorageRef: ref,
		Status: commonModels.StatusUploaded, UploadedAt: time.Now(),
	}))
}

func (h *harness) chunks(t *testing.T, projectId, docId string) []commonModels.DocChunk {
	t.Helper()
	ns, err := vectorDB.NewNamespace(projectId)
	require.NoError(t, err)
	vec, err := h.generator.EmbedQuery(context.Background(), "leave")
	require.NoError(t, err)
	matches, err := h.index.Query(context.Background(), ns, vec, 1000, &vectorDB.Filter{DocumentIds: []string{docId}})
	require.NoError(t, err)
	out := make([]commonModels.DocChunk, len(matches))
	for i, m := range matches {
		out[i] = m.Chunk
	}
	return out
}

// --- Tests ---

func TestGetDocType(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		expected commonModels.DocType
	}{
		{"test.pdf", "", commonModels.PDF},
		{"DOC.DOCX", "", commonModels.DOCX},
		{"notes.odt", "", commonModels.DOCX},
		{"notes.txt", "", commonModels.TXT},
		{"blob", "%PDF-1.7", commonModels.PDF},
		{"blob", "plain words", commonModels.TXT},
		{"image.png", "\x89PNG\r\n\x1a\n\xff\xfe", commonModels.ERR},
	}
	for _, tt := range tests {
		if got := getDocType(tt.name, []byte(tt.data)); got != tt.expected {
			t.Errorf("getDocType(%s) = %v; want %v", tt.name, got, tt.expected)
		}
	}
}

func TestPrepareChunks_OrdinalsAreContiguousAcrossPages(t *testing.T) {
	c, err := chunker.New(chunker.WithChunkSize(40), chunker.WithOverlap(5), chunker.WithTolerance(10))
	require.NoError(t, err)
	ns, _ := vectorDB.NewNamespace("p1")
	pages := []rawPage{
		{Number: 1, Content: strings.Repeat("alpha beta gamma ", 6)},
		{Number: 2, Content: "   "},
		{Number: 3, Content: strings.Repeat("delta epsilon ", 5)},
	}

	chunks, err := prepareChunks(c, ns, commonModels.Document{Id: "doc-1"}, "gen-1", "m", pages)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
		assert.Equal(t, "p1", ch.ProjectId)
		assert.Equal(t, vectorDB.ChunkID(ns, "doc-1", "gen-1", i), ch.Id)
		assert.NotEqual(t, 2, ch.PageNum, "blank page must not produce chunks")
	}
	assert.Equal(t, 1, chunks[0].PageNum)
	assert.Equal(t, 3, chunks[len(chunks)-1].PageNum)

	_, err = prepareChunks(c, ns, commonModels.Document{Id: "doc-1"}, "gen-1", "m", []rawPage{{Number: 1, Content: "\n"}})
	assert.Equal(t, ragErrors.CodeEmptyDocument, ragErrors.CodeOf(err))
}

func TestRun_IndexesDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "p1", "d1", "handbook.txt", handbook)

	doc, err := h.pipeline.Run(ctx, "p1", "d1")
	require.NoError(t, err)
	assert.Equal(t, commonModels.StatusIndexed, doc.Status)
	assert.Equal(t, commonModels.TXT, doc.ContentType)
	assert.Equal(t, 1, doc.Attempts)
	assert.False(t, doc.IndexedAt.IsZero())

	chunks := h.chunks(t, "p1", "d1")
	require.Len(t, chunks, doc.ChunkCount)
	seen := make(map[int]bool)
	for _, c := range chunks {
		seen[c.Ordinal] = true
		assert.Equal(t, h.generator.Model(), c.EmbeddingModel)
	}
	for i := 0; i < doc.ChunkCount; i++ {
		assert.True(t, seen[i], "ordinal %d missing", i)
	}

	// querying with a chunk's own text returns it first
	ns, _ := vectorDB.NewNamespace("p1")
	target := chunks[len(chunks)-1]
	vec, err := h.generator.EmbedQuery(ctx, target.Text)
	require.NoError(t, err)
	matches, err := h.index.Query(ctx, ns, vec, 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, target.Id, matches[0].ChunkId)
}

func TestRun_PartialFailureIsolatesDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "p1", "d1", "handbook.txt", handbook)
	h.upload(t, "p1", "d2", "broken.pdf", "%PDF-1.4 this is not really a pdf")

	d1, err := h.pipeline.Run(ctx, "p1", "d1")
	require.NoError(t, err)
	before := h.chunks(t, "p1", "d1")

	d2, err := h.pipeline.Run(ctx, "p1", "d2")
	require.Error(t, err)
	assert.Equal(t, ragErrors.CodeCorruptDocument, ragErrors.CodeOf(err))
	assert.Equal(t, commonModels.StatusFailed, d2.Status)
	assert.Equal(t, string(ragErrors.CodeCorruptDocument), d2.FailureCode)
	assert.NotEmpty(t, d2.FailureReason)
	assert.Empty(t, h.chunks(t, "p1", "d2"))

	assert.Equal(t, commonModels.StatusIndexed, d1.Status)
	assert.Equal(t, before, h.chunks(t, "p1", "d1"))
	count, err := h.docs.CountIndexed(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRun_ConcurrentTriggersProduceOneChunkSet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "p1", "d1", "handbook.txt", handbook)

	release := make(chan struct{})
	h.fetcher.OnFetch = func(ctx context.Context, ref string) (io.ReadCloser, error) {
		<-release
		return io.NopCloser(strings.NewReader(handbook)), nil
	}

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.pipeline.Run(ctx, "p1", "d1")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// late callers that miss the shared run lose the status compare-and-set instead
	for _, err := range errs {
		if err != nil {
			assert.Contains(t, []ragErrors.Code{ragErrors.CodeIngestionInProgress, ragErrors.CodeInvalidTransition}, ragErrors.CodeOf(err))
		}
	}
	doc, _, err := h.docs.GetDocument(ctx, "p1", "d1")
	require.NoError(t, err)
	assert.Equal(t, commonModels.StatusIndexed, doc.Status)
	assert.Equal(t, 1, doc.Attempts)
	assert.Len(t, h.chunks(t, "p1", "d1"), doc.ChunkCount)
}

func rejectingEmbedder(g *embedding.Generator, rejectIndex int) *mockEmbedder {
	return &mockEmbedder{OnEmbed: func(ctx context.Context, texts []string) (embedding.BatchResult, error) {
		result, err := g.EmbedDocuments(ctx, texts)
		if err != nil {
			return result, err
		}
		result.Vectors[rejectIndex] = nil
		result.Rejected = append(result.Rejected, embedding.Rejection{
			Index: rejectIndex,
			Err:   ragErrors.E(ragErrors.CodeChunkRejected, "mock", embedding.ErrRejectedInput),
		})
		return result, nil
	}}
}

func TestRun_RejectedChunkPolicies(t *testing.T) {
	g := embedding.NewGenerator(hashEmbedding.New(64), embedding.WithRateLimit(0))

	t.Run("fail document", func(t *testing.T) {
		h := newHarnessWith(t, rejectingEmbedder(g, 1), WithRejectPolicy(config.RejectPolicyFail))
		h.upload(t, "p1", "d1", "handbook.txt", handbook)

		doc, err := h.pipeline.Run(context.Background(), "p1", "d1")
		assert.Equal(t, ragErrors.CodeChunkRejected, ragErrors.CodeOf(err))
		assert.True(t, ragErrors.IsKind(err, ragErrors.KindInput))
		assert.Equal(t, commonModels.StatusFailed, doc.Status)
		assert.Empty(t, h.chunks(t, "p1", "d1"))
	})

	t.Run("drop chunk", func(t *testing.T) {
		h := newHarnessWith(t, rejectingEmbedder(g, 1), WithRejectPolicy(config.RejectPolicyDrop))
		h.upload(t, "p1", "d1", "handbook.txt", handbook)

		doc, err := h.pipeline.Run(context.Background(), "p1", "d1")
		require.NoError(t, err)
		assert.Equal(t, commonModels.StatusIndexed, doc.Status)

		chunks := h.chunks(t, "p1", "d1")
		require.Len(t, chunks, doc.ChunkCount)
		seen := make(map[int]bool)
		for _, c := range chunks {
			seen[c.Ordinal] = true
		}
		for i := 0; i < doc.ChunkCount; i++ {
			assert.True(t, seen[i], "ordinals must stay contiguous after a drop")
		}
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := New(Deps{
			Documents: store.InitInMemoryCatalogStore(), Fetcher: &mockFetcher{}, Chunker: &chunker.Chunker{},
			Embedder: g, Index: memoryDB.New(),
		}, WithRejectPolicy("IGNORE"))
		assert.Error(t, err)
	})
}

func TestRetryAndReindex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "p1", "d1", "late.txt", "")

	doc, err := h.pipeline.Run(ctx, "p1", "d1")
	assert.Equal(t, ragErrors.CodeContentNotFound, ragErrors.CodeOf(err))
	assert.Equal(t, commonModels.StatusFailed, doc.Status)

	_, err = h.pipeline.Reindex(ctx, "p1", "d1")
	assert.Equal(t, ragErrors.CodeInvalidTransition, ragErrors.CodeOf(err))

	h.fetcher.put("late.txt", handbook)
	doc, err = h.pipeline.Run(ctx, "p1", "d1", commonModels.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, commonModels.StatusIndexed, doc.Status)
	assert.Equal(t, 2, doc.Attempts)
	assert.Empty(t, doc.FailureCode)

	_, err = h.pipeline.Retry(ctx, "p1", "d1")
	assert.Equal(t, ragErrors.CodeInvalidTransition, ragErrors.CodeOf(err))

	// a failed reindex must not leave the previous chunks searchable, even once retries run out
	h.fetcher.OnFetch = func(ctx context.Context, ref string) (io.ReadCloser, error) {
		return nil, ragErrors.E(ragErrors.CodeContentUnavailable, "mock.Fetch", errors.New("bucket offline"))
	}
	doc, err = h.pipeline.Run(ctx, "p1", "d1", commonModels.StatusIndexed)
	assert.Equal(t, ragErrors.CodeContentUnavailable, ragErrors.CodeOf(err))
	assert.Equal(t, commonModels.StatusFailed, doc.Status)
	assert.Empty(t, h.chunks(t, "p1", "d1"))
}

func TestTrigger_RunsInBackground(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fetcher.put("gs://docs/handbook.txt", handbook)

	doc, err := h.pipeline.Trigger(ctx, TriggerRequest{DocumentId: "d1", ProjectId: "p1", StorageRef: "gs://docs/handbook.txt"})
	require.NoError(t, err)
	assert.Equal(t, "handbook.txt", doc.Name)

	require.NoError(t, h.pipeline.Close(5*time.Second))

	stored, found, err := h.docs.GetDocument(ctx, "p1", "d1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, commonModels.StatusIndexed, stored.Status)

	// a re-delivered trigger is a no-op
	again, err := h.pipeline.Trigger(ctx, TriggerRequest{DocumentId: "d1", ProjectId: "p1", StorageRef: "gs://docs/handbook.txt"})
	require.NoError(t, err)
	assert.Equal(t, commonModels.StatusIndexed, again.Status)

	_, err = h.pipeline.Trigger(ctx, TriggerRequest{ProjectId: "p1"})
	assert.Equal(t, ragErrors.CodeInvalidRequest, ragErrors.CodeOf(err))
}

func TestDeleteDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "p1", "d1", "handbook.txt", handbook)
	_, err := h.pipeline.Run(ctx, "p1", "d1")
	require.NoError(t, err)

	assert.Equal(t, ragErrors.CodeDocumentNotFound, ragErrors.CodeOf(h.pipeline.DeleteDocument(ctx, "p2", "d1")))

	require.NoError(t, h.pipeline.DeleteDocument(ctx, "p1", "d1"))
	assert.Empty(t, h.chunks(t, "p1", "d1"))
	_, found, err := h.docs.GetDocument(ctx, "p1", "d1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRun_RetriesTransientDependencyFailures(t *testing.T) {
	t.Run("index timeout once", func(t *testing.T) {
		flaky := &flakyIndex{failures: 1}
		h := buildHarness(t, nil, func(ix *memoryDB.Index) vectorDB.Index {
			flaky.Index = ix
			return flaky
		})
		h.upload(t, "p1", "d1", "handbook.txt", handbook)

		doc, err := h.pipeline.Run(context.Background(), "p1", "d1")
		require.NoError(t, err)
		assert.Equal(t, commonModels.StatusIndexed, doc.Status)
		assert.Equal(t, int32(2), flaky.calls.Load())
		assert.Len(t, h.chunks(t, "p1", "d1"), doc.ChunkCount)
	})

	t.Run("index keeps timing out", func(t *testing.T) {
		flaky := &flakyIndex{failures: 100}
		h := buildHarness(t, nil, func(ix *memoryDB.Index) vectorDB.Index {
			flaky.Index = ix
			return flaky
		})
		h.upload(t, "p1", "d1", "handbook.txt", handbook)

		doc, err := h.pipeline.Run(context.Background(), "p1", "d1")
		assert.Equal(t, ragErrors.CodeIndexFailed, ragErrors.CodeOf(err))
		assert.Equal(t, commonModels.StatusFailed, doc.Status)
		assert.Equal(t, int32(3), flaky.calls.Load())
	})

	t.Run("storage blip", func(t *testing.T) {
		h := newHarness(t)
		h.upload(t, "p1", "d1", "handbook.txt", "")
		var calls atomic.Int32
		h.fetcher.OnFetch = func(ctx context.Context, ref string) (io.ReadCloser, error) {
			if calls.Add(1) == 1 {
				return nil, ragErrors.E(ragErrors.CodeContentUnavailable, "mock.Fetch", errors.New("connection reset"))
			}
			return io.NopCloser(strings.NewReader(handbook)), nil
		}

		doc, err := h.pipeline.Run(context.Background(), "p1", "d1")
		require.NoError(t, err)
		assert.Equal(t, commonModels.StatusIndexed, doc.Status)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("missing content is not retried", func(t *testing.T) {
		h := newHarness(t)
		h.upload(t, "p1", "d1", "gone.txt", "")
		var calls atomic.Int32
		h.fetcher.OnFetch = func(ctx context.Context, ref string) (io.ReadCloser, error) {
			calls.Add(1)
			return nil, ragErrors.E(ragErrors.CodeContentNotFound, "mock.Fetch", nil)
		}

		_, err := h.pipeline.Run(context.Background(), "p1", "d1")
		assert.Equal(t, ragErrors.CodeContentNotFound, ragErrors.CodeOf(err))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func (h *harness) seedProcessing(t *testing.T, projectId, docId, ref string, updated time.Time) {
	t.Helper()
	h.fetcher.put(ref, handbook)
	require.NoError(t, h.docs.CreateDocument(context.Background(), commonModels.Document{
		Id: docId, ProjectId: projectId, Name: ref, StorageRef: ref, Attempts: 1,
		Status: commonModels.StatusProcessing, UploadedAt: updated, UpdatedAt: updated,
	}))
}

func TestInterruptedRunsAreRecovered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	crashed := time.Now().Add(-2 * time.Hour)
	h.seedProcessing(t, "p1", "trigger", "a.txt", crashed)
	h.seedProcessing(t, "p1", "retry", "b.txt", crashed)
	h.seedProcessing(t, "p1", "reindex", "c.txt", crashed)
	h.seedProcessing(t, "p1", "delete", "d.txt", crashed)
	h.seedProcessing(t, "p1", "live", "e.txt", time.Now())

	_, err := h.pipeline.Trigger(ctx, TriggerRequest{DocumentId: "trigger", ProjectId: "p1", StorageRef: "a.txt"})
	require.NoError(t, err)
	_, err = h.pipeline.Retry(ctx, "p1", "retry")
	require.NoError(t, err)
	_, err = h.pipeline.Reindex(ctx, "p1", "reindex")
	require.NoError(t, err)
	require.NoError(t, h.pipeline.DeleteDocument(ctx, "p1", "delete"))

	// a run that may still be alive keeps its claim
	_, err = h.pipeline.Retry(ctx, "p1", "live")
	assert.Equal(t, ragErrors.CodeIngestionInProgress, ragErrors.CodeOf(err))
	assert.Equal(t, ragErrors.CodeIngestionInProgress, ragErrors.CodeOf(h.pipeline.DeleteDocument(ctx, "p1", "live")))

	require.NoError(t, h.pipeline.Close(5*time.Second))

	for _, id := range []string{"trigger", "retry", "reindex"} {
		doc, found, err := h.docs.GetDocument(ctx, "p1", id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, commonModels.StatusIndexed, doc.Status, id)
		assert.Equal(t, 2, doc.Attempts, id)
		assert.Len(t, h.chunks(t, "p1", id), doc.ChunkCount, id)
	}
	_, found, err := h.docs.GetDocument(ctx, "p1", "delete")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedProcessing(t, "p1", "old", "a.txt", time.Now().Add(-time.Hour))
	h.seedProcessing(t, "p1", "fresh", "b.txt", time.Now())
	h.upload(t, "p1", "idle", "c.txt", handbook)

	recovered, err := h.pipeline.RecoverInterrupted(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	old, _, err := h.docs.GetDocument(ctx, "p1", "old")
	require.NoError(t, err)
	assert.Equal(t, commonModels.StatusFailed, old.Status)
	assert.Equal(t, string(ragErrors.CodeCanceled), old.FailureCode)
	assert.NotEmpty(t, old.FailureReason)

	fresh, _, err := h.docs.GetDocument(ctx, "p1", "fresh")
	require.NoError(t, err)
	assert.Equal(t, commonModels.StatusProcessing, fresh.Status)

	recovered, err = h.pipeline.RecoverInterrupted(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, recovered)
}
