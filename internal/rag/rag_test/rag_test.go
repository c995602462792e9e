package rag_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/data/store"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/jobModel"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag"
	"github.com/akolanti/GoRAG/internal/rag/chunker"
	"github.com/akolanti/GoRAG/internal/rag/content"
	"github.com/akolanti/GoRAG/internal/rag/embedding"
	"github.com/akolanti/GoRAG/internal/rag/embedding/hashEmbedding"
	"github.com/akolanti/GoRAG/internal/rag/ingest"
	"github.com/akolanti/GoRAG/internal/rag/llm"
	"github.com/akolanti/GoRAG/internal/rag/retrieval"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB/memoryDB"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	catalog   *store.InMemoryCatalogStore
	chats     *store.InMemoryChatStore
	retriever *MockRetriever
	llm       *MockLLM
	sink      *MockSink
	svc       rag.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{
		catalog:   store.InitInMemoryCatalogStore(),
		chats:     store.InitInMemoryChatStore(),
		retriever: &MockRetriever{},
		llm:       &MockLLM{},
		sink:      &MockSink{},
	}
	for _, p := range []string{"p1", "p2", "empty"} {
		require.NoError(t, e.catalog.CreateProject(ctx, commonModels.Project{Id: p, Name: p}))
	}
	for _, p := range []string{"p1", "p2"} {
		require.NoError(t, e.catalog.CreateDocument(ctx, commonModels.Document{
			Id: "d1", ProjectId: p, Status: commonModels.StatusIndexed, StorageRef: "d1.txt",
		}))
	}

	settings := config.Default()
	settings.LLM.CostPerInputToken = 0.01
	settings.LLM.CostPerOutputToken = 0.02
	e.svc = rag.NewService(rag.Deps{
		Projects:  e.catalog,
		Documents: e.catalog,
		Chats:     e.chats,
		Retriever: e.retriever,
		LLM:       e.llm,
		Usage:     e.sink,
	}, settings)
	return e
}

func TestChat_SessionContinuity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	replies := []string{"R1", "R2"}
	e.llm.OnGenerate = func(ctx context.Context, req llm.Request) (llm.Response, error) {
		r := replies[0]
		replies = replies[1:]
		return llm.Response{Text: r, TokensIn: 7, TokensOut: 3}, nil
	}

	first, err := e.svc.Chat(ctx, rag.ChatRequest{ProjectId: "p1", UserId: "u1", Message: "M1"})
	require.NoError(t, err)
	assert.True(t, first.IsNewSession)
	assert.NotEmpty(t, first.SessionId)
	assert.Equal(t, "R1", first.Reply)

	second, err := e.svc.Chat(ctx, rag.ChatRequest{ProjectId: "p1", SessionId: first.SessionId, Message: "M2"})
	require.NoError(t, err)
	assert.False(t, second.IsNewSession)
	assert.Equal(t, first.SessionId, second.SessionId)
	assert.Contains(t, e.llm.LastRequest().Prompt, "user: M1")
	assert.Contains(t, e.llm.LastRequest().Prompt, "assistant: R1")

	history, err := e.chats.ListMessages(ctx, first.SessionId, 0)
	require.NoError(t, err)
	var got []string
	for _, m := range history {
		got = append(got, string(m.Role)+":"+m.Content)
	}
	assert.Equal(t, []string{"user:M1", "assistant:R1", "user:M2", "assistant:R2"}, got)
}

func TestChat_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		req      rag.ChatRequest
		setup    func(t *testing.T, e *env) rag.ChatRequest
		wantCode ragErrors.Code
	}{
		{name: "empty message", req: rag.ChatRequest{ProjectId: "p1", Message: "  "}, wantCode: ragErrors.CodeInvalidRequest},
		{name: "missing project", req: rag.ChatRequest{ProjectId: "nope", Message: "hi"}, wantCode: ragErrors.CodeProjectNotFound},
		{name: "no indexed documents", req: rag.ChatRequest{ProjectId: "empty", Message: "hi"}, wantCode: ragErrors.CodeNoIndexedDocuments},
		{name: "unknown session", req: rag.ChatRequest{ProjectId: "p1", SessionId: "ghost", Message: "hi"}, wantCode: ragErrors.CodeSessionNotFound},
		{
			name: "session of another project",
			setup: func(t *testing.T, e *env) rag.ChatRequest {
				resp, err := e.svc.Chat(context.Background(), rag.ChatRequest{ProjectId: "p2", Message: "hi"})
				require.NoError(t, err)
				return rag.ChatRequest{ProjectId: "p1", SessionId: resp.SessionId, Message: "hi"}
			},
			wantCode: ragErrors.CodeSessionNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			req := tt.req
			if tt.setup != nil {
				req = tt.setup(t, e)
			}
			calls := e.llm.Calls()
			_, err := e.svc.Chat(context.Background(), req)
			assert.Equal(t, tt.wantCode, ragErrors.CodeOf(err))
			assert.Equal(t, calls, e.llm.Calls(), "no model call on a rejected request")
		})
	}
}

func TestChat_CitationsAndUsage(t *testing.T) {
	e := newEnv(t)
	e.retriever.OnRetrieve = func(ctx context.Context, req retrieval.Request) ([]vectorDB.Match, error) {
		assert.Equal(t, "p1", req.ProjectId)
		return []vectorDB.Match{match("d2", 4, "a"), match("d1", 1, "b"), match("d2", 4, "c")}, nil
	}
	resp, err := e.svc.Chat(context.Background(), rag.ChatRequest{ProjectId: "p1", UserId: "u9", Message: "what?"})
	require.NoError(t, err)
	assert.Equal(t, []commonModels.Source{{DocumentId: "d2", Page: 4}, {DocumentId: "d1", Page: 1}}, resp.Sources)
	assert.Contains(t, e.llm.LastRequest().Prompt, "[3] (document: d2, page: 4)")

	events := e.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "u9", events[0].UserId)
	assert.Equal(t, resp.SessionId, events[0].SessionId)
	assert.Equal(t, 10, events[0].TokensIn)
	assert.Equal(t, 5, events[0].TokensOut)
	assert.InDelta(t, 0.2, events[0].Cost, 1e-9)
}

func TestChat_LLMFailures(t *testing.T) {
	t.Run("transient errors are retried", func(t *testing.T) {
		e := newEnv(t)
		e.llm.OnGenerate = func(ctx context.Context, req llm.Request) (llm.Response, error) {
			if e.llm.Calls() == 1 {
				return llm.Response{}, ragErrors.E(ragErrors.CodeLLMFailed, "mock", errors.New("429"))
			}
			return llm.Response{Text: "ok"}, nil
		}
		resp, err := e.svc.Chat(context.Background(), rag.ChatRequest{ProjectId: "p1", Message: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Reply)
		assert.Equal(t, 2, e.llm.Calls())
	})

	t.Run("empty completion fails and stores nothing", func(t *testing.T) {
		e := newEnv(t)
		e.llm.OnGenerate = func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{Text: "   "}, nil
		}
		_, err := e.svc.Chat(context.Background(), rag.ChatRequest{ProjectId: "p1", Message: "hi"})
		assert.Equal(t, ragErrors.CodeLLMFailed, ragErrors.CodeOf(err))
		assert.Equal(t, 1, e.llm.Calls())
		assert.Empty(t, e.sink.Events())
	})

	t.Run("caller leaving mid-call discards the answer", func(t *testing.T) {
		e := newEnv(t)
		ctx, cancel := context.WithCancel(context.Background())
		e.llm.OnGenerate = func(lctx context.Context, req llm.Request) (llm.Response, error) {
			cancel()
			assert.NoError(t, lctx.Err(), "the model call is detached from the caller")
			return llm.Response{Text: "late answer"}, nil
		}
		_, err := e.svc.Chat(ctx, rag.ChatRequest{ProjectId: "p1", Message: "hi"})
		assert.Equal(t, ragErrors.CodeCanceled, ragErrors.CodeOf(err))
		assert.Empty(t, e.sink.Events())
	})

	t.Run("cancelled before dispatch never calls the model", func(t *testing.T) {
		e := newEnv(t)
		ctx, cancel := context.WithCancel(context.Background())
		e.retriever.OnRetrieve = func(ctx context.Context, req retrieval.Request) ([]vectorDB.Match, error) {
			cancel()
			return []vectorDB.Match{match("d1", 1, "x")}, nil
		}
		_, err := e.svc.Chat(ctx, rag.ChatRequest{ProjectId: "p1", Message: "hi"})
		assert.Equal(t, ragErrors.CodeCanceled, ragErrors.CodeOf(err))
		assert.Zero(t, e.llm.Calls())
	})
}

func TestChat_RetrievalErrorPropagates(t *testing.T) {
	e := newEnv(t)
	e.retriever.OnRetrieve = func(ctx context.Context, req retrieval.Request) ([]vectorDB.Match, error) {
		return nil, ragErrors.E(ragErrors.CodeEmbeddingModelMismatch, "mock", nil)
	}
	_, err := e.svc.Chat(context.Background(), rag.ChatRequest{ProjectId: "p1", Message: "hi"})
	assert.Equal(t, ragErrors.CodeEmbeddingModelMismatch, ragErrors.CodeOf(err))
	assert.Zero(t, e.llm.Calls())
}

func TestProcessRequest_Scenarios(t *testing.T) {
	tests := []struct {
		name           string
		payload        jobModel.JobPayload
		expectedStep   jobModel.InternalStatus
		expectedStatus jobModel.JobStatus
		expectedAnswer string
		expectedCode   string
		expectedHttp   int
	}{
		{
			name:           "Success_Full_Flow",
			payload:        jobModel.JobPayload{ProjectId: "p1", Question: "hello"},
			expectedStep:   jobModel.Complete,
			expectedStatus: jobModel.JobStatusQueued,
			expectedAnswer: "mocked llm response",
		},
		{
			name:           "Failure_No_Documents",
			payload:        jobModel.JobPayload{ProjectId: "empty", Question: "hello"},
			expectedStep:   jobModel.Error,
			expectedStatus: jobModel.JobStatusError,
			expectedCode:   "NO_INDEXED_DOCUMENTS",
			expectedHttp:   http.StatusConflict,
		},
		{
			name:           "Failure_Unknown_Project",
			payload:        jobModel.JobPayload{ProjectId: "ghost", Question: "hello"},
			expectedStep:   jobModel.Error,
			expectedStatus: jobModel.JobStatusError,
			expectedCode:   "PROJECT_NOT_FOUND",
			expectedHttp:   http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, "trace-1")
			job := jobModel.Job{Id: "job-1", Status: jobModel.JobStatusQueued, JobPayload: tt.payload}

			got := e.svc.ProcessRequest(ctx, job)
			assert.Equal(t, tt.expectedStep, got.CurrentStep)
			assert.Equal(t, tt.expectedStatus, got.Status)
			assert.Equal(t, tt.expectedAnswer, got.JobPayload.Answer)
			assert.Equal(t, tt.expectedCode, got.Error.Code)
			assert.Equal(t, tt.expectedHttp, got.Error.HttpCode)
			if tt.expectedCode == "" {
				assert.NotEmpty(t, got.ChatId)
				assert.True(t, got.JobPayload.NewChat)
			}
		})
	}
}

func TestProjectService(t *testing.T) {
	ctx := context.Background()
	catalog := store.InitInMemoryCatalogStore()
	chats := store.InitInMemoryChatStore()
	index := memoryDB.New()
	ingestion := &MockIngestion{}
	svc := rag.NewProjectService(rag.ProjectDeps{
		Projects: catalog, Documents: catalog, Chats: chats, Index: index, Ingestion: ingestion,
	})

	project, err := svc.CreateProject(ctx, "", "Handbook")
	require.NoError(t, err)
	assert.NotEmpty(t, project.Id)
	_, err = svc.CreateProject(ctx, project.Id, "again")
	assert.Equal(t, ragErrors.CodeInvalidRequest, ragErrors.CodeOf(err))

	_, err = svc.IngestDocument(ctx, ingest.TriggerRequest{ProjectId: "ghost", DocumentId: "d1", StorageRef: "a.txt"})
	assert.Equal(t, ragErrors.CodeProjectNotFound, ragErrors.CodeOf(err))
	_, err = svc.GetDocument(ctx, project.Id, "d1")
	assert.Equal(t, ragErrors.CodeDocumentNotFound, ragErrors.CodeOf(err))

	ns, err := vectorDB.NewNamespace(project.Id)
	require.NoError(t, err)
	require.NoError(t, catalog.CreateDocument(ctx, commonModels.Document{Id: "d1", ProjectId: project.Id, Status: commonModels.StatusProcessing}))
	require.NoError(t, index.Upsert(ctx, ns, []commonModels.DocChunk{{
		Id: vectorDB.ChunkID(ns, "d1", "g", 0), DocumentId: "d1", ProjectId: project.Id, Text: "x", Vector: []float32{1},
	}}))
	require.NoError(t, chats.CreateSession(ctx, commonModels.ChatSession{Id: "s1", ProjectId: project.Id}))

	var recovered []string
	ingestion.OnRecover = func(ctx context.Context, projectId string) (int, error) {
		recovered = append(recovered, projectId)
		return 0, nil
	}
	err = svc.DeleteProject(ctx, project.Id)
	assert.Equal(t, ragErrors.CodeIngestionInProgress, ragErrors.CodeOf(err))
	assert.Equal(t, []string{project.Id}, recovered, "abandoned runs are recovered before the check")

	_, err = catalog.Transition(ctx, project.Id, "d1",
		[]commonModels.DocStatus{commonModels.StatusProcessing}, commonModels.StatusIndexed, nil)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteProject(ctx, project.Id))

	matches, err := index.Query(ctx, ns, []float32{1}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
	_, found, _ := chats.GetSession(ctx, "s1")
	assert.False(t, found)
	_, err = svc.GetProject(ctx, project.Id)
	assert.Equal(t, ragErrors.CodeProjectNotFound, ragErrors.CodeOf(err))
}

func TestProjectService_DeleteAfterAbandonedRun(t *testing.T) {
	ctx := context.Background()
	catalog := store.InitInMemoryCatalogStore()
	index := memoryDB.New()
	c, err := chunker.New()
	require.NoError(t, err)
	fetcher, err := content.NewLocalFetcher(t.TempDir())
	require.NoError(t, err)
	pipeline, err := ingest.New(ingest.Deps{
		Documents: catalog,
		Fetcher:   fetcher,
		Chunker:   c,
		Embedder:  embedding.NewGenerator(hashEmbedding.New(16), embedding.WithRateLimit(0)),
		Index:     index,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pipeline.Close(time.Second) })
	svc := rag.NewProjectService(rag.ProjectDeps{
		Projects: catalog, Documents: catalog, Chats: store.InitInMemoryChatStore(), Index: index, Ingestion: pipeline,
	})

	project, err := svc.CreateProject(ctx, "handbook", "Handbook")
	require.NoError(t, err)
	// left behind by a process that stopped mid-run
	stopped := time.Now().Add(-time.Hour)
	require.NoError(t, catalog.CreateDocument(ctx, commonModels.Document{
		Id: "d1", ProjectId: project.Id, Status: commonModels.StatusProcessing, UploadedAt: stopped, UpdatedAt: stopped,
	}))

	require.NoError(t, svc.DeleteProject(ctx, project.Id))
	_, err = svc.GetProject(ctx, project.Id)
	assert.Equal(t, ragErrors.CodeProjectNotFound, ragErrors.CodeOf(err))
}

func TestChat_SerializesTurnsPerSession(t *testing.T) {
	e := newEnv(t)
	first, err := e.svc.Chat(context.Background(), rag.ChatRequest{ProjectId: "p1", Message: "start"})
	require.NoError(t, err)

	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	e.llm.OnGenerate = func(ctx context.Context, req llm.Request) (llm.Response, error) {
		entered <- struct{}{}
		<-release
		return llm.Response{Text: "r"}, nil
	}
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := e.svc.Chat(context.Background(), rag.ChatRequest{ProjectId: "p1", SessionId: first.SessionId, Message: "q"})
			errs <- err
		}()
	}

	<-entered
	select {
	case <-entered:
		t.Fatal("two turns of one session reached the model together")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	history, err := e.chats.ListMessages(context.Background(), first.SessionId, 0)
	require.NoError(t, err)
	assert.Len(t, history, 6)
}
