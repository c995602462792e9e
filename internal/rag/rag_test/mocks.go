package rag_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/rag/ingest"
	"github.com/akolanti/GoRAG/internal/rag/llm"
	"github.com/akolanti/GoRAG/internal/rag/retrieval"
	"github.com/akolanti/GoRAG/internal/rag/usage"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
)

// MockRetriever implements rag.Retriever
type MockRetriever struct {
	OnRetrieve func(ctx context.Context, req retrieval.Request) ([]vectorDB.Match, error)
}

func (m *MockRetriever) Retrieve(ctx context.Context, req retrieval.Request) ([]vectorDB.Match, error) {
	if m.OnRetrieve != nil {
		return m.OnRetrieve(ctx, req)
	}
	return []vectorDB.Match{match("d1", 1, "default context")}, nil
}

// MockLLM implements llm.Provider
type MockLLM struct {
	OnGenerate func(ctx context.Context, req llm.Request) (llm.Response, error)
	calls      atomic.Int32

	mu       sync.Mutex
	requests []llm.Request
}

func (m *MockLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.OnGenerate != nil {
		return m.OnGenerate(ctx, req)
	}
	return llm.Response{Text: "mocked llm response", TokensIn: 10, TokensOut: 5}, nil
}

func (m *MockLLM) Model() string { return "mock-llm" }

func (m *MockLLM) Calls() int { return int(m.calls.Load()) }

func (m *MockLLM) LastRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return llm.Request{}
	}
	return m.requests[len(m.requests)-1]
}

// MockSink implements usage.Sink
type MockSink struct {
	mu     sync.Mutex
	events []usage.Event
}

func (m *MockSink) Emit(_ context.Context, e usage.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *MockSink) Events() []usage.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]usage.Event(nil), m.events...)
}

// MockIngestion implements rag.Ingestion
type MockIngestion struct {
	OnTrigger func(ctx context.Context, req ingest.TriggerRequest) (commonModels.Document, error)
	OnRetry   func(ctx context.Context, projectId, documentId string) (commonModels.Document, error)
	OnReindex func(ctx context.Context, projectId, documentId string) (commonModels.Document, error)
	OnDelete  func(ctx context.Context, projectId, documentId string) error
	OnRecover func(ctx context.Context, projectId string) (int, error)
}

func (m *MockIngestion) Trigger(ctx context.Context, req ingest.TriggerRequest) (commonModels.Document, error) {
	if m.OnTrigger != nil {
		return m.OnTrigger(ctx, req)
	}
	return commonModels.Document{Id: req.DocumentId, ProjectId: req.ProjectId, Status: commonModels.StatusUploaded}, nil
}

func (m *MockIngestion) Retry(ctx context.Context, projectId, documentId string) (commonModels.Document, error) {
	if m.OnRetry != nil {
		return m.OnRetry(ctx, projectId, documentId)
	}
	return commonModels.Document{}, nil
}

func (m *MockIngestion) Reindex(ctx context.Context, projectId, documentId string) (commonModels.Document, error) {
	if m.OnReindex != nil {
		return m.OnReindex(ctx, projectId, documentId)
	}
	return commonModels.Document{}, nil
}

func (m *MockIngestion) DeleteDocument(ctx context.Context, projectId, documentId string) error {
	if m.OnDelete != nil {
		return m.OnDelete(ctx, projectId, documentId)
	}
	return nil
}

func (m *MockIngestion) RecoverInterrupted(ctx context.Context, projectId string) (int, error) {
	if m.OnRecover != nil {
		return m.OnRecover(ctx, projectId)
	}
	return 0, nil
}

func match(doc string, page int, text string) vectorDB.Match {
	return vectorDB.Match{
		ChunkId: doc + "-" + text,
		Score:   0.9,
		Chunk:   commonModels.DocChunk{DocumentId: doc, PageNum: page, Text: text},
	}
}
