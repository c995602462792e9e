// Package retrieval finds the chunks of one project that best match a question.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/metrics"
	"github.com/akolanti/GoRAG/internal/rag/retry"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

// QueryEmbedder must be the generator that embedded the indexed chunks.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type Request struct {
	ProjectId string
	Query     string
	TopK      int
	MinScore  float32
	Filter    *vectorDB.Filter
}

type Engine struct {
	embedder     QueryEmbedder
	index        vectorDB.Index
	topK         int
	minScore     float32
	indexTimeout time.Duration
	policy       retry.Policy
	logger       *logger_i.Logger
}

type Option func(*Engine)

// WithRetry bounds the retries of index queries that fail transiently.
func WithRetry(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(e *Engine) {
		e.policy.MaxAttempts = max(maxAttempts, 1)
		e.policy.BaseDelay = baseDelay
		e.policy.MaxDelay = maxDelay
	}
}

func New(embedder QueryEmbedder, index vectorDB.Index, settings config.RetrievalSettings, opts ...Option) *Engine {
	e := &Engine{
		embedder:     embedder,
		index:        index,
		topK:         settings.TopK,
		minScore:     settings.MinScore,
		indexTimeout: config.IndexTimeout,
		policy: retry.Policy{
			MaxAttempts: config.IndexMaxAttempts,
			BaseDelay:   config.IndexBaseDelay,
			MaxDelay:    config.IndexMaxDelay,
			Retryable:   ragErrors.IsTransient,
		},
		logger: logger_i.NewLogger("Retrieval"),
	}
	if e.topK <= 0 {
		e.topK = config.RetrievalTopK
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve embeds the query and searches only the project's namespace. Request fields left
// zero take the engine defaults. A hit from a different embedding model fails the whole call.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]vectorDB.Match, error) {
	const op = "retrieval.Retrieve"
	if strings.TrimSpace(req.Query) == "" {
		return nil, ragErrors.Ef(ragErrors.CodeInvalidRequest, op, nil, "The question is empty")
	}
	ns, err := vectorDB.NewNamespace(req.ProjectId)
	if err != nil {
		return nil, ragErrors.E(ragErrors.CodeInvalidRequest, op, err)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = e.topK
	}
	minScore := req.MinScore
	if minScore == 0 {
		minScore = e.minScore
	}
	log := e.logger.WithTrace(ctx).With("projectId", req.ProjectId)

	vector, err := e.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var matches []vectorDB.Match
	policy := e.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.IncrementDependencyRetries("index")
		log.Warn("Retrying index query", "attempt", attempt, "wait", wait, "code", ragErrors.CodeOf(err))
	}
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		ictx, cancel := context.WithTimeout(ctx, e.indexTimeout)
		defer cancel()
		var err error
		matches, err = e.index.Query(ictx, ns, vector, topK, req.Filter)
		return err
	})
	metrics.CaptureExecutionMetrics("vector_search", time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ragErrors.E(ragErrors.CodeCanceled, op, err)
		}
		return nil, err
	}

	model := e.embedder.Model()
	out := matches[:0]
	for _, m := range matches {
		if m.Chunk.EmbeddingModel != model {
			log.Error("Index holds chunks from another embedding model", "operator_attention", true,
				"documentId", m.Chunk.DocumentId, "indexed", m.Chunk.EmbeddingModel, "query", model)
			return nil, ragErrors.E(ragErrors.CodeEmbeddingModelMismatch, op,
				fmt.Errorf("chunk %s was embedded with %q, queries use %q", m.ChunkId, m.Chunk.EmbeddingModel, model))
		}
		if m.Score < minScore {
			continue
		}
		out = append(out, m)
	}
	log.Debug("Retrieved chunks", "hits", len(matches), "kept", len(out))
	return out, nil
}
