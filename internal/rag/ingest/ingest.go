// Package ingest turns an uploaded document into indexed chunk embeddings and owns the
// document status machine while doing so.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/chunker"
	"github.com/akolanti/GoRAG/internal/rag/content"
	"github.com/akolanti/GoRAG/internal/rag/embedding"
	"github.com/akolanti/GoRAG/internal/rag/retry"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/singleflight"
)

var logger = logger_i.NewLogger("Document Ingestion")

// Embedder is the part of embedding.Generator the pipeline needs.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) (embedding.BatchResult, error)
	Model() string
}

type Deps struct {
	Documents commonModels.DocumentStore
	Fetcher   content.Fetcher
	Chunker   *chunker.Chunker
	Embedder  Embedder
	Index     vectorDB.Index
}

type TriggerRequest struct {
	DocumentId string
	ProjectId  string
	StorageRef string
	Name       string
}

type Pipeline struct {
	docs     commonModels.DocumentStore
	fetcher  content.Fetcher
	chunker  *chunker.Chunker
	embedder Embedder
	index    vectorDB.Index

	rejectPolicy string
	runTimeout   time.Duration
	fetchTimeout time.Duration
	maxDocBytes  int64
	poolSize     int
	// fetch and index calls retry transient failures under this policy
	retryPolicy retry.Policy
	// a PROCESSING record untouched for longer belongs to a run that died with its process
	staleAfter time.Duration
	now        func() time.Time

	pool   *ants.Pool
	group  singleflight.Group
	wg     sync.WaitGroup
	closed atomic.Bool

	// background runs outlive the request that triggered them
	baseCtx    context.Context
	cancelRuns context.CancelFunc
}

type Option func(*Pipeline)

// WithRejectPolicy is config.RejectPolicyFail or config.RejectPolicyDrop.
func WithRejectPolicy(policy string) Option {
	return func(p *Pipeline) { p.rejectPolicy = policy }
}

// WithRetry bounds the retries of document fetches and index writes.
func WithRetry(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(p *Pipeline) {
		p.retryPolicy.MaxAttempts = max(maxAttempts, 1)
		p.retryPolicy.BaseDelay = baseDelay
		p.retryPolicy.MaxDelay = maxDelay
	}
}

func WithSettings(s config.IngestionSettings) Option {
	return func(p *Pipeline) {
		if s.PoolSize > 0 {
			p.poolSize = s.PoolSize
		}
		if s.RunTimeout > 0 {
			p.runTimeout = s.RunTimeout
		}
		if s.FetchTimeout > 0 {
			p.fetchTimeout = s.FetchTimeout
		}
		if s.MaxDocBytes > 0 {
			p.maxDocBytes = s.MaxDocBytes
		}
	}
}

func New(deps Deps, opts ...Option) (*Pipeline, error) {
	if deps.Documents == nil || deps.Fetcher == nil || deps.Chunker == nil || deps.Embedder == nil || deps.Index == nil {
		return nil, errors.New("ingest: every dependency is required")
	}
	p := &Pipeline{
		docs:         deps.Documents,
		fetcher:      deps.Fetcher,
		chunker:      deps.Chunker,
		embedder:     deps.Embedder,
		index:        deps.Index,
		rejectPolicy: config.RejectPolicyFail,
		runTimeout:   config.IngestionRunTimeout,
		fetchTimeout: config.ContentFetchTimeout,
		maxDocBytes:  config.MaxDocumentSize,
		poolSize:     config.IngestionPoolSize,
		retryPolicy: retry.Policy{
			MaxAttempts: config.IndexMaxAttempts,
			BaseDelay:   config.IndexBaseDelay,
			MaxDelay:    config.IndexMaxDelay,
			Retryable:   ragErrors.IsTransient,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.staleAfter = p.runTimeout + config.StaleRunGrace
	switch p.rejectPolicy {
	case config.RejectPolicyFail, config.RejectPolicyDrop:
	default:
		return nil, fmt.Errorf("ingest: unknown rejected chunk policy %q", p.rejectPolicy)
	}

	pool, err := ants.NewPool(p.poolSize,
		ants.WithMaxBlockingTasks(config.BufferLimit),
		ants.WithPanicHandler(func(r any) {
			logger.Error("Ingestion run panicked", "panic", r, "operator_attention", true)
		}),
		ants.WithLogger(antsLogger{}),
	)
	if err != nil {
		return nil, fmt.Errorf("ingest: create pool: %w", err)
	}
	p.pool = pool
	p.baseCtx, p.cancelRuns = context.WithCancel(context.Background())
	logger.Info("Ingestion pipeline ready", "poolSize", p.poolSize, "chunkSize", p.chunker.Size(),
		"chunkOverlap", p.chunker.Overlap(), "rejectPolicy", p.rejectPolicy, "model", p.embedder.Model())
	return p, nil
}

// Trigger records the document as UPLOADED when it is new and schedules its first run.
// Re-delivered triggers for a document that already left UPLOADED are no-ops.
func (p *Pipeline) Trigger(ctx context.Context, req TriggerRequest) (commonModels.Document, error) {
	const op = "ingest.Trigger"
	if req.ProjectId == "" || req.DocumentId == "" || req.StorageRef == "" {
		return commonModels.Document{}, ragErrors.Ef(ragErrors.CodeInvalidRequest, op, nil,
			"document_id, project_id and storage_reference are required")
	}
	name := req.Name
	if name == "" {
		name = path.Base(req.StorageRef)
	}
	now := time.Now().UTC()
	err := p.docs.CreateDocument(ctx, commonModels.Document{
		Id:         req.DocumentId,
		ProjectId:  req.ProjectId,
		Name:       name,
		StorageRef: req.StorageRef,
		Status:     commonModels.StatusUploaded,
		UploadedAt: now,
		UpdatedAt:  now,
	})
	if err != nil {
		return commonModels.Document{}, ragErrors.E(ragErrors.CodeInternal, op, err)
	}

	doc, err := p.get(ctx, req.ProjectId, req.DocumentId)
	if err != nil {
		return doc, err
	}
	switch doc.Status {
	case commonModels.StatusUploaded:
		return doc, p.submit(ctx, doc, commonModels.StatusUploaded)
	case commonModels.StatusProcessing:
		var reclaimed bool
		if doc, reclaimed, err = p.reclaimStale(ctx, doc); err != nil {
			return doc, err
		}
		if reclaimed {
			return doc, p.submit(ctx, doc, commonModels.StatusFailed)
		}
		return doc, ragErrors.E(ragErrors.CodeIngestionInProgress, op, nil)
	default:
		logger.WithTrace(ctx).Info("Duplicate trigger ignored", "documentId", doc.Id, "status", doc.Status)
		return doc, nil
	}
}

// Retry re-runs a FAILED document.
func (p *Pipeline) Retry(ctx context.Context, projectId, documentId string) (commonModels.Document, error) {
	return p.operatorRun(ctx, projectId, documentId, commonModels.StatusFailed)
}

// Reindex rebuilds the chunks of an INDEXED document, for example after a model change.
func (p *Pipeline) Reindex(ctx context.Context, projectId, documentId string) (commonModels.Document, error) {
	return p.operatorRun(ctx, projectId, documentId, commonModels.StatusIndexed)
}

func (p *Pipeline) operatorRun(ctx context.Context, projectId, documentId string, from commonModels.DocStatus) (commonModels.Document, error) {
	doc, err := p.get(ctx, projectId, documentId)
	if err != nil {
		return doc, err
	}
	switch doc.Status {
	case from:
		return doc, p.submit(ctx, doc, from)
	case commonModels.StatusProcessing:
		var reclaimed bool
		if doc, reclaimed, err = p.reclaimStale(ctx, doc); err != nil {
			return doc, err
		}
		if reclaimed {
			return doc, p.submit(ctx, doc, commonModels.StatusFailed)
		}
		return doc, ragErrors.E(ragErrors.CodeIngestionInProgress, "ingest.operatorRun", nil)
	default:
		return doc, ragErrors.Ef(ragErrors.CodeInvalidTransition, "ingest.operatorRun", nil,
			"The document is %s and cannot be processed from %s", doc.Status, from)
	}
}

// Run processes the document synchronously. Concurrent calls for one document share a
// single run; across processes the status compare-and-set admits one.
func (p *Pipeline) Run(ctx context.Context, projectId, documentId string, from ...commonModels.DocStatus) (commonModels.Document, error) {
	key := projectId + "/" + documentId
	v, err, shared := p.group.Do(key, func() (interface{}, error) {
		return p.runOnce(ctx, projectId, documentId, from)
	})
	if shared {
		logger.WithTrace(ctx).Debug("Joined in-flight ingestion run", "documentId", documentId)
	}
	doc, _ := v.(commonModels.Document)
	return doc, err
}

// DeleteDocument removes the document's chunks, then its record.
func (p *Pipeline) DeleteDocument(ctx context.Context, projectId, documentId string) error {
	const op = "ingest.DeleteDocument"
	doc, err := p.get(ctx, projectId, documentId)
	if err != nil {
		return err
	}
	if doc, _, err = p.reclaimStale(ctx, doc); err != nil {
		return err
	}
	if doc.Status == commonModels.StatusProcessing {
		return ragErrors.E(ragErrors.CodeIngestionInProgress, op, nil)
	}
	ns, err := vectorDB.NewNamespace(projectId)
	if err != nil {
		return ragErrors.E(ragErrors.CodeInvalidRequest, op, err)
	}
	ictx, cancel := context.WithTimeout(ctx, config.IndexTimeout)
	defer cancel()
	if err := p.index.DeleteByDocument(ictx, ns, documentId); err != nil {
		return err
	}
	if err := p.docs.DeleteDocument(ctx, projectId, documentId); err != nil {
		return ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	logger.WithTrace(ctx).Info("Document deleted", "projectId", projectId, "documentId", documentId)
	return nil
}

// RecoverInterrupted fails every PROCESSING document of the project whose run can no longer be
// alive, so it can be retried or deleted. It returns how many documents it recovered.
func (p *Pipeline) RecoverInterrupted(ctx context.Context, projectId string) (int, error) {
	docs, err := p.docs.ListDocuments(ctx, projectId)
	if err != nil {
		return 0, ragErrors.E(ragErrors.CodeInternal, "ingest.RecoverInterrupted", err)
	}
	recovered := 0
	for _, doc := range docs {
		_, reclaimed, err := p.reclaimStale(ctx, doc)
		if err != nil {
			return recovered, err
		}
		if reclaimed {
			recovered++
		}
	}
	return recovered, nil
}

// Close stops accepting runs and waits up to timeout for in-flight ones. Runs still going
// after that are cancelled and end FAILED with CANCELED.
func (p *Pipeline) Close(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	logger.Info("Draining ingestion runs", "running", p.pool.Running())

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("ingest: drain timed out, cancelling remaining runs")
		p.cancelRuns()
		<-done
	}
	p.cancelRuns()
	p.pool.Release()
	logger.Info("Ingestion pipeline closed")
	return err
}

func (p *Pipeline) submit(ctx context.Context, doc commonModels.Document, from commonModels.DocStatus) error {
	const op = "ingest.submit"
	if p.closed.Load() {
		return ragErrors.Ef(ragErrors.CodeInternal, op, ants.ErrPoolClosed, "The service is shutting down")
	}
	trace, _ := ctx.Value(config.TRACE_ID_KEY).(string)

	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		runCtx := context.WithValue(p.baseCtx, config.TRACE_ID_KEY, trace)
		runCtx, cancel := context.WithTimeout(runCtx, p.runTimeout)
		defer cancel()
		_, _ = p.Run(runCtx, doc.ProjectId, doc.Id, from)
	})
	if err != nil {
		p.wg.Done()
		logger.WithTrace(ctx).Error("Could not schedule ingestion", "documentId", doc.Id, "error", err)
		return ragErrors.Ef(ragErrors.CodeInternal, op, err, "The ingestion queue is full, try again later")
	}
	logger.WithTrace(ctx).Debug("Ingestion scheduled", "documentId", doc.Id, "from", from)
	return nil
}

func (p *Pipeline) get(ctx context.Context, projectId, documentId string) (commonModels.Document, error) {
	doc, found, err := p.docs.GetDocument(ctx, projectId, documentId)
	if err != nil {
		return doc, ragErrors.E(ragErrors.CodeInternal, "ingest.get", err)
	}
	if !found {
		return doc, ragErrors.E(ragErrors.CodeDocumentNotFound, "ingest.get", nil)
	}
	return doc, nil
}

type antsLogger struct{}

func (antsLogger) Printf(format string, args ...any) {
	logger.Warn(fmt.Sprintf(format, args...))
}
