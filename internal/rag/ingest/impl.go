package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/metrics"
	"github.com/akolanti/GoRAG/internal/rag/chunker"
	"github.com/akolanti/GoRAG/internal/rag/retry"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/pkg/logger_i"
)

const (
	outcomeIndexed = "indexed"
	outcomeFailed  = "failed"
)

// run carries the state of one ingestion attempt between steps.
// indexTouched is set once the swap starts, after which a partial write may be visible.
type run struct {
	doc          commonModels.Document
	ns           vectorDB.Namespace
	generation   string
	wasIndexed   bool
	indexTouched bool
	docType      commonModels.DocType
	log          *logger_i.Logger
}

func (p *Pipeline) runOnce(ctx context.Context, projectId, documentId string, from []commonModels.DocStatus) (commonModels.Document, error) {
	const op = "ingest.Run"
	if len(from) == 0 {
		from = []commonModels.DocStatus{commonModels.StatusUploaded}
	}
	log := logger.WithTrace(ctx).With("projectId", projectId, "documentId", documentId)
	// the lease on the PROCESSING record assumes no run outlives runTimeout
	ctx, cancel := context.WithTimeout(ctx, p.runTimeout)
	defer cancel()

	ns, err := vectorDB.NewNamespace(projectId)
	if err != nil {
		return commonModels.Document{}, ragErrors.E(ragErrors.CodeInvalidRequest, op, err)
	}

	var previous commonModels.DocStatus
	doc, err := p.docs.Transition(ctx, projectId, documentId, from, commonModels.StatusProcessing, func(d *commonModels.Document) {
		previous = d.Status
		d.Attempts++
		d.FailureCode = ""
		d.FailureReason = ""
	})
	if err != nil {
		if ragErrors.CodeOf(err) == ragErrors.CodeInvalidTransition && doc.Status == commonModels.StatusProcessing {
			return doc, ragErrors.E(ragErrors.CodeIngestionInProgress, op, err)
		}
		return doc, err
	}

	metrics.IncrementActiveIngestions()
	defer metrics.DecrementActiveIngestions()
	start := time.Now()
	defer func() { metrics.CaptureJobMetrics("ingestion", time.Since(start)) }()

	generation := vectorDB.NewGeneration()
	r := &run{
		doc:        doc,
		ns:         ns,
		generation: generation,
		wasIndexed: previous == commonModels.StatusIndexed,
		log:        log.With("attempt", doc.Attempts, "generation", generation),
	}
	r.log.Info("Ingestion started", "from", previous)

	chunks, err := p.process(ctx, r)
	if err != nil {
		return p.fail(ctx, r, err, r.wasIndexed || r.indexTouched)
	}

	final, err := p.docs.Transition(ctx, projectId, documentId,
		[]commonModels.DocStatus{commonModels.StatusProcessing}, commonModels.StatusIndexed,
		func(d *commonModels.Document) {
			d.ChunkCount = len(chunks)
			d.ContentType = r.docType
			d.IndexedAt = time.Now().UTC()
		})
	if err != nil {
		// the new chunks are live but the record does not say so
		return p.fail(ctx, r, ragErrors.E(ragErrors.CodeIntegrityViolation, op, err), true)
	}

	metrics.CaptureIngestionRun(outcomeIndexed)
	r.log.Info("Ingestion complete", "chunks", len(chunks), "elapsed", time.Since(start))
	return final, nil
}

// process runs fetch, extract, chunk, embed and swap. Each step stops the run on failure.
func (p *Pipeline) process(ctx context.Context, r *run) ([]commonModels.DocChunk, error) {
	data, err := p.executeFetchStep(ctx, r)
	if err != nil {
		return nil, err
	}
	pages, err := p.executeExtractStep(ctx, r, data)
	if err != nil {
		return nil, err
	}
	chunks, err := p.executeChunkStep(r, pages)
	if err != nil {
		return nil, err
	}
	chunks, err = p.executeEmbeddingStep(ctx, r, chunks)
	if err != nil {
		return nil, err
	}
	if err := p.executeIndexStep(ctx, r, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (p *Pipeline) executeFetchStep(ctx context.Context, r *run) ([]byte, error) {
	const op = "ingest.fetch"
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("content_fetch", time.Since(start)) }()

	var data []byte
	policy := p.retryPolicy
	policy.MaxAttempts = min(policy.MaxAttempts, config.ContentFetchAttempts)
	err := p.withRetry(ctx, r, "content", policy, func(ctx context.Context) error {
		var err error
		data, err = p.fetchOnce(ctx, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > p.maxDocBytes {
		return nil, ragErrors.Ef(ragErrors.CodeInvalidRequest, op, nil,
			"The document exceeds the %d byte limit", p.maxDocBytes)
	}
	r.log.Debug("Fetched content", "bytes", len(data))
	return data, nil
}

// fetchOnce reads the whole object under one attempt's timeout.
func (p *Pipeline) fetchOnce(ctx context.Context, r *run) ([]byte, error) {
	const op = "ingest.fetch"
	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	rc, err := p.fetcher.Fetch(fctx, r.doc.StorageRef)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, p.maxDocBytes+1))
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ragErrors.E(ragErrors.CodeCanceled, op, err)
		}
		return nil, ragErrors.E(ragErrors.CodeContentUnavailable, op, err)
	}
	return data, nil
}

func (p *Pipeline) executeExtractStep(ctx context.Context, r *run, data []byte) ([]rawPage, error) {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("text_extraction", time.Since(start)) }()

	name := r.doc.Name
	if name == "" {
		name = r.doc.StorageRef
	}
	r.docType = getDocType(name, data)
	r.log.Debug("Extracting text", "type", r.docType)
	return extractText(ctx, data, r.docType)
}

func (p *Pipeline) executeChunkStep(r *run, pages []rawPage) ([]commonModels.DocChunk, error) {
	chunks, err := prepareChunks(p.chunker, r.ns, r.doc, r.generation, p.embedder.Model(), pages)
	if err != nil {
		return nil, err
	}
	r.log.Debug("Chunked document", "pages", len(pages), "chunks", len(chunks))
	return chunks, nil
}

func (p *Pipeline) executeEmbeddingStep(ctx context.Context, r *run, chunks []commonModels.DocChunk) ([]commonModels.DocChunk, error) {
	const op = "ingest.embed"
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("embedding", time.Since(start)) }()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	result, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}

	rejected := make(map[int]bool, len(result.Rejected))
	for _, rej := range result.Rejected {
		rejected[rej.Index] = true
		r.log.Warn("Chunk rejected by embedding service",
			"code", ragErrors.CodeOf(rej.Err), "ordinal", rej.Index, "page", chunks[rej.Index].PageNum,
			"policy", p.rejectPolicy, "error", rej.Err)
	}
	if len(rejected) > 0 && p.rejectPolicy == config.RejectPolicyFail {
		return nil, ragErrors.Ef(ragErrors.CodeChunkRejected, op, result.Rejected[0].Err,
			"%d part(s) of the document were rejected by the embedding service", len(rejected))
	}

	kept := make([]commonModels.DocChunk, 0, len(chunks)-len(rejected))
	for i, c := range chunks {
		if rejected[i] {
			continue
		}
		c.Vector = result.Vectors[i]
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, ragErrors.Ef(ragErrors.CodeChunkRejected, op, nil, "Every part of the document was rejected by the embedding service")
	}
	if len(rejected) > 0 {
		renumber(r.ns, kept)
	}
	return kept, nil
}

func (p *Pipeline) executeIndexStep(ctx context.Context, r *run, chunks []commonModels.DocChunk) error {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("vector_upsert", time.Since(start)) }()

	r.indexTouched = true
	// chunk ids are fixed by the generation, so a repeated swap rewrites the same points
	return p.withRetry(ctx, r, "index", p.retryPolicy, func(ctx context.Context) error {
		ictx, cancel := context.WithTimeout(ctx, config.IndexTimeout)
		defer cancel()
		return p.index.ReplaceDocument(ictx, r.ns, r.doc.Id, chunks)
	})
}

// withRetry retries transient failures of a dependency call. When the run itself ends
// first the step fails with CANCELED.
func (p *Pipeline) withRetry(ctx context.Context, r *run, dependency string, policy retry.Policy, call func(ctx context.Context) error) error {
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.IncrementDependencyRetries(dependency)
		r.log.Warn("Retrying after transient failure", "dependency", dependency,
			"attempt", attempt, "wait", wait, "code", ragErrors.CodeOf(err))
	}
	err := retry.Do(ctx, policy, call)
	if err != nil && ctx.Err() != nil {
		return ragErrors.E(ragErrors.CodeCanceled, "ingest."+dependency, err)
	}
	return err
}

// reclaimStale fails a PROCESSING record whose run cannot still be alive. Runs are bounded by
// runTimeout, so a record older than staleAfter was left by a process that stopped mid-run.
// Chunks that run may have written are removed first.
func (p *Pipeline) reclaimStale(ctx context.Context, doc commonModels.Document) (commonModels.Document, bool, error) {
	const op = "ingest.reclaim"
	if doc.Status != commonModels.StatusProcessing || p.now().Sub(doc.UpdatedAt) < p.staleAfter {
		return doc, false, nil
	}
	log := logger.WithTrace(ctx).With("projectId", doc.ProjectId, "documentId", doc.Id)
	ns, err := vectorDB.NewNamespace(doc.ProjectId)
	if err != nil {
		return doc, false, ragErrors.E(ragErrors.CodeInvalidRequest, op, err)
	}

	ictx, cancel := context.WithTimeout(ctx, config.IndexTimeout)
	defer cancel()
	if err := p.index.DeleteByDocument(ictx, ns, doc.Id); err != nil {
		return doc, false, err
	}

	interrupted := ragErrors.Ef(ragErrors.CodeCanceled, op, nil, "The ingestion run was interrupted before it finished")
	failed, err := p.docs.Transition(ctx, doc.ProjectId, doc.Id,
		[]commonModels.DocStatus{commonModels.StatusProcessing}, commonModels.StatusFailed,
		func(d *commonModels.Document) {
			d.FailureCode = string(ragErrors.CodeCanceled)
			d.FailureReason = ragErrors.PublicMessage(interrupted)
			d.ChunkCount = 0
		})
	if err != nil {
		switch ragErrors.CodeOf(err) {
		case ragErrors.CodeInvalidTransition:
			// another caller got there first
			return failed, failed.Status == commonModels.StatusFailed, nil
		case ragErrors.CodeDocumentNotFound:
			return doc, false, err
		}
		return doc, false, ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	log.Warn("Recovered interrupted ingestion run", "lastUpdate", doc.UpdatedAt, "attempts", doc.Attempts)
	metrics.CaptureIngestionRun(outcomeFailed)
	return failed, true, nil
}

// fail records FAILED on a context detached from cancellation. removeChunks is set when the
// index may hold chunks for a document that will no longer be INDEXED.
func (p *Pipeline) fail(ctx context.Context, r *run, cause error, removeChunks bool) (commonModels.Document, error) {
	code := ragErrors.CodeOf(cause)
	if code == ragErrors.CodeInternal && errors.Is(cause, context.DeadlineExceeded) {
		cause = ragErrors.E(ragErrors.CodeCanceled, "ingest.Run", fmt.Errorf("run timed out: %w", cause))
		code = ragErrors.CodeCanceled
	}

	log := r.log.With("code", code, "error", cause)
	if ragErrors.IsKind(cause, ragErrors.KindIntegrity) {
		log.Error("Ingestion integrity failure", "operator_attention", true)
	} else {
		log.Error("Ingestion failed")
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.IndexTimeout)
	defer cancel()

	if removeChunks {
		if err := p.index.DeleteByDocument(dctx, r.ns, r.doc.Id); err != nil {
			log.Error("Could not remove chunks of failed document", "operator_attention", true, "cleanupError", err)
		}
	}

	doc, err := p.docs.Transition(dctx, r.doc.ProjectId, r.doc.Id,
		[]commonModels.DocStatus{commonModels.StatusProcessing}, commonModels.StatusFailed,
		func(d *commonModels.Document) {
			d.FailureCode = string(code)
			d.FailureReason = ragErrors.PublicMessage(cause)
			d.ChunkCount = 0
		})
	if err != nil {
		log.Error("Could not record failure", "operator_attention", true, "statusError", err)
		doc = r.doc
	}
	metrics.CaptureIngestionRun(outcomeFailed)
	return doc, cause
}

// prepareChunks splits every page and numbers chunks across the whole document.
func prepareChunks(c *chunker.Chunker, ns vectorDB.Namespace, doc commonModels.Document, generation, model string, pages []rawPage) ([]commonModels.DocChunk, error) {
	var chunks []commonModels.DocChunk
	for _, page := range pages {
		spans, err := c.Split(page.Content)
		if errors.Is(err, chunker.ErrEmptyDocument) {
			continue
		}
		if err != nil {
			return nil, ragErrors.E(ragErrors.CodeInternal, "ingest.chunk", err)
		}
		for _, s := range spans {
			ordinal := len(chunks)
			chunks = append(chunks, commonModels.DocChunk{
				Id:             vectorDB.ChunkID(ns, doc.Id, generation, ordinal),
				DocumentId:     doc.Id,
				ProjectId:      ns.Project(),
				Ordinal:        ordinal,
				Text:           s.Text,
				PageNum:        page.Number,
				Generation:     generation,
				EmbeddingModel: model,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, ragErrors.E(ragErrors.CodeEmptyDocument, "ingest.chunk", nil)
	}
	return chunks, nil
}

// renumber closes ordinal gaps left by dropped chunks.
func renumber(ns vectorDB.Namespace, chunks []commonModels.DocChunk) {
	for i := range chunks {
		chunks[i].Ordinal = i
		chunks[i].Id = vectorDB.ChunkID(ns, chunks[i].DocumentId, chunks[i].Generation, i)
	}
}
