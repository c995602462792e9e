// Package memoryDB is a brute-force cosine index kept in process memory.
// It serves as the fallback when Qdrant is unavailable and as the index in tests.
package memoryDB

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
)

type Index struct {
	mu sync.RWMutex
	// project -> document -> chunks
	docs map[string]map[string][]commonModels.DocChunk
}

func New() *Index {
	return &Index{docs: make(map[string]map[string][]commonModels.DocChunk)}
}

func (ix *Index) Upsert(_ context.Context, ns vectorDB.Namespace, chunks []commonModels.DocChunk) error {
	const op = "memoryDB.Upsert"
	if err := ns.Validate(); err != nil {
		return ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	if err := vectorDB.CheckOwnership(ns, chunks); err != nil {
		return ragErrors.E(ragErrors.CodeIntegrityViolation, op, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	project := ix.project(ns)
	for _, c := range chunks {
		existing := project[c.DocumentId]
		replaced := false
		for i := range existing {
			if existing[i].Id == c.Id {
				existing[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			project[c.DocumentId] = append(existing, c)
		}
	}
	return nil
}

func (ix *Index) DeleteByDocument(_ context.Context, ns vectorDB.Namespace, documentId string) error {
	if err := ns.Validate(); err != nil {
		return ragErrors.E(ragErrors.CodeInternal, "memoryDB.DeleteByDocument", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.docs[ns.Project()], documentId)
	return nil
}

// ReplaceDocument swaps the document's slice under the write lock.
func (ix *Index) ReplaceDocument(_ context.Context, ns vectorDB.Namespace, documentId string, chunks []commonModels.DocChunk) error {
	const op = "memoryDB.ReplaceDocument"
	if err := ns.Validate(); err != nil {
		return ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	if err := vectorDB.CheckOwnership(ns, chunks); err != nil {
		return ragErrors.E(ragErrors.CodeIntegrityViolation, op, err)
	}
	for _, c := range chunks {
		if c.DocumentId != documentId {
			return ragErrors.E(ragErrors.CodeIntegrityViolation, op,
				fmt.Errorf("chunk %s belongs to document %s", c.Id, c.DocumentId))
		}
	}

	fresh := make([]commonModels.DocChunk, len(chunks))
	copy(fresh, chunks)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(fresh) == 0 {
		delete(ix.docs[ns.Project()], documentId)
		return nil
	}
	ix.project(ns)[documentId] = fresh
	return nil
}

func (ix *Index) Query(ctx context.Context, ns vectorDB.Namespace, vector []float32, topK int, filter *vectorDB.Filter) ([]vectorDB.Match, error) {
	if err := ns.Validate(); err != nil {
		return nil, ragErrors.E(ragErrors.CodeInternal, "memoryDB.Query", err)
	}
	if topK <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	var matches []vectorDB.Match
	for docId, chunks := range ix.docs[ns.Project()] {
		if !filter.Allows(docId) {
			continue
		}
		for _, c := range chunks {
			matches = append(matches, vectorDB.Match{ChunkId: c.Id, Score: cosine(vector, c.Vector), Chunk: c})
		}
	}
	ix.mu.RUnlock()

	vectorDB.SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (ix *Index) PurgeNamespace(_ context.Context, ns vectorDB.Namespace) error {
	if err := ns.Validate(); err != nil {
		return ragErrors.E(ragErrors.CodeInternal, "memoryDB.PurgeNamespace", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.docs, ns.Project())
	return nil
}

// caller holds the write lock
func (ix *Index) project(ns vectorDB.Namespace) map[string][]commonModels.DocChunk {
	p, ok := ix.docs[ns.Project()]
	if !ok {
		p = make(map[string][]commonModels.DocChunk)
		ix.docs[ns.Project()] = p
	}
	return p
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
