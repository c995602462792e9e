package vectorDB

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/google/uuid"
)

var ErrInvalidNamespace = errors.New("vectorDB: invalid namespace")

// Namespace scopes every index operation to one project. The zero value is rejected,
// so a value can only come from NewNamespace.
type Namespace struct {
	project string
}

func NewNamespace(projectId string) (Namespace, error) {
	if projectId == "" {
		return Namespace{}, ErrInvalidNamespace
	}
	return Namespace{project: projectId}, nil
}

func (n Namespace) IsZero() bool    { return n.project == "" }
func (n Namespace) String() string  { return n.project }
func (n Namespace) Project() string { return n.project }

// Validate returns ErrInvalidNamespace for the zero value.
func (n Namespace) Validate() error {
	if n.IsZero() {
		return ErrInvalidNamespace
	}
	return nil
}

type Match struct {
	ChunkId string
	Score   float32
	Chunk   commonModels.DocChunk
}

// Filter narrows a query inside a namespace. Empty fields do not filter.
type Filter struct {
	DocumentIds []string
}

// Allows reports whether a chunk of documentId passes the filter.
func (f *Filter) Allows(documentId string) bool {
	if f == nil || len(f.DocumentIds) == 0 {
		return true
	}
	for _, id := range f.DocumentIds {
		if id == documentId {
			return true
		}
	}
	return false
}

// Index is the project-partitioned vector store. Every call is confined to ns.
type Index interface {
	Upsert(ctx context.Context, ns Namespace, chunks []commonModels.DocChunk) error
	// DeleteByDocument is idempotent.
	DeleteByDocument(ctx context.Context, ns Namespace, documentId string) error
	// Query returns at most topK matches ordered by SortMatches.
	Query(ctx context.Context, ns Namespace, vector []float32, topK int, filter *Filter) ([]Match, error)
	// ReplaceDocument swaps the document's chunk set; readers see either the old or the new set.
	ReplaceDocument(ctx context.Context, ns Namespace, documentId string, chunks []commonModels.DocChunk) error
	PurgeNamespace(ctx context.Context, ns Namespace) error
}

// SortMatches orders by score descending, then chunk ordinal, then document id.
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Ordinal != b.Chunk.Ordinal {
			return a.Chunk.Ordinal < b.Chunk.Ordinal
		}
		return a.Chunk.DocumentId < b.Chunk.DocumentId
	})
}

// ChunkID is the deterministic point id for a chunk, so re-upserting a generation is idempotent.
func ChunkID(ns Namespace, documentId, generation string, ordinal int) string {
	name := fmt.Sprintf("%s|%s|%s|%d", ns.project, documentId, generation, ordinal)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func NewGeneration() string {
	return uuid.NewString()
}

// CheckOwnership rejects chunks that do not belong to ns.
func CheckOwnership(ns Namespace, chunks []commonModels.DocChunk) error {
	for _, c := range chunks {
		if c.ProjectId != ns.project {
			return fmt.Errorf("chunk %s belongs to project %q, not %q", c.Id, c.ProjectId, ns.project)
		}
	}
	return nil
}
