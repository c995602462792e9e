package vectorDB

import (
	"context"
	"testing"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNamespace(t *testing.T) {
	_, err := NewNamespace("")
	assert.ErrorIs(t, err, ErrInvalidNamespace)

	ns, err := NewNamespace("p1")
	require.NoError(t, err)
	assert.False(t, ns.IsZero())
	assert.Equal(t, "p1", ns.String())
	assert.ErrorIs(t, Namespace{}.Validate(), ErrInvalidNamespace)
}

func TestChunkID_Deterministic(t *testing.T) {
	p1, _ := NewNamespace("p1")
	p2, _ := NewNamespace("p2")

	assert.Equal(t, ChunkID(p1, "d", "g", 0), ChunkID(p1, "d", "g", 0))
	assert.NotEqual(t, ChunkID(p1, "d", "g", 0), ChunkID(p2, "d", "g", 0))
	assert.NotEqual(t, ChunkID(p1, "d", "g", 0), ChunkID(p1, "d", "g", 1))
	assert.NotEqual(t, ChunkID(p1, "d", "g1", 0), ChunkID(p1, "d", "g2", 0))
}

func TestSortMatches(t *testing.T) {
	m := []Match{
		{Score: 0.5, Chunk: commonModels.DocChunk{DocumentId: "b", Ordinal: 1}},
		{Score: 0.9, Chunk: commonModels.DocChunk{DocumentId: "z", Ordinal: 9}},
		{Score: 0.5, Chunk: commonModels.DocChunk{DocumentId: "a", Ordinal: 1}},
		{Score: 0.5, Chunk: commonModels.DocChunk{DocumentId: "c", Ordinal: 0}},
	}
	SortMatches(m)

	var order []string
	for _, x := range m {
		order = append(order, x.Chunk.DocumentId)
	}
	assert.Equal(t, []string{"z", "c", "a", "b"}, order)
}

func TestCheckOwnership(t *testing.T) {
	ns, _ := NewNamespace("p1")
	assert.NoError(t, CheckOwnership(ns, []commonModels.DocChunk{{ProjectId: "p1"}}))
	assert.Error(t, CheckOwnership(ns, []commonModels.DocChunk{{ProjectId: "p1"}, {ProjectId: "p2"}}))
}

func TestMemoryGenerations(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryGenerations()
	p1, _ := NewNamespace("p1")
	p2, _ := NewNamespace("p2")

	require.NoError(t, reg.SetActive(ctx, p1, "d1", "g1"))
	require.NoError(t, reg.SetActive(ctx, p1, "d1", "g2"))
	require.NoError(t, reg.SetActive(ctx, p2, "d1", "other"))

	active, err := reg.ActiveAll(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"d1": "g2"}, active)

	require.NoError(t, reg.Remove(ctx, p1, "d1"))
	active, _ = reg.ActiveAll(ctx, p1)
	assert.Empty(t, active)

	require.NoError(t, reg.Purge(ctx, p2))
	active, _ = reg.ActiveAll(ctx, p2)
	assert.Empty(t, active)
}
